package actions

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestDesktop(url string) *DesktopClient {
	c := NewDesktopClient(shared.NewNopLogger(), url, &fasthttp.Client{})
	c.Backoff = time.Millisecond
	return c
}

func TestDesktopClientRun(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/desktop", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, `{"message":"Opened folder: ~/Downloads"}`)
	}))
	defer srv.Close()

	msg, err := newTestDesktop(srv.URL+"/").Run(context.Background(), DesktopCommand{Type: CommandOpenFolder, Param: "~/Downloads"})
	require.NoError(t, err)
	assert.Equal(t, "Opened folder: ~/Downloads", msg)
	assert.JSONEq(t, `{"type":"openFolder","param":"~/Downloads"}`, body)
}

func TestDesktopClientEmptyMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	msg, err := newTestDesktop(srv.URL).Run(context.Background(), DesktopCommand{Type: CommandListFiles})
	require.NoError(t, err)
	assert.Equal(t, "Done", msg)
}

func TestDesktopClientRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Unknown command type"}`)
	}))
	defer srv.Close()

	_, err := newTestDesktop(srv.URL).Run(context.Background(), DesktopCommand{Type: "bogus"})
	require.EqualError(t, err, "Unknown command type")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDesktopClientStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestDesktop(srv.URL).Run(context.Background(), DesktopCommand{Type: CommandRunApp, Param: "Safari"})
	assert.ErrorContains(t, err, "status 500")
}

func TestDesktopClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestDesktop(url)
	_, err := c.Run(context.Background(), DesktopCommand{Type: CommandRunApp, Param: "Safari"})
	assert.ErrorIs(t, err, ErrDesktopUnavailable)
}
