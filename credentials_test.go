package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLocalKey(t *testing.T) {
	f := &HTTPCredentialFetcher{}
	creds, err := f.Fetch(context.Background(), CredentialSource{LocalKey: " sk-local ", ServerBase: "http://unused"})
	require.NoError(t, err)
	assert.Equal(t, Credentials{Secret: "sk-local", Model: DefaultModel, Endpoint: DefaultEndpoint}, creds)
}

func TestFetchEphemeral(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Credentials
	}{
		{
			"string secret",
			`{"client_secret":"ek_1"}`,
			Credentials{Secret: "ek_1", Model: DefaultModel, Endpoint: DefaultEndpoint},
		},
		{
			"object secret with overrides",
			`{"client_secret":{"value":"ek_2","expires_at":1},"model":"gpt-realtime-mini","endpoint":"https://example.test/calls"}`,
			Credentials{Secret: "ek_2", Model: "gpt-realtime-mini", Endpoint: "https://example.test/calls"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/ephemeral", r.URL.Path)
				assert.Equal(t, http.MethodGet, r.Method)
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			f := &HTTPCredentialFetcher{}
			creds, err := f.Fetch(context.Background(), CredentialSource{ServerBase: srv.URL + "/"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, creds)
		})
	}
}

func TestFetchEphemeralErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"not json", http.StatusOK, `<html>`},
		{"no secret", http.StatusOK, `{"model":"gpt-realtime"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := (&HTTPCredentialFetcher{}).Fetch(context.Background(), CredentialSource{ServerBase: srv.URL})
			assert.ErrorIs(t, err, shared.ErrCredentials)
		})
	}
}

func TestFetchWithoutSource(t *testing.T) {
	_, err := (&HTTPCredentialFetcher{}).Fetch(context.Background(), CredentialSource{})
	assert.ErrorIs(t, err, shared.ErrCredentials)
}

func TestFetchHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-block }))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := (&HTTPCredentialFetcher{}).Fetch(ctx, CredentialSource{ServerBase: srv.URL})
	assert.ErrorIs(t, err, shared.ErrCredentials)
}
