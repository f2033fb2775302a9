package shared

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

type httpResult struct {
	status int
	body   []byte
	err    error
}

// DoHTTP performs the request prepared by build and waits for it or for
// ctx. Request and response objects are owned by the worker goroutine so an
// abandoned call cannot release them while fasthttp still uses them.
func DoHTTP(ctx context.Context, client *fasthttp.Client, build func(req *fasthttp.Request)) (int, []byte, error) {
	return doHTTP(ctx, client, build, func(c *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
		if dl, ok := ctx.Deadline(); ok {
			return c.DoDeadline(req, resp, dl)
		}
		return c.Do(req, resp)
	})
}

// DoHTTPRedirects is DoHTTP for GET requests that follow up to
// maxRedirects redirects.
func DoHTTPRedirects(ctx context.Context, client *fasthttp.Client, maxRedirects int, build func(req *fasthttp.Request)) (int, []byte, error) {
	return doHTTP(ctx, client, build, func(c *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
		return c.DoRedirects(req, resp, maxRedirects)
	})
}

func doHTTP(
	ctx context.Context,
	client *fasthttp.Client,
	build func(req *fasthttp.Request),
	do func(c *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error,
) (int, []byte, error) {
	if client == nil {
		client = DefaultHTTPClient
	}
	resC := make(chan httpResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		build(req)
		if err := do(client, req, resp); err != nil {
			resC <- httpResult{err: err}
			return
		}
		resC <- httpResult{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
	}()
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-resC:
		return r.status, r.body, r.err
	}
}

var DefaultHTTPClient = &fasthttp.Client{
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 30 * time.Second,
}

// Truncate shortens a response body for error messages.
func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
