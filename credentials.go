package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

const (
	DefaultModel    = "gpt-realtime"
	DefaultEndpoint = "https://api.openai.com/v1/realtime/calls"
)

// HTTPCredentialFetcher gets an ephemeral client secret from the
// companion server, or passes a local API key straight through.
type HTTPCredentialFetcher struct {
	Client *fasthttp.Client
	// Model and Endpoint are used when the server leaves them out and for
	// local keys.
	Model    string
	Endpoint string
}

var _ CredentialFetcher = (*HTTPCredentialFetcher)(nil)

func (f *HTTPCredentialFetcher) Fetch(ctx context.Context, src CredentialSource) (Credentials, error) {
	model, endpoint := f.Model, f.Endpoint
	if model == "" {
		model = DefaultModel
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if key := strings.TrimSpace(src.LocalKey); key != "" {
		return Credentials{Secret: key, Model: model, Endpoint: endpoint}, nil
	}
	base := strings.TrimRight(strings.TrimSpace(src.ServerBase), "/")
	if base == "" {
		return Credentials{}, fmt.Errorf("%w: no server URL or API key configured", shared.ErrCredentials)
	}

	status, body, err := shared.DoHTTP(ctx, f.Client, func(req *fasthttp.Request) {
		req.SetRequestURI(base + "/api/ephemeral")
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.Set("Accept", "application/json")
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", shared.ErrCredentials, err)
	}
	if status != fasthttp.StatusOK {
		return Credentials{}, fmt.Errorf("%w: server returned %d: %s", shared.ErrCredentials, status, shared.Truncate(body, 200))
	}
	if !gjson.ValidBytes(body) {
		return Credentials{}, fmt.Errorf("%w: response is not JSON: %s", shared.ErrCredentials, shared.Truncate(body, 200))
	}
	res := gjson.ParseBytes(body)
	secret := res.Get("client_secret")
	if secret.IsObject() {
		secret = secret.Get("value")
	}
	if secret.Type != gjson.String || secret.String() == "" {
		return Credentials{}, fmt.Errorf("%w: response has no client_secret", shared.ErrCredentials)
	}
	if m := res.Get("model").String(); m != "" {
		model = m
	}
	if e := res.Get("endpoint").String(); e != "" {
		endpoint = e
	}
	return Credentials{Secret: secret.String(), Model: model, Endpoint: endpoint}, nil
}
