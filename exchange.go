package realtime

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/valyala/fasthttp"
)

// HTTPOfferExchanger posts the SDP offer as application/sdp and reads the
// answer from the body.
type HTTPOfferExchanger struct {
	Client *fasthttp.Client
}

var _ OfferExchanger = (*HTTPOfferExchanger)(nil)

func (x *HTTPOfferExchanger) Exchange(ctx context.Context, endpoint, model, secret, offer string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parsing endpoint: %w", shared.ErrNegotiation, err)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	status, body, err := shared.DoHTTP(ctx, x.Client, func(req *fasthttp.Request) {
		req.SetRequestURI(u.String())
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.Set("Authorization", "Bearer "+secret)
		req.Header.SetContentType("application/sdp")
		req.SetBodyString(offer)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrNegotiation, err)
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status code: %d, body: %s", shared.ErrNegotiation, status, shared.Truncate(body, 300))
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty answer", shared.ErrNegotiation)
	}
	return string(body), nil
}
