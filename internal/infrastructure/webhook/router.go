package webhook

import (
	"context"
	"fmt"
	"net/url"

	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
)

// Router picks the transport registered for the target URL scheme.
type Router struct {
	byScheme map[string]appwebhook.Transport
}

func NewRouter(httpT, kafkaT appwebhook.Transport) *Router {
	r := &Router{byScheme: make(map[string]appwebhook.Transport)}
	if httpT != nil {
		r.byScheme["http"] = httpT
		r.byScheme["https"] = httpT
	}
	if kafkaT != nil {
		r.byScheme["kafka"] = kafkaT
	}
	return r
}

func (r *Router) Send(ctx context.Context, req appwebhook.Request) (*appwebhook.Response, error) {
	u, err := url.Parse(req.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse target: %w", err)
	}
	t, ok := r.byScheme[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("webhook: no transport for scheme %q", u.Scheme)
	}
	return t.Send(ctx, req)
}
