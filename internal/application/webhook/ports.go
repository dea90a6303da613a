package webhook

import (
	"context"
	"time"
)

type IDGenerator interface {
	NewID() string
}

// Request is a signed delivery ready for a transport.
type Request struct {
	TargetURL string
	Body      []byte
	Headers   map[string]string
}

// Response is what a transport observed for one try.
type Response struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Duration   time.Duration
	// RetryAfter is the delay the target asked for, zero when absent.
	RetryAfter time.Duration
}

// Success reports a 2xx answer.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends a request to the target named by its URL scheme.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}
