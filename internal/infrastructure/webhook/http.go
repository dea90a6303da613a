// Package webhook delivers signed webhook requests over HTTP or Kafka.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
)

const maxResponseBody = 64 << 10

type HTTPTransport struct {
	client *http.Client
	now    func() time.Time
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		now: time.Now,
	}
}

// NewHTTPTransportWithClient uses c as is, for tests and custom TLS setups.
func NewHTTPTransportWithClient(c *http.Client) *HTTPTransport {
	return &HTTPTransport{client: c, now: time.Now}
}

func (t *HTTPTransport) Send(ctx context.Context, req appwebhook.Request) (*appwebhook.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.TargetURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := t.now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &appwebhook.Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Headers:    headers,
		Duration:   t.now().Sub(start),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), t.now()),
	}, nil
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
