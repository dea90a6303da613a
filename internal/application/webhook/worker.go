package webhook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	deliveryWorker     = "webhook-worker"
	useCaseDeliver     = "webhook.deliver"
	defaultMaxRetries  = 5
	defaultBackoffBase = 10 * time.Second
	defaultMaxBackoff  = 10 * time.Minute
	maxResponseLogged  = 1024
	transportPeer      = "webhook_target"
)

// Delivery outcomes reported on webhook_deliveries_total.
const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
)

// Worker performs deliveries queued by Service.
type Worker struct {
	webhooks   domain.Repository
	deliveries domain.DeliveryRepository
	transport  Transport
	ids        IDGenerator
	subscriber domoutbox.Subscriber
	publisher  domoutbox.Publisher

	siteDomain  string
	maxRetries  int
	backoffBase time.Duration
	maxBackoff  time.Duration
	// schedule runs f after d; retries go through it.
	schedule    func(d time.Duration, f func())

	in        *application.Instruments
	delivered observability.Counter
}

type WorkerOption func(*Worker)

// WithDomain sets the Saleor-Domain header value.
func WithDomain(d string) WorkerOption { return func(w *Worker) { w.siteDomain = d } }

// WithRetryPolicy sets the retry budget and the exponential backoff bounds.
func WithRetryPolicy(maxRetries int, base, maxBackoff time.Duration) WorkerOption {
	return func(w *Worker) {
		if maxRetries >= 0 {
			w.maxRetries = maxRetries
		}
		if base > 0 {
			w.backoffBase = base
		}
		if maxBackoff > 0 {
			w.maxBackoff = maxBackoff
		}
	}
}

func WithScheduler(f func(d time.Duration, fn func())) WorkerOption {
	return func(w *Worker) {
		if f != nil {
			w.schedule = f
		}
	}
}

func NewWorker(
	webhooks domain.Repository,
	deliveries domain.DeliveryRepository,
	transport Transport,
	ids IDGenerator,
	subscriber domoutbox.Subscriber,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...WorkerOption,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	w := &Worker{
		webhooks:    webhooks,
		deliveries:  deliveries,
		transport:   transport,
		ids:         ids,
		subscriber:  subscriber,
		publisher:   publisher,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		maxBackoff:  defaultMaxBackoff,
		schedule:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		in:          application.NewInstruments(tel, deliveryWorker),
		delivered:   tel.Metrics().Counter(observability.MWebhookDeliveries),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.transport == nil {
		return
	}
	w.subscriber.Subscribe(EventNameDeliveryRequested, w.handle)
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	req, ok := e.(EventDeliveryRequested)
	if !ok {
		return nil
	}
	return w.Deliver(ctx, req.DeliveryID, req.Retry)
}

// Deliver makes one try of a pending delivery and records it as an attempt.
// A failed try is scheduled again until the retry budget is spent.
func (w *Worker) Deliver(ctx context.Context, deliveryID string, retry int) (err error) {
	ctx, run := w.in.Begin(ctx, useCaseDeliver, "DeliverWebhook",
		attribute.String("webhook.delivery_id", deliveryID),
		attribute.Int("webhook.retry", retry),
	)
	defer func() { run.End(err) }()
	run.With(observability.F("delivery_id", deliveryID), observability.F("retry", retry))

	d, err := w.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		run.Fail("DELIVERY_LOOKUP_FAILED")
		return wrapRepositoryError(err)
	}
	if d.Status != domain.DeliveryPending {
		run.Status("ALREADY_DONE")
		return nil
	}
	run.With(observability.F("event", string(d.EventType)))

	hook, err := w.webhooks.Get(ctx, d.WebhookID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !hook.IsActive) {
		run.Status("WEBHOOK_GONE")
		return w.finish(ctx, d, domain.DeliveryFailed)
	}
	if err != nil {
		run.Fail("WEBHOOK_LOOKUP_FAILED")
		return wrapRepositoryError(err)
	}
	if len(d.Payload) == 0 {
		run.Logger().Warn("webhook_delivery_payload_missing", observability.F("webhook_id", hook.ID))
		run.Status("PAYLOAD_MISSING")
		return w.finish(ctx, d, domain.DeliveryFailed)
	}

	req := Request{
		TargetURL: hook.TargetURL,
		Body:      d.Payload,
		Headers:   Headers(hook, d.EventType, w.siteDomain, d.Payload),
	}
	start := time.Now()
	resp, sendErr := w.transport.Send(ctx, req)
	w.in.External(transportPeer, string(d.EventType), start, errors.Join(sendErr, responseError(resp)))

	attempt := &domain.EventDeliveryAttempt{
		ID:             w.ids.NewID(),
		DeliveryID:     d.ID,
		TaskID:         fmt.Sprintf("%s/%d", d.ID, retry),
		Duration:       time.Since(start),
		RequestHeaders: req.Headers,
		Status:         domain.DeliveryFailed,
		CreatedAt:      time.Now().UTC(),
	}
	if resp != nil {
		attempt.Duration = resp.Duration
		attempt.Response = truncate(resp.Body, maxResponseLogged)
		attempt.ResponseHeaders = resp.Headers
		attempt.ResponseStatusCode = resp.StatusCode
	}
	if sendErr != nil && attempt.Response == "" {
		attempt.Response = sendErr.Error()
	}
	if sendErr == nil && resp.Success() {
		attempt.Status = domain.DeliverySuccess
	}
	if err := w.deliveries.InsertAttempt(ctx, attempt); err != nil {
		run.Fail("ATTEMPT_INSERT_FAILED")
		return wrapRepositoryError(err)
	}

	if attempt.Status == domain.DeliverySuccess {
		w.count(d.EventType, outcomeSuccess)
		return w.finish(ctx, d, domain.DeliverySuccess)
	}

	fields := []observability.Field{
		observability.F("webhook_id", hook.ID),
		observability.F("status_code", attempt.ResponseStatusCode),
	}
	if sendErr != nil {
		fields = append(fields, observability.F("error", sendErr.Error()))
	}
	if retry >= w.maxRetries {
		run.Logger().Warn("webhook_delivery_failed", fields...)
		run.Status("RETRIES_EXHAUSTED")
		w.count(d.EventType, outcomeFailed)
		return w.finish(ctx, d, domain.DeliveryFailed)
	}

	var retryAfter time.Duration
	if resp != nil {
		retryAfter = resp.RetryAfter
	}
	delay := w.Backoff(retry, retryAfter)
	run.Logger().Info("webhook_delivery_retry_scheduled", append(fields, observability.F("delay_seconds", delay.Seconds()))...)
	run.Status("RETRY_SCHEDULED")
	w.count(d.EventType, outcomeRetry)

	if w.publisher == nil {
		return w.finish(ctx, d, domain.DeliveryFailed)
	}
	next := EventDeliveryRequested{DeliveryID: d.ID, Retry: retry + 1}
	w.schedule(delay, func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.publisher.Publish(pubCtx, next); err != nil {
			w.in.Logger().Error("webhook_retry_enqueue_failed",
				observability.F("delivery_id", next.DeliveryID),
				observability.F("error", err.Error()),
			)
		}
	})
	return nil
}

// Backoff is base * 2^retry, or the delay the target asked for; both are capped.
func (w *Worker) Backoff(retry int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, w.maxBackoff)
	}
	d := float64(w.backoffBase) * math.Pow(2, float64(retry))
	if d > float64(w.maxBackoff) {
		return w.maxBackoff
	}
	return time.Duration(d)
}

func (w *Worker) finish(ctx context.Context, d *domain.EventDelivery, status domain.DeliveryStatus) error {
	if err := w.deliveries.UpdateDeliveryStatus(ctx, d.ID, status); err != nil {
		return wrapRepositoryError(err)
	}
	return nil
}

func (w *Worker) count(event domain.EventType, outcome string) {
	w.delivered.Add(1,
		observability.L("event", string(event)),
		observability.L("status", outcome),
	)
}

// Headers builds the request headers of a delivery. Custom headers never
// override the signature headers.
func Headers(hook *domain.Webhook, event domain.EventType, siteDomain string, body []byte) map[string]string {
	h := make(map[string]string, len(hook.CustomHeaders)+7)
	for k, v := range hook.CustomHeaders {
		h[k] = v
	}
	sig := domain.Signature(hook.SecretKey, body)
	h["Content-Type"] = "application/json"
	h[domain.HeaderEvent] = string(event)
	h[domain.HeaderDomain] = siteDomain
	h[domain.HeaderSignature] = sig
	h[domain.LegacyHeaderEvent] = string(event)
	h[domain.LegacyHeaderDomain] = siteDomain
	h[domain.LegacyHeaderSignature] = sig
	return h
}

func responseError(resp *Response) error {
	if resp == nil || resp.Success() {
		return nil
	}
	return fmt.Errorf("webhook: target answered %d", resp.StatusCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
