package payment

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

const paymentWorker = "payment-worker"

// WebhookTrigger fans an event out to subscribed webhooks.
type WebhookTrigger interface {
	TriggerWebhooks(ctx context.Context, eventType domwebhook.EventType, payload any) error
}

var webhookEvents = map[string]domwebhook.EventType{
	domain.EventAuthorized: domwebhook.PaymentAuthorize,
	domain.EventCaptured:   domwebhook.PaymentCapture,
	domain.EventRefunded:   domwebhook.PaymentRefund,
	domain.EventVoided:     domwebhook.PaymentVoid,
}

// Worker announces payment transactions to webhooks.
type Worker struct {
	subscriber domoutbox.Subscriber
	trigger    WebhookTrigger
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, trigger WebhookTrigger, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		trigger:    trigger,
		log:        tel.Logger().With(observability.F("service", paymentWorker)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.trigger == nil {
		return
	}
	for name := range webhookEvents {
		w.subscriber.Subscribe(name, w.handleTransaction)
	}
}

func (w *Worker) handleTransaction(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.TransactionEvent)
	if !ok {
		return nil
	}
	eventType, ok := webhookEvents[evt.Name]
	if !ok {
		return nil
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", evt.Name),
		observability.F("payment_id", evt.PaymentID),
	)

	if err := w.trigger.TriggerWebhooks(ctx, eventType, TransactionPayload(evt)); err != nil {
		logger.Warn("payment_webhook_trigger_failed", observability.F("error", err.Error()))
		return err
	}
	logger.Debug("payment_webhook_triggered", observability.F("webhook_event", string(eventType)))
	return nil
}

// TransactionPayload is the webhook body for payment events.
func TransactionPayload(evt domain.TransactionEvent) map[string]any {
	return map[string]any{
		"payment_id":     evt.PaymentID,
		"order_id":       evt.OrderID,
		"transaction_id": evt.TransactionID,
		"kind":           string(evt.Kind),
		"amount":         evt.Amount.String(),
		"currency":       evt.Currency,
		"charge_status":  string(evt.ChargeStatus),
		"channel_slug":   evt.ChannelSlug,
		"occurred_at":    evt.OccurredAt,
	}
}
