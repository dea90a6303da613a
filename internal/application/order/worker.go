package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domorder "github.com/Zhima-Mochi/storefront/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const workerService = "order-worker"

var paymentEvents = map[string]domorder.EventType{
	dompay.EventAuthorized: domorder.EventPaymentAuthorized,
	dompay.EventCaptured:   domorder.EventPaymentCaptured,
	dompay.EventRefunded:   domorder.EventPaymentRefunded,
	dompay.EventVoided:     domorder.EventPaymentVoided,
}

// Worker keeps orders in step with their payments and sends the
// notifications that follow order placement.
type Worker struct {
	svc        *Service
	subscriber domoutbox.Subscriber
	log        observability.Logger
}

func NewWorker(svc *Service, subscriber domoutbox.Subscriber, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		svc:        svc,
		subscriber: subscriber,
		log:        tel.Logger().With(observability.F("service", workerService)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.svc == nil {
		return
	}
	for name := range paymentEvents {
		w.subscriber.Subscribe(name, w.handlePayment)
	}
	w.subscriber.Subscribe(domorder.EventNameCreated, w.handleCreated)
}

// handlePayment recomputes the order's payment totals from its payments
// under the order lock, so it never races a cancel or confirmation.
func (w *Worker) handlePayment(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "order.worker.payment_changed"
	evt, ok := e.(dompay.TransactionEvent)
	if !ok || evt.OrderID == "" {
		return nil
	}
	s := w.svc

	ctx, run := s.in.Begin(ctx, useCase, "PaymentChanged",
		attribute.String("event", evt.Name),
		attribute.String("order.id", evt.OrderID),
	)
	defer func() { run.End(err) }()
	ctx = logctx.With(ctx, run.Logger().With(observability.F("event", evt.Name)))

	var nowPaid bool
	o, err := s.mutate(ctx, run, evt.OrderID, func(o *domorder.Order) error {
		wasPaid := o.IsFullyPaid()
		charged, authorized := decimal.Zero, decimal.Zero
		if s.payments != nil {
			payments, err := s.payments.ListByOrder(ctx, o.ID)
			if err != nil {
				run.Fail("PAYMENT_LOOKUP_FAILED")
				return fmt.Errorf("worker: list payments: %w", err)
			}
			for _, p := range payments {
				charged = charged.Add(p.CapturedAmount)
				if p.IsActive {
					authorized = authorized.Add(p.AuthorizedAmount())
				}
			}
		}
		o.UpdatePaymentTotals(charged, authorized)
		o.AddEvent(paymentEvents[evt.Name], "", map[string]any{
			"payment_id": evt.PaymentID,
			"amount":     evt.Amount.String(),
		})
		nowPaid = !wasPaid && o.IsFullyPaid()
		if nowPaid {
			o.AddEvent(domorder.EventOrderFullyPaid, "", nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("worker: update order: %w", err)
	}
	run.With(
		observability.F("order_id", o.ID),
		observability.F("charge_status", string(o.ChargeStatus)),
	)

	switch {
	case nowPaid:
		s.announce(ctx, run, o, domorder.NewFullyPaidEvent(o), notify.OrderPaymentConfirmation, domwebhook.OrderFullyPaid)
	case evt.Name == dompay.EventRefunded:
		if err := s.notify(ctx, o, notify.OrderRefundConfirmation, refundPayload(s, o, evt)); err != nil {
			run.Status("NOTIFY_FAILED")
			run.With(observability.F("notify_error", err.Error()))
		}
	}
	return nil
}

func (w *Worker) handleCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.LifecycleEvent)
	if !ok {
		return nil
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", evt.Name),
		observability.F("order_id", evt.OrderID),
	)

	o, err := w.svc.Get(ctx, evt.OrderID)
	if err != nil {
		logger.Warn("order_load_failed", observability.F("error", err.Error()))
		return err
	}
	if err := w.svc.trigger(ctx, domwebhook.OrderCreated, o); err != nil {
		logger.Warn("order_webhook_trigger_failed", observability.F("error", err.Error()))
	}
	return w.svc.SendOrderConfirmation(ctx, o.ID)
}

func refundPayload(s *Service, o *domorder.Order, evt dompay.TransactionEvent) notify.Payload {
	p := s.payload(o)
	p["amount"] = evt.Amount.StringFixed(2)
	p["currency"] = evt.Currency
	return p
}
