package workerpresentation

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	domorder "github.com/Zhima-Mochi/storefront/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

// EventContext returns a hook for the event bus that scopes the logger of
// one handler run. It keeps whatever logger the bus already put on ctx and
// adds an event_id, the trace ids when a span is active, and the ids the
// event refers to. Keep the added fields low-cardinality per event.
func EventContext(tel observability.Observability) func(context.Context, domoutbox.Event) context.Context {
	if tel == nil {
		tel = observability.Nop()
	}
	return func(ctx context.Context, e domoutbox.Event) context.Context {
		return WithEventContext(ctx, logctx.FromOr(ctx, tel.Logger()), trace.SpanContextFromContext(ctx), eventAttrs(e))
	}
}

// WithEventContext injects a run-scoped logger for background executions.
// event_id is generated when attrs does not carry one.
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	sc trace.SpanContext,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}
	fields := make([]observability.Field, 0, len(attrs)+3)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if sc.TraceID().IsValid() {
		fields = append(fields, observability.F("trace_id", sc.TraceID().String()))
	}
	if sc.SpanID().IsValid() {
		fields = append(fields, observability.F("span_id", sc.SpanID().String()))
	}
	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	return logctx.With(ctx, base.With(fields...))
}

func eventAttrs(e domoutbox.Event) map[string]string {
	switch evt := e.(type) {
	case dompay.TransactionEvent:
		return map[string]string{
			"payment_id": evt.PaymentID,
			"order_id":   evt.OrderID,
			"channel":    evt.ChannelSlug,
		}
	case domorder.LifecycleEvent:
		return map[string]string{
			"order_id": evt.OrderID,
			"channel":  evt.ChannelSlug,
		}
	case appwebhook.EventDeliveryRequested:
		return map[string]string{
			"delivery_id": evt.DeliveryID,
			"retry":       strconv.Itoa(evt.Retry),
		}
	case notification.EmailJob:
		return map[string]string{
			"plugin_id":    evt.PluginID,
			"notify_event": string(evt.Event),
		}
	default:
		return nil
	}
}
