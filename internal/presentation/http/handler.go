package httppresentation

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	appaccount "github.com/Zhima-Mochi/storefront/internal/application/account"
	appgiftcard "github.com/Zhima-Mochi/storefront/internal/application/giftcard"
	apporder "github.com/Zhima-Mochi/storefront/internal/application/order"
	apppayment "github.com/Zhima-Mochi/storefront/internal/application/payment"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	headerIdempotencyKey = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

// Services are the application entry points exposed over HTTP.
type Services struct {
	CreateOrder *apporder.CreateOrderUseCase
	Orders      *apporder.Service
	Payments    *apppayment.Service
	Plugins     *plugin.Manager
	Accounts    *appaccount.Service
	GiftCards   *appgiftcard.Service
	Webhooks    *appwebhook.Service
}

type Handler struct {
	svc     Services
	metrics http.Handler
	log     observability.Logger
	tel     observability.Observability
}

type Option func(*Handler)

// WithMetricsHandler replaces the default promhttp handler served on /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

func NewHandler(svc Services, tel observability.Observability, opts ...Option) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	h := &Handler{
		svc:     svc,
		metrics: promhttp.Handler(),
		log:     tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:     tel,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	h.handle(r, http.MethodGet, "/gateways", h.handleListGateways)
	h.handle(r, http.MethodPost, "/gateways/{id}/client-token", h.handleClientToken)

	h.handle(r, http.MethodPost, "/payments", h.handleCreatePayment)
	h.handle(r, http.MethodGet, "/payments/{id}", h.handleGetPayment)
	h.handle(r, http.MethodPost, "/payments/{id}/process", h.handleProcessPayment)
	h.handle(r, http.MethodPost, "/payments/{id}/authorize", h.handleAuthorize)
	h.handle(r, http.MethodPost, "/payments/{id}/capture", h.handleCapture)
	h.handle(r, http.MethodPost, "/payments/{id}/refund", h.handleRefund)
	h.handle(r, http.MethodPost, "/payments/{id}/void", h.handleVoid)
	h.handle(r, http.MethodPost, "/payments/{id}/confirm", h.handleConfirmPayment)

	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.handle(r, http.MethodGet, "/orders/{id}/payments", h.handleListOrderPayments)
	h.handle(r, http.MethodPost, "/orders/{id}/confirm", h.handleConfirmOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/cancel", h.handleCancelOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/fulfill", h.handleFulfillOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/mark-as-paid", h.handleMarkAsPaid)
	h.handle(r, http.MethodPost, "/orders/{id}/send-confirmation", h.handleSendOrderConfirmation)

	h.handle(r, http.MethodPost, "/accounts", h.handleRegister)
	h.handle(r, http.MethodPost, "/accounts/password-reset", h.handlePasswordReset)
	h.handle(r, http.MethodPost, "/accounts/set-password", h.handleSetPassword)
	h.handle(r, http.MethodPost, "/accounts/confirm", h.handleConfirmAccount)
	h.handle(r, http.MethodPost, "/accounts/{id}/email-change", h.handleRequestEmailChange)
	h.handle(r, http.MethodPost, "/accounts/{id}/email-change/confirm", h.handleConfirmEmailChange)
	h.handle(r, http.MethodPost, "/accounts/{id}/delete-request", h.handleRequestDelete)
	h.handle(r, http.MethodPost, "/accounts/{id}/delete", h.handleDeleteAccount)

	h.handle(r, http.MethodPost, "/gift-cards", h.handleIssueGiftCard)
	h.handle(r, http.MethodGet, "/gift-cards/{id}", h.handleGetGiftCard)
	h.handle(r, http.MethodPost, "/gift-cards/{id}/send", h.handleSendGiftCard)

	h.handle(r, http.MethodPost, "/notify", h.handleNotify)

	h.handle(r, http.MethodGet, "/webhooks", h.handleListWebhooks)
	h.handle(r, http.MethodPost, "/webhooks", h.handleCreateWebhook)
	h.handle(r, http.MethodGet, "/webhooks/{id}", h.handleGetWebhook)
	h.handle(r, http.MethodDelete, "/webhooks/{id}", h.handleDeleteWebhook)
	h.handle(r, http.MethodGet, "/webhooks/deliveries/{id}", h.handleGetDelivery)
	h.handle(r, http.MethodPost, "/webhooks/deliveries/{id}/redeliver", h.handleRedeliver)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	return r
}

// handle wires a route as Trace → request logger + metrics → access log → handler.
func (h *Handler) handle(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	chain := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			func(r *http.Request) string { return r.Header.Get(headerTenantID) },
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// stable route template for low-cardinality labels
		chain.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("storefront.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r.WithContext(ctxWithSpan))

		span.SetAttributes(attribute.Int("http.status_code", lrw.status))
		if lrw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(lrw.status))
		}
	})
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
