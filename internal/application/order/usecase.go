package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
	ErrValidation = errors.New("order: validation failed")
)

var _ application.UseCase[CreateOrderInput, *CreateOrderResult] = (*CreateOrderUseCase)(nil)

// CreateOrderUseCase places an order, replaying the original one when the
// same customer retries with the same idempotency key.
type CreateOrderUseCase struct {
	repo        domain.Repository
	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	tel         observability.Observability

	log observability.Logger
	// usecase_requests_total{use_case,outcome}
	reqCounter observability.Counter
	// usecase_duration_seconds{use_case}
	durHistogram observability.Histogram
	// external_requests_total{peer,endpoint,outcome}
	extCounter observability.Counter
	// external_request_duration_seconds{peer,endpoint}
	extHistogram observability.Histogram
}

func NewCreateOrderUseCase(
	repo domain.Repository,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &CreateOrderUseCase{
		repo:         repo,
		idGenerator:  idGen,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

type LineInput struct {
	ProductName string
	VariantName string
	ProductSKU  string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type CreateOrderInput struct {
	IdempotencyKey     string
	ChannelSlug        string
	UserID             string
	Email              string
	Currency           string
	Lines              []LineInput
	ShippingPrice      decimal.Decimal
	BillingAddress     *domain.Address
	ShippingAddress    *domain.Address
	ShippingMethodName string
	LanguageCode       string
	Metadata           map[string]string
}

type CreateOrderResult struct {
	OrderID string
	Number  int64
	Token   string
	Status  domain.Status
	Total   decimal.Decimal
}

func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderCreate))

	var orderID string
	var publishErr error

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.channel", cmd.ChannelSlug),
		attribute.Int("order.lines", len(cmd.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseOrderCreate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		fields = append(fields, observability.SpanFields(ctx)...)
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" {
		outcome, statusText = "error", "EMAIL_REQUIRED"
		return nil, newValidation("email is required")
	}
	if cmd.ChannelSlug == "" {
		outcome, statusText = "error", "CHANNEL_REQUIRED"
		return nil, newValidation("channel is required")
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		existing, repoErr := uc.repo.FindByIdempotency(ctx, email, cmd.IdempotencyKey)
		switch {
		case repoErr == nil:
			orderID = existing.ID
			statusText = "IDEMPOTENT_REPLAY"
			uc.markReplay(span, existing)
			return resultOf(existing), nil
		case errors.Is(repoErr, domain.ErrNotFound):
		default:
			outcome, statusText = "error", "IDEMPOTENCY_LOOKUP_FAILED"
			return nil, wrapRepositoryError(repoErr)
		}
	}

	orderID = uc.idGenerator.NewID()
	lines := make([]domain.Line, 0, len(cmd.Lines))
	for _, l := range cmd.Lines {
		lines = append(lines, domain.Line{
			ID:          uc.idGenerator.NewID(),
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			ProductSKU:  l.ProductSKU,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	entity, derr := domain.New(orderID, uc.idGenerator.NewID(), cmd.ChannelSlug, email, cmd.Currency, lines, cmd.ShippingPrice)
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrValidation, derr)
	}
	entity.UserID = cmd.UserID
	entity.IdempotencyKey = cmd.IdempotencyKey
	entity.BillingAddress = cmd.BillingAddress
	entity.ShippingAddress = cmd.ShippingAddress
	entity.ShippingMethodName = cmd.ShippingMethodName
	entity.Metadata = cmd.Metadata
	if cmd.LanguageCode != "" {
		entity.LanguageCode = cmd.LanguageCode
	}

	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		if errors.Is(err, domain.ErrConflict) && cmd.IdempotencyKey != "" {
			if existing, lookupErr := uc.repo.FindByIdempotency(ctx, email, cmd.IdempotencyKey); lookupErr == nil {
				orderID = existing.ID
				statusText = "IDEMPOTENT_REPLAY"
				uc.markReplay(span, existing)
				return resultOf(existing), nil
			}
		}
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, wrapRepositoryError(err)
	}

	if uc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		pubStart := time.Now()
		pubOutcome := "success"

		publishErr = uc.publisher.Publish(pubCtx, domain.NewCreatedEvent(entity))
		if publishErr != nil {
			pubOutcome = "error"
			statusText = "EVENT_PUBLISH_FAILED"
		} else if pubCtx.Err() != nil {
			pubOutcome = "canceled"
			publishErr = pubCtx.Err()
			statusText = "EVENT_PUBLISH_TIMEOUT"
		}
		cancel()

		uc.extCounter.Add(1,
			observability.L("peer", publishPeer),
			observability.L("endpoint", domain.EventNameCreated),
			observability.L("outcome", pubOutcome),
		)
		uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
			observability.L("peer", publishPeer),
			observability.L("endpoint", domain.EventNameCreated),
		)
	}

	span.SetAttributes(
		attribute.String("order.status", string(entity.Status)),
		attribute.Int64("order.number", entity.Number),
	)
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", orderID)))

	return resultOf(entity), nil
}

func (uc *CreateOrderUseCase) markReplay(span trace.Span, existing *domain.Order) {
	span.SetAttributes(attribute.String("order.status", string(existing.Status)))
	span.AddEvent("order.idempotent_replay",
		trace.WithAttributes(attribute.String("order.id", existing.ID)),
	)
}

func resultOf(o *domain.Order) *CreateOrderResult {
	return &CreateOrderResult{
		OrderID: o.ID,
		Number:  o.Number,
		Token:   o.Token,
		Status:  o.Status,
		Total:   o.Total,
	}
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
