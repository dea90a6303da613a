// Package webhook manages webhook subscriptions and fans events out to them.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	webhookService   = "webhook-service"
	maxTriggerFanout = 16

	useCaseCreate    = "webhook.create"
	useCaseDelete    = "webhook.delete"
	useCaseTrigger   = "webhook.trigger"
	useCaseRedeliver = "webhook.redeliver"
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrValidation = errors.New("webhook: validation failed")
	ErrRepository = errors.New("webhook: repository failure")
)

// EventDeliveryRequested asks the delivery worker to try a delivery.
type EventDeliveryRequested struct {
	DeliveryID string
	// Retry counts the tries already made.
	Retry int
}

const EventNameDeliveryRequested = "webhook.delivery_requested"

func (EventDeliveryRequested) EventName() string { return EventNameDeliveryRequested }

type Service struct {
	repo       domain.Repository
	deliveries domain.DeliveryRepository
	ids        IDGenerator
	publisher  domoutbox.Publisher

	in *application.Instruments
}

func NewService(
	repo domain.Repository,
	deliveries domain.DeliveryRepository,
	ids IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Service {
	return &Service{
		repo:       repo,
		deliveries: deliveries,
		ids:        ids,
		publisher:  publisher,
		in:         application.NewInstruments(tel, webhookService),
	}
}

type CreateInput struct {
	Name          string
	AppID         string
	TargetURL     string
	SecretKey     string
	Events        []domain.EventType
	CustomHeaders map[string]string
	Inactive      bool
}

func (s *Service) Create(ctx context.Context, cmd CreateInput) (_ *domain.Webhook, err error) {
	ctx, run := s.in.Begin(ctx, useCaseCreate, "CreateWebhook", attribute.String("webhook.name", cmd.Name))
	defer func() { run.End(err) }()

	w, err := domain.New(s.ids.NewID(), cmd.Name, cmd.TargetURL, cmd.Events)
	if err != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	w.AppID = cmd.AppID
	w.SecretKey = cmd.SecretKey
	w.CustomHeaders = cmd.CustomHeaders
	w.IsActive = !cmd.Inactive

	if err := s.repo.Insert(ctx, w); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.With(observability.F("webhook_id", w.ID))
	return w, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return w, nil
}

func (s *Service) List(ctx context.Context) ([]*domain.Webhook, error) {
	ws, err := s.repo.List(ctx)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return ws, nil
}

func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseDelete, "DeleteWebhook", attribute.String("webhook.id", id))
	defer func() { run.End(err) }()
	if err := s.repo.Delete(ctx, id); err != nil {
		run.Fail("REPO_DELETE_FAILED")
		return wrapRepositoryError(err)
	}
	return nil
}

func (s *Service) GetDelivery(ctx context.Context, id string) (*domain.EventDelivery, error) {
	d, err := s.deliveries.GetDelivery(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return d, nil
}

func (s *Service) ListAttempts(ctx context.Context, deliveryID string) ([]*domain.EventDeliveryAttempt, error) {
	as, err := s.deliveries.ListAttempts(ctx, deliveryID)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return as, nil
}

// TriggerWebhooks stores one pending delivery per active webhook subscribed
// to eventType and queues them. payload is sent as is when it is a []byte or
// json.RawMessage, otherwise it is encoded as JSON.
func (s *Service) TriggerWebhooks(ctx context.Context, eventType domain.EventType, payload any) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseTrigger, "TriggerWebhooks", attribute.String("webhook.event", string(eventType)))
	defer func() { run.End(err) }()
	run.With(observability.F("event", string(eventType)))

	webhooks, err := s.repo.ListSubscribed(ctx, eventType)
	if err != nil {
		run.Fail("WEBHOOK_LOOKUP_FAILED")
		return wrapRepositoryError(err)
	}
	if len(webhooks) == 0 {
		run.Status("NO_SUBSCRIBERS")
		return nil
	}
	body, err := encodePayload(payload)
	if err != nil {
		run.Fail("PAYLOAD_ENCODE_FAILED")
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var (
		mu  sync.Mutex
		ids []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTriggerFanout)
	for _, w := range webhooks {
		g.Go(func() error {
			d := domain.NewDelivery(s.ids.NewID(), w.ID, eventType, body)
			if err := s.deliveries.InsertDelivery(gctx, d); err != nil {
				return wrapRepositoryError(err)
			}
			mu.Lock()
			ids = append(ids, d.ID)
			mu.Unlock()
			return s.enqueue(gctx, EventDeliveryRequested{DeliveryID: d.ID})
		})
	}
	if err := g.Wait(); err != nil {
		run.Fail("DELIVERY_CREATE_FAILED")
		return err
	}
	run.With(observability.F("deliveries", len(ids)))
	return nil
}

// Redeliver queues a failed delivery again with a fresh retry budget.
func (s *Service) Redeliver(ctx context.Context, deliveryID string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseRedeliver, "Redeliver", attribute.String("webhook.delivery_id", deliveryID))
	defer func() { run.End(err) }()

	d, err := s.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		run.Fail("DELIVERY_LOOKUP_FAILED")
		return wrapRepositoryError(err)
	}
	if d.Status != domain.DeliveryFailed {
		run.Fail("NOT_RETRYABLE")
		return domain.ErrNotRetryable
	}
	if err := s.deliveries.UpdateDeliveryStatus(ctx, d.ID, domain.DeliveryPending); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return wrapRepositoryError(err)
	}
	return s.enqueue(ctx, EventDeliveryRequested{DeliveryID: d.ID})
}

func (s *Service) enqueue(ctx context.Context, e EventDeliveryRequested) error {
	if s.publisher == nil {
		return nil
	}
	err := s.publisher.Publish(ctx, e)
	if err != nil {
		return fmt.Errorf("webhook: enqueue delivery %s: %w", e.DeliveryID, err)
	}
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}
