package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application"
	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseConfirm      = "order.confirm"
	useCaseCancel       = "order.cancel"
	useCaseFulfill      = "order.fulfill"
	useCaseConfirmation = "order.send_confirmation"

	defaultLockTTL = 30 * time.Second
)

// Service runs the order lifecycle after placement.
type Service struct {
	repo      domain.Repository
	locker    Locker
	lockTTL   time.Duration
	payments  Payments
	notifier  Notifier
	webhooks  WebhookTrigger
	staff     StaffDirectory
	publisher domoutbox.Publisher

	site        notification.Site
	redirectURL string
	staffEmails []string

	in *application.Instruments
}

type Option func(*Service)

func WithSite(site notification.Site) Option { return func(s *Service) { s.site = site } }

func WithLockTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithRedirectURL sets the storefront page that order emails link to.
func WithRedirectURL(u string) Option { return func(s *Service) { s.redirectURL = u } }

// WithStaffEmails adds fixed recipients for staff order notifications.
func WithStaffEmails(emails ...string) Option {
	return func(s *Service) { s.staffEmails = append(s.staffEmails, emails...) }
}

// WithStaffDirectory makes active staff users recipients of staff notifications.
func WithStaffDirectory(d StaffDirectory) Option { return func(s *Service) { s.staff = d } }

func NewService(
	repo domain.Repository,
	locker Locker,
	payments Payments,
	notifier Notifier,
	webhooks WebhookTrigger,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...Option,
) *Service {
	s := &Service{
		repo:      repo,
		locker:    locker,
		lockTTL:   defaultLockTTL,
		payments:  payments,
		notifier:  notifier,
		webhooks:  webhooks,
		publisher: publisher,
		in:        application.NewInstruments(tel, orderService),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, newValidation("id is required")
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

func (s *Service) ConfirmOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, run := s.in.Begin(ctx, useCaseConfirm, "ConfirmOrder", attribute.String("order.id", id))
	defer func() { run.End(err) }()

	o, err := s.mutate(ctx, run, id, func(o *domain.Order) error {
		if err := o.Confirm(); err != nil {
			run.Fail("INVALID_TRANSITION")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, run, o, domain.NewConfirmedEvent(o), notify.OrderConfirmed, domwebhook.OrderConfirmed)
	return o, nil
}

// CancelOrder refunds or voids every active payment before canceling. The
// order lock is not held while payments are released: the payment events
// they raise update the same order.
func (s *Service) CancelOrder(ctx context.Context, id, userID string) (_ *domain.Order, err error) {
	ctx, run := s.in.Begin(ctx, useCaseCancel, "CancelOrder", attribute.String("order.id", id))
	defer func() { run.End(err) }()

	o, err := s.Get(ctx, id)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	if err := o.Clone().Cancel(userID); err != nil {
		run.Fail("INVALID_TRANSITION")
		return nil, err
	}

	if s.payments != nil {
		payments, err := s.payments.ListByOrder(ctx, o.ID)
		if err != nil {
			run.Fail("PAYMENT_LOOKUP_FAILED")
			return nil, err
		}
		for _, p := range payments {
			if !p.IsActive {
				continue
			}
			if _, err := s.payments.RefundOrVoid(ctx, p.ID, o.ChannelSlug); err != nil {
				run.Fail("PAYMENT_RELEASE_FAILED")
				run.With(observability.F("payment_id", p.ID))
				return nil, err
			}
		}
	}

	// Payment events recorded while the payments were released are on the
	// stored order, so cancel a fresh copy.
	o, err = s.mutate(ctx, run, id, func(o *domain.Order) error {
		if err := o.Cancel(userID); err != nil {
			run.Fail("INVALID_TRANSITION")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, run, o, domain.NewCancelledEvent(o), notify.OrderCanceled, domwebhook.OrderCancelled)
	return o, nil
}

// FulfillOrder ships the given quantities per line id.
func (s *Service) FulfillOrder(ctx context.Context, id string, quantities map[string]int) (_ *domain.Order, err error) {
	ctx, run := s.in.Begin(ctx, useCaseFulfill, "FulfillOrder", attribute.String("order.id", id))
	defer func() { run.End(err) }()

	o, err := s.mutate(ctx, run, id, func(o *domain.Order) error {
		if err := o.Fulfill(quantities); err != nil {
			run.Fail("FULFILL_REJECTED")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notify(ctx, o, notify.OrderFulfillmentConfirmation, s.payload(o)); err != nil {
		run.Status("NOTIFY_FAILED")
		run.With(observability.F("notify_error", err.Error()))
	}
	if err := s.trigger(ctx, domwebhook.OrderUpdated, o); err != nil {
		run.Status("WEBHOOK_TRIGGER_FAILED")
		run.With(observability.F("webhook_error", err.Error()))
	}
	return o, nil
}

// SendOrderConfirmation emails the customer and, when there are any, staff recipients.
func (s *Service) SendOrderConfirmation(ctx context.Context, id string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseConfirmation, "SendOrderConfirmation", attribute.String("order.id", id))
	defer func() { run.End(err) }()

	o, err := s.Get(ctx, id)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return err
	}

	var errs []error
	customerNotified := false
	if err := s.notify(ctx, o, notify.OrderConfirmation, s.payload(o)); err != nil {
		errs = append(errs, err)
	} else {
		customerNotified = true
	}

	recipients, err := s.staffRecipients(ctx)
	if err != nil {
		run.With(observability.F("staff_lookup_error", err.Error()))
	}
	if len(recipients) > 0 {
		p := s.payload(o)
		p["recipient_list"] = recipients
		delete(p, "recipient_email")
		if err := s.notify(ctx, o, notify.StaffOrderConfirmation, p); err != nil {
			errs = append(errs, err)
		}
	}
	run.With(observability.F("staff_recipients", len(recipients)))

	if customerNotified {
		_, err := s.mutate(ctx, run, o.ID, func(o *domain.Order) error {
			o.AddEvent(domain.EventEmailSent, "", map[string]any{
				"email":      o.UserEmail,
				"email_type": string(notify.OrderConfirmation),
			})
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := errors.Join(errs...); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	return nil
}

// mutate loads the order under its lock, applies fn and stores the result.
// fn marks the run itself when it rejects the change.
func (s *Service) mutate(ctx context.Context, run *application.Run, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	unlock, err := s.locker.Lock(ctx, id, s.lockTTL)
	if err != nil {
		run.Fail("ORDER_LOCK_FAILED")
		return nil, fmt.Errorf("order: lock %s: %w", id, err)
	}
	defer unlock()

	o, err := s.Get(ctx, id)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

func (s *Service) staffRecipients(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, e := range s.staffEmails {
		if e = domaccount.NormalizeEmail(e); e != "" {
			seen[e] = struct{}{}
		}
	}
	var err error
	if s.staff != nil {
		var users []*domaccount.User
		users, err = s.staff.ListStaff(ctx)
		for _, u := range users {
			if u.IsActive && u.Email != "" {
				seen[u.Email] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, err
}

// announce publishes the lifecycle event and tells plugins and webhooks.
// Failures are logged on the run; the state change already happened.
func (s *Service) announce(ctx context.Context, run *application.Run, o *domain.Order, e domoutbox.Event, event notify.EventType, hook domwebhook.EventType) {
	if err := s.publish(ctx, e); err != nil {
		run.Status("EVENT_PUBLISH_FAILED")
		run.With(observability.F("event_publish_error", err.Error()))
	}
	if err := s.notify(ctx, o, event, s.payload(o)); err != nil {
		run.Status("NOTIFY_FAILED")
		run.With(observability.F("notify_error", err.Error()))
	}
	if err := s.trigger(ctx, hook, o); err != nil {
		run.Status("WEBHOOK_TRIGGER_FAILED")
		run.With(observability.F("webhook_error", err.Error()))
	}
}

func (s *Service) payload(o *domain.Order) notify.Payload {
	return notification.OrderNotification(o, s.redirectURL, s.site)
}

func (s *Service) notify(ctx context.Context, o *domain.Order, event notify.EventType, p notify.Payload) error {
	if s.notifier == nil {
		return nil
	}
	start := time.Now()
	err := s.notifier.Notify(ctx, event, p, o.ChannelSlug, "")
	s.in.External("plugins", string(event), start, err)
	return err
}

func (s *Service) trigger(ctx context.Context, event domwebhook.EventType, o *domain.Order) error {
	if s.webhooks == nil {
		return nil
	}
	return s.webhooks.TriggerWebhooks(ctx, event, WebhookPayload(o))
}

func (s *Service) publish(ctx context.Context, e domoutbox.Event) error {
	if s.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	start := time.Now()
	err := s.publisher.Publish(pubCtx, e)
	s.in.External(publishPeer, e.EventName(), start, err)
	return err
}

// WebhookPayload is the body sent to order webhooks.
func WebhookPayload(o *domain.Order) map[string]any {
	return notification.OrderPayload(o, "")
}
