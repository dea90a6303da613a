// Package giftcard issues gift cards and sends them to customers.
package giftcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront/internal/application"
	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	giftCardService = "giftcard-service"
	useCaseIssue    = "giftcard.issue"
	useCaseSend     = "giftcard.send_notification"
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrValidation = errors.New("giftcard: validation failed")
	ErrRepository = errors.New("giftcard: repository failure")
)

type IDGenerator interface {
	NewID() string
}

// Plugins is what the service needs from the plugin manager.
type Plugins interface {
	Notify(ctx context.Context, event notify.EventType, payload notify.Payload, channel, pluginID string) error
	GiftCardSent(ctx context.Context, card *domain.GiftCard, channel, email string) error
}

type Service struct {
	repo    domain.Repository
	ids     IDGenerator
	plugins Plugins
	site    notification.Site

	in *application.Instruments
}

func NewService(repo domain.Repository, ids IDGenerator, plugins Plugins, site notification.Site, tel observability.Observability) *Service {
	return &Service{
		repo:    repo,
		ids:     ids,
		plugins: plugins,
		site:    site,
		in:      application.NewInstruments(tel, giftCardService),
	}
}

type IssueInput struct {
	Code           string
	Balance        decimal.Decimal
	Currency       string
	ExpiryDate     *time.Time
	CreatedByEmail string
}

func (s *Service) Issue(ctx context.Context, cmd IssueInput) (_ *domain.GiftCard, err error) {
	ctx, run := s.in.Begin(ctx, useCaseIssue, "IssueGiftCard")
	defer func() { run.End(err) }()

	g, err := domain.New(s.ids.NewID(), cmd.Code, cmd.Balance, cmd.Currency)
	if err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	g.ExpiryDate = cmd.ExpiryDate
	g.CreatedByEmail = cmd.CreatedByEmail
	g.Events = append(g.Events, domain.Event{Type: domain.EventIssued, Date: g.CreatedAt})
	if err := s.repo.Insert(ctx, g); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.GiftCard, error) {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return g, nil
}

type SendInput struct {
	RequesterUserID string
	AppID           string
	// Customer is optional; the card is addressed to Email either way.
	Customer   *domaccount.User
	Email      string
	GiftCardID string
	Channel    string
	Resending  bool
}

// SendGiftCardNotification emails the card, tells plugins it was sent and
// records a sent_to_customer (or resent) event.
func (s *Service) SendGiftCardNotification(ctx context.Context, cmd SendInput) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseSend, "SendGiftCardNotification",
		attribute.String("giftcard.id", cmd.GiftCardID),
		attribute.Bool("giftcard.resending", cmd.Resending),
	)
	defer func() { run.End(err) }()

	email := domaccount.NormalizeEmail(cmd.Email)
	if email == "" {
		run.Fail("VALIDATION_FAILED")
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	g, err := s.Get(ctx, cmd.GiftCardID)
	if err != nil {
		run.Fail("GIFTCARD_LOOKUP_FAILED")
		return err
	}
	if !g.IsActive || g.IsExpired(time.Now()) {
		run.Fail("GIFTCARD_INACTIVE")
		return domain.ErrInactive
	}

	payload := notification.WithSite(notify.Payload{
		"gift_card":         notification.GiftCardPayload(g),
		"user":              notification.UserPayload(cmd.Customer),
		"requester_user_id": cmd.RequesterUserID,
		"requester_app_id":  cmd.AppID,
		"recipient_email":   email,
		"resending":         cmd.Resending,
		"channel_slug":      cmd.Channel,
	}, s.site)

	start := time.Now()
	err = s.plugins.Notify(ctx, notify.SendGiftCard, payload, cmd.Channel, "")
	s.in.External("plugins", string(notify.SendGiftCard), start, err)
	if err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	if err := s.plugins.GiftCardSent(ctx, g, cmd.Channel, email); err != nil {
		run.Status("GIFTCARD_SENT_HOOK_FAILED")
		run.With(observability.F("plugin_error", err.Error()))
	}

	g.RecordSent(cmd.RequesterUserID, cmd.AppID, cmd.Channel, email, cmd.Resending)
	if err := s.repo.Update(ctx, g); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return wrapRepositoryError(err)
	}
	return nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
