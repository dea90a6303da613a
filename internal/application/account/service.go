package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application"
	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	accountService = "account-service"

	useCaseRegister        = "account.register"
	useCasePasswordReset   = "account.send_password_reset"
	useCaseConfirmation    = "account.send_confirmation"
	useCaseSetPassword     = "account.send_set_password"
	useCaseEmailChange     = "account.send_email_change_request"
	useCaseEmailChanged    = "account.send_email_changed"
	useCaseDeleteRequest   = "account.send_delete_confirmation"
	useCaseConfirmAccount  = "account.confirm"
	useCaseResetPassword   = "account.reset_password"
	useCaseConfirmEmail    = "account.confirm_email_change"
	useCaseDeleteConfirmed = "account.delete"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrConflict     = domain.ErrConflict
	ErrValidation   = errors.New("account: validation failed")
	ErrInvalidToken = errors.New("account: invalid or expired token")
	ErrRepository   = errors.New("account: repository failure")
)

// Service sends account notifications and redeems the tokens they carry.
type Service struct {
	repo     domain.Repository
	ids      IDGenerator
	tokens   Tokens
	notifier Notifier
	webhooks WebhookTrigger
	site     notification.Site
	now      func() time.Time

	in *application.Instruments
}

type Option func(*Service)

func WithSite(site notification.Site) Option { return func(s *Service) { s.site = site } }

func WithWebhooks(w WebhookTrigger) Option { return func(s *Service) { s.webhooks = w } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo domain.Repository, ids IDGenerator, tokens Tokens, notifier Notifier, tel observability.Observability, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		ids:      ids,
		tokens:   tokens,
		notifier: notifier,
		now:      time.Now,
		in:       application.NewInstruments(tel, accountService),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return u, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return u, nil
}

type RegisterInput struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsStaff      bool
	// RedirectURL, when set, makes the account inactive until confirmed.
	RedirectURL string
	Channel     string
}

func (s *Service) Register(ctx context.Context, cmd RegisterInput) (_ *domain.User, err error) {
	ctx, run := s.in.Begin(ctx, useCaseRegister, "Register")
	defer func() { run.End(err) }()

	u, err := domain.New(s.ids.NewID(), cmd.Email)
	if err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	u.FirstName, u.LastName, u.IsStaff = cmd.FirstName, cmd.LastName, cmd.IsStaff
	if cmd.LanguageCode != "" {
		u.LanguageCode = cmd.LanguageCode
	}
	if cmd.Password != "" {
		if err := u.SetPassword(cmd.Password); err != nil {
			run.Fail("VALIDATION_FAILED")
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	needsConfirmation := cmd.RedirectURL != ""
	if needsConfirmation {
		u.IsActive = false
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}
	s.record(ctx, run, u.ID, domain.EventAccountCreated, nil)

	if s.webhooks != nil {
		if err := s.webhooks.TriggerWebhooks(ctx, domwebhook.CustomerCreated, notification.UserPayload(u)); err != nil {
			run.Status("WEBHOOK_TRIGGER_FAILED")
			run.With(observability.F("webhook_error", err.Error()))
		}
	}
	if needsConfirmation {
		if err := s.SendAccountConfirmation(ctx, u, cmd.RedirectURL, cmd.Channel); err != nil {
			run.Status("NOTIFY_FAILED")
			run.With(observability.F("notify_error", err.Error()))
		}
	}
	run.With(observability.F("user_id", u.ID))
	return u, nil
}

// SendPasswordResetNotification emails a reset link carrying email and token
// query params. Staff users get the staff variant of the notification.
func (s *Service) SendPasswordResetNotification(ctx context.Context, redirectURL string, u *domain.User, channel string, staff bool) (err error) {
	ctx, run := s.in.Begin(ctx, useCasePasswordReset, "SendPasswordResetNotification",
		attribute.Bool("account.staff", staff),
	)
	defer func() { run.End(err) }()

	tok, err := s.tokens.Make(u, domain.TokenPasswordReset, "")
	if err != nil {
		run.Fail("TOKEN_FAILED")
		return err
	}
	resetURL, err := PrepareURL(redirectURL, u.Email, tok)
	if err != nil {
		run.Fail("INVALID_REDIRECT_URL")
		return err
	}

	payload := s.userPayload(u, channel)
	payload["token"] = tok
	payload["reset_url"] = resetURL

	event := notify.AccountPasswordReset
	if staff {
		event = notify.AccountStaffResetPassword
	}
	if err := s.notify(ctx, event, payload, channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	s.record(ctx, run, u.ID, domain.EventPasswordResetLinkSent, nil)
	return nil
}

func (s *Service) SendAccountConfirmation(ctx context.Context, u *domain.User, redirectURL, channel string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseConfirmation, "SendAccountConfirmation")
	defer func() { run.End(err) }()

	tok, err := s.tokens.Make(u, domain.TokenConfirmation, "")
	if err != nil {
		run.Fail("TOKEN_FAILED")
		return err
	}
	confirmURL, err := PrepareURL(redirectURL, u.Email, tok)
	if err != nil {
		run.Fail("INVALID_REDIRECT_URL")
		return err
	}
	payload := s.userPayload(u, channel)
	payload["token"] = tok
	payload["confirm_url"] = confirmURL

	if err := s.notify(ctx, notify.AccountConfirmation, payload, channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	s.record(ctx, run, u.ID, domain.EventAccountConfirmationSent, nil)
	return nil
}

// SendSetPasswordNotification invites a user created by staff to choose a password.
func (s *Service) SendSetPasswordNotification(ctx context.Context, redirectURL string, u *domain.User, channel string, staff bool) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseSetPassword, "SendSetPasswordNotification",
		attribute.Bool("account.staff", staff),
	)
	defer func() { run.End(err) }()

	tok, err := s.tokens.Make(u, domain.TokenPasswordReset, "")
	if err != nil {
		run.Fail("TOKEN_FAILED")
		return err
	}
	setURL, err := PrepareURL(redirectURL, u.Email, tok)
	if err != nil {
		run.Fail("INVALID_REDIRECT_URL")
		return err
	}
	payload := s.userPayload(u, channel)
	payload["token"] = tok
	payload["password_set_url"] = setURL

	event := notify.AccountSetCustomerPassword
	if staff {
		event = notify.AccountSetStaffPassword
	}
	if err := s.notify(ctx, event, payload, channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	return nil
}

// SendRequestEmailChange sends the confirmation link to the new address.
func (s *Service) SendRequestEmailChange(ctx context.Context, redirectURL string, u *domain.User, newEmail, channel string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseEmailChange, "SendRequestEmailChange")
	defer func() { run.End(err) }()

	newEmail = domain.NormalizeEmail(newEmail)
	if newEmail == "" {
		run.Fail("VALIDATION_FAILED")
		return fmt.Errorf("%w: new email is required", ErrValidation)
	}
	if _, err := s.repo.GetByEmail(ctx, newEmail); err == nil {
		run.Fail("EMAIL_TAKEN")
		return ErrConflict
	}

	tok, err := s.tokens.Make(u, domain.TokenEmailChange, newEmail)
	if err != nil {
		run.Fail("TOKEN_FAILED")
		return err
	}
	redirect, err := appendQuery(redirectURL, url.Values{"token": {tok}})
	if err != nil {
		run.Fail("INVALID_REDIRECT_URL")
		return err
	}
	payload := s.userPayload(u, channel)
	payload["recipient_email"] = newEmail
	payload["token"] = tok
	payload["redirect_url"] = redirect
	payload["old_email"] = u.Email
	payload["new_email"] = newEmail

	if err := s.notify(ctx, notify.AccountChangeEmailRequest, payload, channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	s.record(ctx, run, u.ID, domain.EventEmailChangedRequest, map[string]any{"email": newEmail})
	return nil
}

// SendEmailChangedConfirmation tells the user the address change is done.
func (s *Service) SendEmailChangedConfirmation(ctx context.Context, u *domain.User, channel string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseEmailChanged, "SendEmailChangedConfirmation")
	defer func() { run.End(err) }()

	if err := s.notify(ctx, notify.AccountChangeEmailConfirm, s.userPayload(u, channel), channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	return nil
}

func (s *Service) SendAccountDeleteConfirmation(ctx context.Context, redirectURL string, u *domain.User, channel string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseDeleteRequest, "SendAccountDeleteConfirmation")
	defer func() { run.End(err) }()

	tok, err := s.tokens.Make(u, domain.TokenAccountDelete, "")
	if err != nil {
		run.Fail("TOKEN_FAILED")
		return err
	}
	deleteURL, err := appendQuery(redirectURL, url.Values{"token": {tok}})
	if err != nil {
		run.Fail("INVALID_REDIRECT_URL")
		return err
	}
	payload := s.userPayload(u, channel)
	payload["token"] = tok
	payload["delete_url"] = deleteURL

	if err := s.notify(ctx, notify.AccountDelete, payload, channel); err != nil {
		run.Fail("NOTIFY_FAILED")
		return err
	}
	s.record(ctx, run, u.ID, domain.EventAccountDeleteLinkSent, nil)
	return nil
}

// VerifyToken reports whether raw is a live token of the given purpose for u.
func (s *Service) VerifyToken(u *domain.User, purpose domain.TokenPurpose, raw string) bool {
	_, err := s.tokens.Verify(u, purpose, raw)
	return err == nil
}

// ConfirmAccount activates the account behind a confirmation link.
func (s *Service) ConfirmAccount(ctx context.Context, email, tok string) (_ *domain.User, err error) {
	ctx, run := s.in.Begin(ctx, useCaseConfirmAccount, "ConfirmAccount")
	defer func() { run.End(err) }()

	u, err := s.redeem(ctx, run, email, domain.TokenConfirmation, tok)
	if err != nil {
		return nil, err
	}
	u.IsActive = true
	if err := s.touchAndSave(ctx, run, u); err != nil {
		return nil, err
	}
	s.record(ctx, run, u.ID, domain.EventAccountActivated, nil)
	return u, nil
}

// ResetPassword sets a new password using a reset or set-password token.
func (s *Service) ResetPassword(ctx context.Context, email, tok, password string) (_ *domain.User, err error) {
	ctx, run := s.in.Begin(ctx, useCaseResetPassword, "ResetPassword")
	defer func() { run.End(err) }()

	u, err := s.redeem(ctx, run, email, domain.TokenPasswordReset, tok)
	if err != nil {
		return nil, err
	}
	if err := u.SetPassword(password); err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.touchAndSave(ctx, run, u); err != nil {
		return nil, err
	}
	s.record(ctx, run, u.ID, domain.EventPasswordReset, nil)
	return u, nil
}

// ConfirmEmailChange switches the address requested through SendRequestEmailChange.
func (s *Service) ConfirmEmailChange(ctx context.Context, userID, tok, channel string) (_ *domain.User, err error) {
	ctx, run := s.in.Begin(ctx, useCaseConfirmEmail, "ConfirmEmailChange")
	defer func() { run.End(err) }()

	u, err := s.Get(ctx, userID)
	if err != nil {
		run.Fail("USER_LOOKUP_FAILED")
		return nil, err
	}
	newEmail, err := s.tokens.Verify(u, domain.TokenEmailChange, tok)
	if err != nil || newEmail == "" {
		run.Fail("INVALID_TOKEN")
		return nil, ErrInvalidToken
	}
	if _, err := s.repo.GetByEmail(ctx, newEmail); err == nil {
		run.Fail("EMAIL_TAKEN")
		return nil, ErrConflict
	}
	old := u.Email
	u.Email = newEmail
	if err := s.repo.Update(ctx, u); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return nil, wrapRepositoryError(err)
	}
	s.record(ctx, run, u.ID, domain.EventEmailChanged, map[string]any{"old_email": old, "new_email": newEmail})

	if err := s.SendEmailChangedConfirmation(ctx, u, channel); err != nil {
		run.Status("NOTIFY_FAILED")
		run.With(observability.F("notify_error", err.Error()))
	}
	return u, nil
}

// DeleteAccount deactivates the account behind a delete confirmation link.
func (s *Service) DeleteAccount(ctx context.Context, userID, tok string) (err error) {
	ctx, run := s.in.Begin(ctx, useCaseDeleteConfirmed, "DeleteAccount")
	defer func() { run.End(err) }()

	u, err := s.Get(ctx, userID)
	if err != nil {
		run.Fail("USER_LOOKUP_FAILED")
		return err
	}
	if !s.VerifyToken(u, domain.TokenAccountDelete, tok) {
		run.Fail("INVALID_TOKEN")
		return ErrInvalidToken
	}
	u.IsActive = false
	if err := s.repo.Update(ctx, u); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return wrapRepositoryError(err)
	}
	s.record(ctx, run, u.ID, domain.EventAccountDeactivated, nil)
	return nil
}

func (s *Service) redeem(ctx context.Context, run *application.Run, email string, purpose domain.TokenPurpose, tok string) (*domain.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		run.Fail("USER_LOOKUP_FAILED")
		return nil, err
	}
	if !s.VerifyToken(u, purpose, tok) {
		run.Fail("INVALID_TOKEN")
		return nil, ErrInvalidToken
	}
	return u, nil
}

// touchAndSave bumps LastLogin, which also retires every token issued before.
func (s *Service) touchAndSave(ctx context.Context, run *application.Run, u *domain.User) error {
	now := s.now().UTC()
	u.LastLogin = &now
	if err := s.repo.Update(ctx, u); err != nil {
		run.Fail("REPO_UPDATE_FAILED")
		return wrapRepositoryError(err)
	}
	return nil
}

func (s *Service) userPayload(u *domain.User, channel string) notify.Payload {
	return notification.WithSite(notify.Payload{
		"user":            notification.UserPayload(u),
		"recipient_email": u.Email,
		"channel_slug":    channel,
	}, s.site)
}

func (s *Service) notify(ctx context.Context, event notify.EventType, p notify.Payload, channel string) error {
	if s.notifier == nil {
		return nil
	}
	start := time.Now()
	err := s.notifier.Notify(ctx, event, p, channel, "")
	s.in.External("plugins", string(event), start, err)
	return err
}

// record appends a customer event. A failure is logged on the run only.
func (s *Service) record(ctx context.Context, run *application.Run, userID string, typ domain.CustomerEventType, params map[string]any) {
	e := &domain.CustomerEvent{
		ID:         s.ids.NewID(),
		Type:       typ,
		UserID:     userID,
		Date:       s.now().UTC(),
		Parameters: params,
	}
	if err := s.repo.AddEvent(ctx, e); err != nil {
		run.Status("EVENT_RECORD_FAILED")
		run.With(observability.F("customer_event_error", err.Error()))
	}
}

// PrepareURL adds email and token query params to redirectURL.
func PrepareURL(redirectURL, email, tok string) (string, error) {
	return appendQuery(redirectURL, url.Values{"email": {email}, "token": {tok}})
}

func appendQuery(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", fmt.Errorf("%w: invalid redirect url %q", ErrValidation, raw)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
