package account

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/id"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/token"
)

type sent struct {
	event   notify.EventType
	payload notify.Payload
	channel string
}

type notifier struct {
	sent []sent
	err  error
}

func (n *notifier) Notify(_ context.Context, event notify.EventType, p notify.Payload, channel, _ string) error {
	n.sent = append(n.sent, sent{event: event, payload: p, channel: channel})
	return n.err
}

type hooks []domwebhook.EventType

func (h *hooks) TriggerWebhooks(_ context.Context, e domwebhook.EventType, _ any) error {
	*h = append(*h, e)
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memory.AccountRepository
	n     *notifier
	hooks *hooks
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.NewAccountRepository(),
		n:     &notifier{},
		hooks: &hooks{},
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	tokens, err := token.NewGenerator("test-secret", token.WithClock(now))
	require.NoError(t, err)
	f.svc = NewService(f.repo, id.NewUUIDGenerator(), tokens, f.n, nil,
		WithSite(notification.Site{Name: "Shop", Domain: "shop.test"}),
		WithWebhooks(f.hooks),
		WithClock(now),
	)
	return f
}

func (f *fixture) user(t *testing.T, email string, staff bool) *domain.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Email: email, FirstName: "Jane", IsStaff: staff})
	require.NoError(t, err)
	return u
}

func (f *fixture) events(t *testing.T, userID string) []domain.CustomerEventType {
	t.Helper()
	evs, err := f.repo.Events(context.Background(), userID)
	require.NoError(t, err)
	out := make([]domain.CustomerEventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "Jane@Example.com", false)

	assert.Equal(t, "jane@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.Equal(t, []domwebhook.EventType{domwebhook.CustomerCreated}, []domwebhook.EventType(*f.hooks))
	assert.Equal(t, []domain.CustomerEventType{domain.EventAccountCreated}, f.events(t, u.ID))

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "jane@example.com"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.svc.Register(context.Background(), RegisterInput{Email: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPasswordReset_Flow(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "jane@example.com", false)

	require.NoError(t, f.svc.SendPasswordResetNotification(context.Background(), "https://shop.test/reset?lang=en", u, "default", false))

	require.Len(t, f.n.sent, 1)
	msg := f.n.sent[0]
	assert.Equal(t, notify.AccountPasswordReset, msg.event)
	assert.Equal(t, "default", msg.channel)
	assert.Equal(t, "jane@example.com", msg.payload.Recipient())
	assert.Equal(t, "Shop", msg.payload["site_name"])

	link, err := url.Parse(msg.payload["reset_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "en", link.Query().Get("lang"))
	assert.Equal(t, "jane@example.com", link.Query().Get("email"))
	tok := link.Query().Get("token")
	assert.Equal(t, msg.payload["token"], tok)
	assert.True(t, f.svc.VerifyToken(u, domain.TokenPasswordReset, tok))
	assert.False(t, f.svc.VerifyToken(u, domain.TokenConfirmation, tok))

	assert.Contains(t, f.events(t, u.ID), domain.EventPasswordResetLinkSent)

	changed, err := f.svc.ResetPassword(context.Background(), "jane@example.com", tok, "new password 1")
	require.NoError(t, err)
	assert.True(t, changed.CheckPassword("new password 1"))
	assert.Contains(t, f.events(t, u.ID), domain.EventPasswordReset)

	_, err = f.svc.ResetPassword(context.Background(), "jane@example.com", tok, "another password")
	assert.ErrorIs(t, err, ErrInvalidToken, "a token cannot be used twice")
}

func TestPasswordReset_StaffAndFailure(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "admin@shop.test", true)

	require.NoError(t, f.svc.SendPasswordResetNotification(context.Background(), "https://dash.test/reset", u, "", true))
	assert.Equal(t, notify.AccountStaffResetPassword, f.n.sent[0].event)

	f.n.err = errors.New("plugin down")
	err := f.svc.SendPasswordResetNotification(context.Background(), "https://dash.test/reset", u, "", true)
	require.Error(t, err)
	count := 0
	for _, e := range f.events(t, u.ID) {
		if e == domain.EventPasswordResetLinkSent {
			count++
		}
	}
	assert.Equal(t, 1, count, "failed notifications are not recorded")

	err = f.svc.SendPasswordResetNotification(context.Background(), "", u, "", true)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegister_WithConfirmation(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email:       "new@example.com",
		Password:    "long enough",
		RedirectURL: "https://shop.test/confirm",
		Channel:     "default",
	})
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	require.Len(t, f.n.sent, 1)
	assert.Equal(t, notify.AccountConfirmation, f.n.sent[0].event)
	tok := tokenFrom(t, f.n.sent[0].payload["confirm_url"].(string))

	confirmed, err := f.svc.ConfirmAccount(context.Background(), "new@example.com", tok)
	require.NoError(t, err)
	assert.True(t, confirmed.IsActive)
	assert.Equal(t, []domain.CustomerEventType{
		domain.EventAccountCreated,
		domain.EventAccountConfirmationSent,
		domain.EventAccountActivated,
	}, f.events(t, u.ID))

	_, err = f.svc.ConfirmAccount(context.Background(), "new@example.com", "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSetPasswordNotification(t *testing.T) {
	f := newFixture(t)
	customer := f.user(t, "c@example.com", false)
	staff := f.user(t, "s@example.com", true)

	require.NoError(t, f.svc.SendSetPasswordNotification(context.Background(), "https://shop.test/set", customer, "default", false))
	require.NoError(t, f.svc.SendSetPasswordNotification(context.Background(), "https://dash.test/set", staff, "", true))

	assert.Equal(t, notify.AccountSetCustomerPassword, f.n.sent[0].event)
	assert.Equal(t, notify.AccountSetStaffPassword, f.n.sent[1].event)
	assert.Contains(t, f.n.sent[0].payload["password_set_url"], "email=c%40example.com")
}

func TestEmailChange_Flow(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "old@example.com", false)
	f.user(t, "taken@example.com", false)

	err := f.svc.SendRequestEmailChange(context.Background(), "https://shop.test/email", u, "taken@example.com", "default")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, f.svc.SendRequestEmailChange(context.Background(), "https://shop.test/email", u, "New@Example.com", "default"))
	req := f.n.sent[0]
	assert.Equal(t, notify.AccountChangeEmailRequest, req.event)
	assert.Equal(t, "new@example.com", req.payload.Recipient())
	assert.Equal(t, "old@example.com", req.payload["old_email"])
	tok := tokenFrom(t, req.payload["redirect_url"].(string))

	changed, err := f.svc.ConfirmEmailChange(context.Background(), u.ID, tok, "default")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", changed.Email)
	assert.Equal(t, notify.AccountChangeEmailConfirm, f.n.sent[1].event)
	assert.Equal(t, "new@example.com", f.n.sent[1].payload.Recipient())

	_, err = f.svc.GetByEmail(context.Background(), "old@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountDelete_Flow(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "bye@example.com", false)

	require.NoError(t, f.svc.SendAccountDeleteConfirmation(context.Background(), "https://shop.test/delete", u, "default"))
	assert.Equal(t, notify.AccountDelete, f.n.sent[0].event)
	tok := tokenFrom(t, f.n.sent[0].payload["delete_url"].(string))

	assert.ErrorIs(t, f.svc.DeleteAccount(context.Background(), u.ID, "nope"), ErrInvalidToken)
	require.NoError(t, f.svc.DeleteAccount(context.Background(), u.ID, tok))

	stored, err := f.svc.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Contains(t, f.events(t, u.ID), domain.EventAccountDeleteLinkSent)
	assert.Contains(t, f.events(t, u.ID), domain.EventAccountDeactivated)
}

func TestTokens_ExpireWithClock(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "jane@example.com", false)
	require.NoError(t, f.svc.SendPasswordResetNotification(context.Background(), "https://shop.test/reset", u, "", false))
	tok := f.n.sent[0].payload["token"].(string)

	f.clock = f.clock.Add(73 * time.Hour)
	assert.False(t, f.svc.VerifyToken(u, domain.TokenPasswordReset, tok))
}
