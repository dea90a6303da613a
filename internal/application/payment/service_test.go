package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/dummy"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/dummycreditcard"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/id"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

// brokenGateway fails every call at the transport level.
type brokenGateway struct{ *dummy.Gateway }

func (brokenGateway) ID() string { return "broken" }
func (brokenGateway) Capture(context.Context, domain.PaymentData, domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return nil, errors.New("dial tcp: connection refused")
}
func (brokenGateway) ProcessPayment(context.Context, domain.PaymentData, domain.GatewayConfig) (*domain.GatewayResponse, error) {
	return &domain.GatewayResponse{IsSuccess: true, Kind: "bogus"}, nil
}

type fixture struct {
	svc  *Service
	repo *memory.PaymentRepository
	pub  *recordingPublisher
	ok   bool
}

func newFixture(t *testing.T, autoCapture bool, wrap ...func(domain.Repository) domain.Repository) *fixture {
	t.Helper()
	f := &fixture{repo: memory.NewPaymentRepository(), pub: &recordingPublisher{}, ok: true}
	m := plugin.NewManager(nil)
	capture := "false"
	if autoCapture {
		capture = "true"
	}
	cfg := plugin.Configuration{Active: true, Items: []plugin.ConfigItem{{Name: plugin.ItemAutoCapture, Value: capture}}}
	require.NoError(t, m.Register(dummy.NewWithOutcome(func() bool { return f.ok }), cfg))
	require.NoError(t, m.Register(dummycreditcard.New(), cfg))
	require.NoError(t, m.Register(brokenGateway{dummy.New()}, cfg))

	var repo domain.Repository = f.repo
	for _, w := range wrap {
		repo = w(repo)
	}
	f.svc = NewService(repo, memory.NewLocker(), m, id.NewUUIDGenerator(), f.pub, nil)
	return f
}

func (f *fixture) create(t *testing.T, gateway string, total int64) *domain.Payment {
	t.Helper()
	p, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID:  "order-1",
		Gateway:  gateway,
		Total:    decimal.NewFromInt(total),
		Currency: "USD",
		Email:    "jane@example.com",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) reload(t *testing.T, id string) *domain.Payment {
	t.Helper()
	p, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func paymentMessage(t *testing.T, err error) string {
	t.Helper()
	var pe *domain.PaymentError
	require.True(t, errors.As(err, &pe), "expected PaymentError, got %v", err)
	return pe.Message
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCreatePayment_Validation(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{Gateway: dummy.GatewayID, Currency: "USD"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, domain.ErrInvalidTotal)

	_, err = f.svc.CreatePayment(context.Background(), CreatePaymentInput{Gateway: domain.ManualGateway, Currency: "USD", Total: decimal.NewFromInt(1)})
	assert.True(t, domain.IsPaymentError(err))
}

func TestAuthorizeCaptureRefund(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.create(t, dummy.GatewayID, 100)

	txn, err := f.svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "tok", ChannelSlug: "default"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindAuth, txn.Kind)
	assert.True(t, txn.IsSuccess)

	_, err = f.svc.Capture(ctx, p.ID, amount(0), "default")
	assert.Equal(t, "Amount should be a positive number.", paymentMessage(t, err))
	_, err = f.svc.Capture(ctx, p.ID, amount(150), "default")
	assert.Equal(t, "Unable to charge more than un-captured amount.", paymentMessage(t, err))

	txn, err = f.svc.Capture(ctx, p.ID, nil, "default")
	require.NoError(t, err)
	assert.Equal(t, "tok", txn.Token)
	got := f.reload(t, p.ID)
	assert.Equal(t, domain.ChargeStatusFullyCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "1234", got.CCLastDigits)

	_, err = f.svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "tok"})
	assert.Equal(t, "Charged transactions cannot be authorized again.", paymentMessage(t, err))
	_, err = f.svc.Capture(ctx, p.ID, amount(1), "default")
	assert.Equal(t, "This payment cannot be captured.", paymentMessage(t, err))

	_, err = f.svc.Refund(ctx, p.ID, amount(101), "default", nil)
	assert.Equal(t, "Cannot refund more than captured.", paymentMessage(t, err))

	_, err = f.svc.Refund(ctx, p.ID, amount(40), "default", nil)
	require.NoError(t, err)
	got = f.reload(t, p.ID)
	assert.Equal(t, domain.ChargeStatusPartiallyRefunded, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.Equal(decimal.NewFromInt(60)))

	_, err = f.svc.Refund(ctx, p.ID, nil, "default", nil)
	require.NoError(t, err)
	got = f.reload(t, p.ID)
	assert.Equal(t, domain.ChargeStatusFullyRefunded, got.ChargeStatus)
	assert.False(t, got.IsActive)

	_, err = f.svc.Refund(ctx, p.ID, nil, "default", nil)
	assert.Equal(t, "This payment is no longer active.", paymentMessage(t, err))

	assert.Equal(t, []string{
		domain.EventAuthorized, domain.EventCaptured, domain.EventRefunded, domain.EventRefunded,
	}, f.pub.names())
}

func TestCapture_WithoutAuthorization(t *testing.T) {
	f := newFixture(t, false)
	p := f.create(t, dummy.GatewayID, 10)
	_, err := f.svc.Capture(context.Background(), p.ID, nil, "default")
	assert.Equal(t, "Cannot find successful auth transaction.", paymentMessage(t, err))
}

func TestProcessPayment_TokenDrivesStatus(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	p := f.create(t, dummy.GatewayID, 20)
	txn, err := f.svc.ProcessPayment(ctx, ProcessInput{PaymentID: p.ID, Token: string(domain.ChargeStatusFullyRefunded)})
	require.NoError(t, err)
	assert.Equal(t, domain.KindRefund, txn.Kind)

	p = f.create(t, dummy.GatewayID, 20)
	_, err = f.svc.ProcessPayment(ctx, ProcessInput{PaymentID: p.ID, Token: "card"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusFullyCharged, f.reload(t, p.ID).ChargeStatus)
}

func TestProcessPayment_DeclinedCardIsRecorded(t *testing.T) {
	f := newFixture(t, true)
	p := f.create(t, dummycreditcard.GatewayID, 20)

	txn, err := f.svc.ProcessPayment(context.Background(), ProcessInput{PaymentID: p.ID, Token: dummycreditcard.TokenInsufficientFunds})
	assert.Equal(t, "Insufficient funds", paymentMessage(t, err))
	require.NotNil(t, txn)
	assert.False(t, txn.IsSuccess)

	got := f.reload(t, p.ID)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, domain.ChargeStatusNotCharged, got.ChargeStatus)
	assert.Empty(t, f.pub.names())
}

func TestConfirm_3DSecure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	p := f.create(t, dummycreditcard.GatewayID, 20)

	txn, err := f.svc.ProcessPayment(ctx, ProcessInput{PaymentID: p.ID, Token: dummycreditcard.Token3DSecure})
	require.NoError(t, err)
	assert.True(t, txn.ActionRequired)
	assert.True(t, f.reload(t, p.ID).ToConfirm)

	txn, err = f.svc.Confirm(ctx, p.ID, "default", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.KindCapture, txn.Kind)
	assert.Equal(t, dummycreditcard.Token3DSecure, txn.Token)
	got := f.reload(t, p.ID)
	assert.False(t, got.ToConfirm)
	assert.Equal(t, domain.ChargeStatusFullyCharged, got.ChargeStatus)
}

func TestGatewayFailuresAreGeneric(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	p := f.create(t, "broken", 20)
	_, err := f.svc.ProcessPayment(ctx, ProcessInput{PaymentID: p.ID, Token: "x"})
	assert.Equal(t, domain.GenericGatewayError, paymentMessage(t, err))

	p = f.create(t, "missing-gateway", 20)
	txn, err := f.svc.ProcessPayment(ctx, ProcessInput{PaymentID: p.ID, Token: "x"})
	assert.Equal(t, domain.GenericGatewayError, paymentMessage(t, err))
	assert.Equal(t, domain.KindCapture, txn.Kind)
	assert.Equal(t, "x", txn.Token)
}

func TestFailedGatewayResponse(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.create(t, dummy.GatewayID, 20)

	f.ok = false
	_, err := f.svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "t"})
	assert.Equal(t, "Unable to authorize transaction", paymentMessage(t, err))
	assert.False(t, f.reload(t, p.ID).IsAuthorized())
}

func TestRefundOrVoid(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	authorized := f.create(t, dummy.GatewayID, 10)
	_, err := f.svc.Authorize(ctx, AuthorizeInput{PaymentID: authorized.ID, Token: "a"})
	require.NoError(t, err)
	txn, err := f.svc.RefundOrVoid(ctx, authorized.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, domain.KindVoid, txn.Kind)
	assert.False(t, f.reload(t, authorized.ID).IsActive)

	fresh := f.create(t, dummy.GatewayID, 10)
	txn, err = f.svc.RefundOrVoid(ctx, fresh.ID, "default")
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestMarkAsPaid_ManualRefund(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	p, err := f.svc.MarkAsPaid(ctx, MarkAsPaidInput{OrderID: "order-9", Total: decimal.NewFromInt(30), Currency: "USD", PSPReference: "bank-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusFullyCharged, p.ChargeStatus)

	txn, err := f.svc.Refund(ctx, p.ID, amount(30), "default", nil)
	require.NoError(t, err)
	assert.Equal(t, "bank-1", txn.Token)
	assert.Equal(t, domain.ChargeStatusFullyRefunded, f.reload(t, p.ID).ChargeStatus)
	assert.Equal(t, []string{domain.EventCaptured, domain.EventRefunded}, f.pub.names())
}

func TestAlreadyProcessedTransactionIsReused(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.create(t, dummy.GatewayID, 10)
	_, err := f.svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "dup"})
	require.NoError(t, err)

	m := plugin.NewManager(nil)
	require.NoError(t, m.Register(replayGateway{dummy.New()}, plugin.Configuration{Active: true}))
	svc := NewService(f.repo, memory.NewLocker(), m, id.NewUUIDGenerator(), nil, nil)

	first := f.reload(t, p.ID).Transactions[0]
	txn, err := svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "dup"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, txn.ID)
	assert.True(t, txn.AlreadyProcessed)
	assert.Len(t, f.reload(t, p.ID).Transactions, 1)
}

type replayGateway struct{ *dummy.Gateway }

func (g replayGateway) Authorize(ctx context.Context, d domain.PaymentData, c domain.GatewayConfig) (*domain.GatewayResponse, error) {
	resp, err := g.Gateway.Authorize(ctx, d, c)
	if resp != nil {
		resp.TransactionAlreadyProcessed = true
	}
	return resp, err
}

// flakyRepository fails SaveTransaction while fail is set.
type flakyRepository struct {
	domain.Repository
	fail bool
}

func (r *flakyRepository) SaveTransaction(ctx context.Context, p *domain.Payment, t *domain.Transaction) error {
	if r.fail {
		return errors.New("connection reset by peer")
	}
	return r.Repository.SaveTransaction(ctx, p, t)
}

func TestFailedSaveLeavesPaymentUntouched(t *testing.T) {
	flaky := &flakyRepository{}
	f := newFixture(t, false, func(r domain.Repository) domain.Repository {
		flaky.Repository = r
		return flaky
	})
	ctx := context.Background()
	p := f.create(t, dummy.GatewayID, 100)
	_, err := f.svc.Authorize(ctx, AuthorizeInput{PaymentID: p.ID, Token: "tok", ChannelSlug: "default"})
	require.NoError(t, err)

	flaky.fail = true
	_, err = f.svc.Capture(ctx, p.ID, nil, "default")
	require.Error(t, err)
	got := f.reload(t, p.ID)
	assert.Equal(t, domain.ChargeStatusNotCharged, got.ChargeStatus)
	assert.True(t, got.CapturedAmount.IsZero())
	assert.Len(t, got.Transactions, 1, "the capture is not stored without its effect")

	flaky.fail = false
	_, err = f.svc.Capture(ctx, p.ID, nil, "default")
	require.NoError(t, err)
	got = f.reload(t, p.ID)
	assert.Equal(t, domain.ChargeStatusFullyCharged, got.ChargeStatus)
	assert.Len(t, got.Transactions, 2)
	assert.Equal(t, []string{domain.EventAuthorized, domain.EventCaptured}, f.pub.names())
}
