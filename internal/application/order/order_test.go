package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/id"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/memory"
)

type recorder struct {
	mu       sync.Mutex
	events   []string
	notified []notify.EventType
	payloads []notify.Payload
	hooks    []domwebhook.EventType
	notifyFn func(notify.EventType) error
}

func (r *recorder) Publish(_ context.Context, e domoutbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.EventName())
	return nil
}

func (r *recorder) Notify(_ context.Context, event notify.EventType, p notify.Payload, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, event)
	r.payloads = append(r.payloads, p)
	if r.notifyFn != nil {
		return r.notifyFn(event)
	}
	return nil
}

func (r *recorder) TriggerWebhooks(_ context.Context, e domwebhook.EventType, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, e)
	return nil
}

func (r *recorder) Subscribe(string, domoutbox.Handler) {}

type fakePayments struct {
	payments []*dompay.Payment
	released []string
	err      error
	// onRelease runs inside RefundOrVoid, where the real service raises
	// its payment event.
	onRelease func(ctx context.Context, paymentID string)
}

func (f *fakePayments) ListByOrder(_ context.Context, orderID string) ([]*dompay.Payment, error) {
	var out []*dompay.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePayments) RefundOrVoid(ctx context.Context, paymentID, _ string) (*dompay.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.released = append(f.released, paymentID)
	if f.onRelease != nil {
		f.onRelease(ctx, paymentID)
	}
	return &dompay.Transaction{PaymentID: paymentID, IsSuccess: true}, nil
}

type fixture struct {
	repo     *memory.OrderRepository
	create   *CreateOrderUseCase
	svc      *Service
	worker   *Worker
	rec      *recorder
	payments *fakePayments
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewOrderRepository(),
		rec:      &recorder{},
		payments: &fakePayments{},
	}
	f.create = NewCreateOrderUseCase(f.repo, id.NewUUIDGenerator(), f.rec, nil)
	opts = append([]Option{
		WithSite(notification.Site{Name: "Shop", Domain: "shop.test"}),
		WithRedirectURL("https://shop.test/order"),
	}, opts...)
	f.svc = NewService(f.repo, memory.NewLocker(), f.payments, f.rec, f.rec, f.rec, nil, opts...)
	f.worker = NewWorker(f.svc, f.rec, nil)
	return f
}

func (f *fixture) place(t *testing.T, key string) *CreateOrderResult {
	t.Helper()
	res, err := f.create.Execute(context.Background(), CreateOrderInput{
		IdempotencyKey: key,
		ChannelSlug:    "default",
		Email:          " Buyer@Example.com ",
		Currency:       "USD",
		Lines: []LineInput{
			{ProductName: "Mug", ProductSKU: "MUG-1", Quantity: 2, UnitPrice: decimal.RequireFromString("4.50")},
		},
		ShippingPrice: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	return res
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	res := f.place(t, "")
	assert.Equal(t, domain.StatusUnconfirmed, res.Status)
	assert.True(t, res.Total.Equal(decimal.NewFromInt(14)))
	assert.Equal(t, int64(1), res.Number)
	assert.Equal(t, []string{domain.EventNameCreated}, f.rec.events)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", stored.UserEmail)
	require.Len(t, stored.Events, 1)
	assert.Equal(t, domain.EventPlaced, stored.Events[0].Type)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first := f.place(t, "key-1")
	second := f.place(t, "key-1")

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, f.rec.events, 1, "a replay publishes nothing")
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.create.Execute(ctx, CreateOrderInput{ChannelSlug: "default", Currency: "USD"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.create.Execute(ctx, CreateOrderInput{Email: "a@b.c", ChannelSlug: "default", Currency: "USD"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, domain.ErrNoLines)
}

func TestConfirmOrder(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")

	o, err := f.svc.ConfirmOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnfulfilled, o.Status)
	assert.Equal(t, []notify.EventType{notify.OrderConfirmed}, f.rec.notified)
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderConfirmed}, f.rec.hooks)
	assert.Contains(t, f.rec.events, domain.EventNameConfirmed)

	_, err = f.svc.ConfirmOrder(context.Background(), res.OrderID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.svc.ConfirmOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOrder_ReleasesActivePayments(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	f.payments.payments = []*dompay.Payment{
		{ID: "p-1", OrderID: res.OrderID, IsActive: true},
		{ID: "p-2", OrderID: res.OrderID, IsActive: false},
		{ID: "p-3", OrderID: "other", IsActive: true},
	}

	o, err := f.svc.CancelOrder(context.Background(), res.OrderID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, o.Status)
	assert.Equal(t, []string{"p-1"}, f.payments.released)
	assert.Equal(t, []notify.EventType{notify.OrderCanceled}, f.rec.notified)
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderCancelled}, f.rec.hooks)

	_, err = f.svc.CancelOrder(context.Background(), res.OrderID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Len(t, f.payments.released, 1)
}

func TestCancelOrder_PaymentFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	f.payments.payments = []*dompay.Payment{{ID: "p-1", OrderID: res.OrderID, IsActive: true}}
	f.payments.err = dompay.NewPaymentError("Cannot refund")

	_, err := f.svc.CancelOrder(context.Background(), res.OrderID, "")
	require.Error(t, err)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, stored.Status)
	assert.Empty(t, f.rec.notified)
}

func TestFulfillOrder(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	_, err := f.svc.ConfirmOrder(context.Background(), res.OrderID)
	require.NoError(t, err)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	lineID := stored.Lines[0].ID

	o, err := f.svc.FulfillOrder(context.Background(), res.OrderID, map[string]int{lineID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyFulfilled, o.Status)

	o, err = f.svc.FulfillOrder(context.Background(), res.OrderID, map[string]int{lineID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFulfilled, o.Status)
	assert.Contains(t, f.rec.notified, notify.OrderFulfillmentConfirmation)

	_, err = f.svc.FulfillOrder(context.Background(), res.OrderID, map[string]int{lineID: 1})
	assert.ErrorIs(t, err, domain.ErrOverFulfilled)
}

type staffList []*domaccount.User

func (s staffList) ListStaff(context.Context) ([]*domaccount.User, error) { return s, nil }

func TestSendOrderConfirmation(t *testing.T) {
	f := newFixture(t,
		WithStaffEmails("Ops@Shop.test"),
		WithStaffDirectory(staffList{
			{Email: "admin@shop.test", IsStaff: true, IsActive: true},
			{Email: "gone@shop.test", IsStaff: true, IsActive: false},
			{Email: "ops@shop.test", IsStaff: true, IsActive: true},
		}),
	)
	res := f.place(t, "")

	require.NoError(t, f.svc.SendOrderConfirmation(context.Background(), res.OrderID))

	require.Equal(t, []notify.EventType{notify.OrderConfirmation, notify.StaffOrderConfirmation}, f.rec.notified)
	customer := f.rec.payloads[0]
	assert.Equal(t, "buyer@example.com", customer.Recipient())
	assert.Equal(t, "Shop", customer["site_name"])
	order := customer["order"].(map[string]any)
	assert.Equal(t, "14.00", order["total"])

	staff := f.rec.payloads[1]
	assert.Equal(t, []string{"admin@shop.test", "ops@shop.test"}, staff.Recipients())
	assert.Empty(t, staff.Recipient())

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	last := stored.Events[len(stored.Events)-1]
	assert.Equal(t, domain.EventEmailSent, last.Type)
	assert.Equal(t, "order_confirmation", last.Parameters["email_type"])
}

func TestSendOrderConfirmation_NotifyFailure(t *testing.T) {
	f := newFixture(t)
	f.rec.notifyFn = func(notify.EventType) error { return errors.New("queue down") }
	res := f.place(t, "")

	err := f.svc.SendOrderConfirmation(context.Background(), res.OrderID)
	require.Error(t, err)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	for _, e := range stored.Events {
		assert.NotEqual(t, domain.EventEmailSent, e.Type)
	}
}

func TestWorker_PaymentCapturedMarksFullyPaid(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	f.payments.payments = []*dompay.Payment{{
		ID:             "p-1",
		OrderID:        res.OrderID,
		IsActive:       true,
		Total:          decimal.NewFromInt(14),
		CapturedAmount: decimal.NewFromInt(14),
	}}

	err := f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
		Name:      dompay.EventCaptured,
		PaymentID: "p-1",
		OrderID:   res.OrderID,
		Kind:      dompay.KindCapture,
		Amount:    decimal.NewFromInt(14),
		Currency:  "USD",
	})
	require.NoError(t, err)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeFull, stored.ChargeStatus)
	types := make([]domain.EventType, 0, len(stored.Events))
	for _, e := range stored.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventPlaced, domain.EventPaymentCaptured, domain.EventOrderFullyPaid}, types)
	assert.Equal(t, []notify.EventType{notify.OrderPaymentConfirmation}, f.rec.notified)
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderFullyPaid}, f.rec.hooks)
	assert.Contains(t, f.rec.events, domain.EventNameFullyPaid)
}

func TestWorker_PartialCaptureAndRefund(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	p := &dompay.Payment{
		ID:             "p-1",
		OrderID:        res.OrderID,
		IsActive:       true,
		Total:          decimal.NewFromInt(14),
		CapturedAmount: decimal.NewFromInt(4),
	}
	f.payments.payments = []*dompay.Payment{p}

	require.NoError(t, f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
		Name: dompay.EventCaptured, PaymentID: "p-1", OrderID: res.OrderID, Amount: decimal.NewFromInt(4),
	}))
	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargePartial, stored.ChargeStatus)
	assert.Empty(t, f.rec.notified)

	p.CapturedAmount = decimal.Zero
	require.NoError(t, f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
		Name: dompay.EventRefunded, PaymentID: "p-1", OrderID: res.OrderID, Amount: decimal.NewFromInt(4), Currency: "USD",
	}))
	stored, err = f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeNone, stored.ChargeStatus)
	require.Equal(t, []notify.EventType{notify.OrderRefundConfirmation}, f.rec.notified)
	assert.Equal(t, "4.00", f.rec.payloads[0]["amount"])
}

func TestWorker_OrderCreatedSendsConfirmation(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)

	require.NoError(t, f.worker.handleCreated(context.Background(), domain.NewCreatedEvent(stored)))
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderCreated}, f.rec.hooks)
	assert.Equal(t, []notify.EventType{notify.OrderConfirmation}, f.rec.notified)
}

func eventTypes(o *domain.Order) []domain.EventType {
	types := make([]domain.EventType, 0, len(o.Events))
	for _, e := range o.Events {
		types = append(types, e.Type)
	}
	return types
}

func TestCancelOrder_KeepsRefundRecordedWhileReleasing(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	p := &dompay.Payment{
		ID:             "p-1",
		OrderID:        res.OrderID,
		IsActive:       true,
		Total:          decimal.NewFromInt(14),
		CapturedAmount: decimal.NewFromInt(14),
	}
	f.payments.payments = []*dompay.Payment{p}
	require.NoError(t, f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
		Name: dompay.EventCaptured, PaymentID: "p-1", OrderID: res.OrderID, Amount: decimal.NewFromInt(14),
	}))

	f.payments.onRelease = func(ctx context.Context, paymentID string) {
		p.CapturedAmount = decimal.Zero
		p.IsActive = false
		require.NoError(t, f.worker.handlePayment(ctx, dompay.TransactionEvent{
			Name: dompay.EventRefunded, PaymentID: paymentID, OrderID: res.OrderID, Amount: decimal.NewFromInt(14), Currency: "USD",
		}))
	}

	o, err := f.svc.CancelOrder(context.Background(), res.OrderID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, o.Status)

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, stored.Status)
	assert.Equal(t, domain.ChargeNone, stored.ChargeStatus)
	assert.True(t, stored.TotalCharged.IsZero())
	assert.Contains(t, eventTypes(stored), domain.EventPaymentRefunded)
	assert.Contains(t, eventTypes(stored), domain.EventCanceled)
}

func TestWorker_PaymentEventAfterCancelKeepsStatus(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	_, err := f.svc.CancelOrder(context.Background(), res.OrderID, "")
	require.NoError(t, err)

	require.NoError(t, f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
		Name: dompay.EventVoided, PaymentID: "p-1", OrderID: res.OrderID, Amount: decimal.Zero,
	}))

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, stored.Status)
	assert.Contains(t, eventTypes(stored), domain.EventPaymentVoided)
}

func TestConcurrentConfirmAndPaymentEvents(t *testing.T) {
	f := newFixture(t)
	res := f.place(t, "")
	f.payments.payments = []*dompay.Payment{{
		ID:             "p-1",
		OrderID:        res.OrderID,
		IsActive:       true,
		Total:          decimal.NewFromInt(14),
		CapturedAmount: decimal.NewFromInt(4),
	}}

	const events = 20
	var wg sync.WaitGroup
	errs := make(chan error, events+1)
	wg.Add(events + 1)
	go func() {
		defer wg.Done()
		_, err := f.svc.ConfirmOrder(context.Background(), res.OrderID)
		errs <- err
	}()
	for i := 0; i < events; i++ {
		go func() {
			defer wg.Done()
			errs <- f.worker.handlePayment(context.Background(), dompay.TransactionEvent{
				Name: dompay.EventCaptured, PaymentID: "p-1", OrderID: res.OrderID, Amount: decimal.NewFromInt(1),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnfulfilled, stored.Status)
	assert.Equal(t, domain.ChargePartial, stored.ChargeStatus)
	captured := 0
	for _, typ := range eventTypes(stored) {
		if typ == domain.EventPaymentCaptured {
			captured++
		}
	}
	assert.Equal(t, events, captured)
}
