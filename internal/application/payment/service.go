package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService  = "payment-service"
	publishPeer     = "outbox"
	publishTimeout  = 300 * time.Millisecond
	defaultLockTTL  = 30 * time.Second
	unsuccessfulMsg = "Transaction was unsuccessful"

	useCaseCreate    = "payment.create"
	useCaseMarkPaid  = "payment.mark_as_paid"
	useCaseProcess   = "payment.process"
	useCaseAuthorize = "payment.authorize"
	useCaseCapture   = "payment.capture"
	useCaseRefund    = "payment.refund"
	useCaseVoid      = "payment.void"
	useCaseConfirm   = "payment.confirm"
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("payment: repository failure")
	ErrValidation = errors.New("payment: validation failed")
)

// Service runs gateway operations against stored payments.
type Service struct {
	repo      domain.Repository
	locker    domain.Locker
	gateways  Gateways
	ids       IDGenerator
	publisher domoutbox.Publisher
	lockTTL   time.Duration

	in *application.Instruments
}

type Option func(*Service)

func WithLockTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

func NewService(
	repo domain.Repository,
	locker domain.Locker,
	gateways Gateways,
	ids IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...Option,
) *Service {
	s := &Service{
		repo:      repo,
		locker:    locker,
		gateways:  gateways,
		ids:       ids,
		publisher: publisher,
		lockTTL:   defaultLockTTL,
		in:        application.NewInstruments(tel, paymentService),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreatePaymentInput struct {
	OrderID           string
	Gateway           string
	Total             decimal.Decimal
	Currency          string
	Email             string
	CustomerIPAddress string
	Billing           *domain.AddressData
	Shipping          *domain.AddressData
}

func (s *Service) CreatePayment(ctx context.Context, cmd CreatePaymentInput) (_ *domain.Payment, err error) {
	ctx, run := s.in.Begin(ctx, useCaseCreate, "CreatePayment",
		attribute.String("payment.gateway", cmd.Gateway),
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { run.End(err) }()

	if cmd.Gateway == domain.ManualGateway {
		run.Fail("GATEWAY_RESERVED")
		return nil, domain.NewPaymentError("The manual gateway is reserved for payments marked as paid.")
	}
	p, err := domain.New(s.ids.NewID(), cmd.Gateway, cmd.OrderID, cmd.Currency, cmd.Email, cmd.Total)
	if err != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	p.CustomerIPAddress = cmd.CustomerIPAddress
	p.BillingAddress = cmd.Billing
	p.ShippingAddress = cmd.Shipping

	if err := s.repo.Insert(ctx, p); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}
	run.With(observability.F("payment_id", p.ID))
	return p, nil
}

type MarkAsPaidInput struct {
	OrderID      string
	Total        decimal.Decimal
	Currency     string
	Email        string
	PSPReference string
	ChannelSlug  string
}

// MarkAsPaid records money received outside any gateway as a fully charged manual payment.
func (s *Service) MarkAsPaid(ctx context.Context, cmd MarkAsPaidInput) (_ *domain.Payment, err error) {
	ctx, run := s.in.Begin(ctx, useCaseMarkPaid, "MarkAsPaid", attribute.String("order.id", cmd.OrderID))
	defer func() { run.End(err) }()

	p, err := domain.New(s.ids.NewID(), domain.ManualGateway, cmd.OrderID, cmd.Currency, cmd.Email, cmd.Total)
	if err != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	txn := domain.Transaction{
		ID:        s.ids.NewID(),
		PaymentID: p.ID,
		Kind:      domain.KindExternal,
		IsSuccess: true,
		Token:     cmd.PSPReference,
		Amount:    cmd.Total,
		Currency:  cmd.Currency,
		CreatedAt: time.Now().UTC(),
	}
	p.PSPReference = cmd.PSPReference
	p.CapturedAmount = cmd.Total
	p.ChargeStatus = domain.ChargeStatusFullyCharged
	p.Transactions = append(p.Transactions, txn)

	if err := s.repo.Insert(ctx, p); err != nil {
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}

	evt := domain.NewTransactionEvent(p, txn, cmd.ChannelSlug)
	evt.Name = domain.EventCaptured
	if perr := s.publish(ctx, evt); perr != nil {
		run.Status("EVENT_PUBLISH_FAILED")
		run.With(observability.F("event_publish_error", perr.Error()))
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrValidation)
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return p, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	ps, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return ps, nil
}

type ProcessInput struct {
	PaymentID      string
	Token          string
	ChannelSlug    string
	CustomerID     string
	StoreSource    bool
	AdditionalData map[string]any
}

// ProcessPayment charges in one step, or authorizes when the gateway does not auto-capture.
func (s *Service) ProcessPayment(ctx context.Context, cmd ProcessInput) (*domain.Transaction, error) {
	return s.execute(ctx, cmd.PaymentID, cmd.ChannelSlug, operation{
		useCase: useCaseProcess,
		span:    "ProcessPayment",
		kind:    domain.KindCapture,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			d := paymentData(p, cmd.Token, p.Total)
			d.CustomerID, d.ReuseSource, d.Data = cmd.CustomerID, cmd.StoreSource, cmd.AdditionalData
			return d, nil
		},
		call:          s.gateways.ProcessPayment,
		updateDetails: true,
	})
}

type AuthorizeInput struct {
	PaymentID   string
	Token       string
	ChannelSlug string
	CustomerID  string
	StoreSource bool
}

func (s *Service) Authorize(ctx context.Context, cmd AuthorizeInput) (*domain.Transaction, error) {
	return s.execute(ctx, cmd.PaymentID, cmd.ChannelSlug, operation{
		useCase: useCaseAuthorize,
		span:    "Authorize",
		kind:    domain.KindAuth,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			if !p.CanAuthorize() {
				return domain.PaymentData{}, domain.NewPaymentError("Charged transactions cannot be authorized again.")
			}
			d := paymentData(p, cmd.Token, p.Total)
			d.CustomerID, d.ReuseSource = cmd.CustomerID, cmd.StoreSource
			return d, nil
		},
		call:          s.gateways.Authorize,
		updateDetails: true,
	})
}

// Capture charges amount, or everything not yet captured when amount is nil.
func (s *Service) Capture(ctx context.Context, paymentID string, amount *decimal.Decimal, channel string) (*domain.Transaction, error) {
	return s.execute(ctx, paymentID, channel, operation{
		useCase: useCaseCapture,
		span:    "Capture",
		kind:    domain.KindCapture,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			amt := p.ChargeAmount()
			if amount != nil {
				amt = *amount
			}
			if !amt.IsPositive() {
				return domain.PaymentData{}, domain.NewPaymentError("Amount should be a positive number.")
			}
			if !p.CanCapture() {
				return domain.PaymentData{}, domain.NewPaymentError("This payment cannot be captured.")
			}
			if amt.GreaterThan(p.Total) || amt.GreaterThan(p.ChargeAmount()) {
				return domain.PaymentData{}, domain.NewPaymentError("Unable to charge more than un-captured amount.")
			}
			token, err := pastToken(p, domain.KindAuth)
			if err != nil {
				return domain.PaymentData{}, err
			}
			return paymentData(p, token, amt), nil
		},
		call:          s.gateways.Capture,
		updateDetails: true,
	})
}

// Refund returns amount, or everything captured when amount is nil.
func (s *Service) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, channel string, refund *domain.RefundData) (*domain.Transaction, error) {
	return s.execute(ctx, paymentID, channel, operation{
		useCase: useCaseRefund,
		span:    "Refund",
		kind:    domain.KindRefund,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			amt := p.CapturedAmount
			if amount != nil {
				amt = *amount
			}
			if !amt.IsPositive() {
				return domain.PaymentData{}, domain.NewPaymentError("Amount should be a positive number.")
			}
			if amt.GreaterThan(p.CapturedAmount) {
				return domain.PaymentData{}, domain.NewPaymentError("Cannot refund more than captured.")
			}
			if !p.CanRefund() {
				return domain.PaymentData{}, domain.NewPaymentError("This payment cannot be refunded.")
			}
			kind := domain.KindCapture
			if p.IsManual() {
				kind = domain.KindExternal
			}
			token, err := pastToken(p, kind)
			if err != nil {
				return domain.PaymentData{}, err
			}
			d := paymentData(p, token, amt)
			d.RefundData = refund
			return d, nil
		},
		call: func(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error) {
			if gatewayID == domain.ManualGateway {
				return manualRefund(data), nil
			}
			return s.gateways.Refund(ctx, gatewayID, data, channel)
		},
	})
}

func (s *Service) Void(ctx context.Context, paymentID, channel string) (*domain.Transaction, error) {
	return s.execute(ctx, paymentID, channel, operation{
		useCase: useCaseVoid,
		span:    "Void",
		kind:    domain.KindVoid,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			token, err := pastToken(p, domain.KindAuth)
			if err != nil {
				return domain.PaymentData{}, err
			}
			return paymentData(p, token, p.Total), nil
		},
		call: s.gateways.Void,
	})
}

// Confirm completes a payment that required customer action.
func (s *Service) Confirm(ctx context.Context, paymentID, channel string, additional map[string]any) (*domain.Transaction, error) {
	return s.execute(ctx, paymentID, channel, operation{
		useCase: useCaseConfirm,
		span:    "Confirm",
		kind:    domain.KindConfirm,
		prepare: func(p *domain.Payment) (domain.PaymentData, error) {
			token := ""
			if t, ok := p.LastSuccessful(domain.KindActionToConfirm); ok {
				token = t.Token
			}
			d := paymentData(p, token, p.Total)
			d.Data = additional
			return d, nil
		},
		call: s.gateways.Confirm,
	})
}

// RefundOrVoid releases the money held by a payment. It returns nil when
// the payment is in a state where neither applies.
func (s *Service) RefundOrVoid(ctx context.Context, paymentID, channel string) (*domain.Transaction, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.CanRefund():
		return s.Refund(ctx, paymentID, nil, channel, nil)
	case p.CanVoid():
		return s.Void(ctx, paymentID, channel)
	default:
		return nil, nil
	}
}

type gatewayCall func(ctx context.Context, gatewayID string, data domain.PaymentData, channel string) (*domain.GatewayResponse, error)

type operation struct {
	useCase string
	span    string
	// kind is recorded when the gateway gave no usable response.
	kind domain.TransactionKind
	// prepare validates the locked payment and builds the gateway request.
	prepare       func(p *domain.Payment) (domain.PaymentData, error)
	call          gatewayCall
	updateDetails bool
}

func (s *Service) execute(ctx context.Context, paymentID, channel string, op operation) (_ *domain.Transaction, err error) {
	ctx, run := s.in.Begin(ctx, op.useCase, op.span,
		attribute.String("payment.id", paymentID),
		attribute.String("channel", channel),
	)
	defer func() { run.End(err) }()
	run.With(observability.F("payment_id", paymentID))

	if paymentID == "" {
		run.Fail("PAYMENT_ID_REQUIRED")
		return nil, fmt.Errorf("%w: payment id is required", ErrValidation)
	}

	unlock, err := s.locker.Lock(ctx, paymentID, s.lockTTL)
	if err != nil {
		run.Fail("LOCK_FAILED")
		return nil, fmt.Errorf("payment: lock %s: %w", paymentID, err)
	}
	defer unlock()

	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		run.Fail("PAYMENT_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if !p.IsActive {
		run.Fail("PAYMENT_INACTIVE")
		return nil, domain.NewPaymentError("This payment is no longer active.")
	}

	data, err := op.prepare(p)
	if err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, err
	}

	resp, gwErr := s.fetchGatewayResponse(ctx, run, p.Gateway, data, channel, op.call)

	if resp != nil && resp.TransactionAlreadyProcessed {
		if existing, ok := p.FindProcessed(resp.TransactionID, resp.Kind); ok {
			existing.AlreadyProcessed = true
			run.Status("ALREADY_PROCESSED")
			return &existing, checkSuccess(existing)
		}
	}

	txn := s.newTransaction(p, op.kind, data, resp, gwErr)
	p.Transactions = append(p.Transactions, txn)
	p.Apply(txn)
	if resp != nil && txn.IsSuccess {
		if op.updateDetails {
			p.UpdateMethodDetails(resp.PaymentMethodInfo)
		}
		if resp.PSPReference != "" {
			p.PSPReference = resp.PSPReference
		}
	}

	if err := s.repo.SaveTransaction(ctx, p, &txn); err != nil {
		run.Fail("REPO_SAVE_FAILED")
		return nil, wrapRepositoryError(err)
	}

	run.Span().SetAttributes(
		attribute.String("payment.kind", string(txn.Kind)),
		attribute.Bool("payment.success", txn.IsSuccess),
		attribute.String("payment.charge_status", string(p.ChargeStatus)),
	)
	run.With(
		observability.F("transaction_id", txn.ID),
		observability.F("kind", string(txn.Kind)),
		observability.F("charge_status", string(p.ChargeStatus)),
	)

	if txn.IsSuccess && domain.EventNameFor(txn.Kind) != "" {
		if perr := s.publish(ctx, domain.NewTransactionEvent(p, txn, channel)); perr != nil {
			run.Status("EVENT_PUBLISH_FAILED")
			run.With(observability.F("event_publish_error", perr.Error()))
		}
	}

	if err := checkSuccess(txn); err != nil {
		run.Fail("TRANSACTION_FAILED")
		return &txn, err
	}
	return &txn, nil
}

// fetchGatewayResponse hides adapter failures behind the generic message.
func (s *Service) fetchGatewayResponse(ctx context.Context, run *application.Run, gatewayID string, data domain.PaymentData, channel string, call gatewayCall) (*domain.GatewayResponse, string) {
	resp, err := call(ctx, gatewayID, data, channel)
	if err == nil {
		err = domain.ValidateGatewayResponse(gatewayID, resp)
		if err != nil {
			run.Logger().Error("gateway_response_invalid",
				observability.F("gateway", gatewayID),
				observability.F("error", err.Error()),
			)
			return nil, domain.GenericGatewayError
		}
		return resp, ""
	}
	run.Logger().Error("gateway_call_failed",
		observability.F("gateway", gatewayID),
		observability.F("error", err.Error()),
	)
	return nil, domain.GenericGatewayError
}

func (s *Service) newTransaction(p *domain.Payment, kind domain.TransactionKind, data domain.PaymentData, resp *domain.GatewayResponse, errMsg string) domain.Transaction {
	if resp == nil {
		resp = &domain.GatewayResponse{
			Kind:          kind,
			TransactionID: data.Token,
			Amount:        data.Amount,
			Currency:      data.Currency,
			Error:         errMsg,
			RawResponse:   map[string]any{},
		}
	}
	currency := resp.Currency
	if currency == "" {
		currency = p.Currency
	}
	return domain.Transaction{
		ID:               s.ids.NewID(),
		PaymentID:        p.ID,
		Kind:             resp.Kind,
		IsSuccess:        resp.IsSuccess,
		ActionRequired:   resp.ActionRequired,
		ActionData:       resp.ActionRequiredData,
		Token:            resp.TransactionID,
		Amount:           resp.Amount,
		Currency:         currency,
		Error:            resp.Error,
		CustomerID:       resp.CustomerID,
		GatewayResponse:  resp.RawResponse,
		AlreadyProcessed: resp.TransactionAlreadyProcessed,
		CreatedAt:        time.Now().UTC(),
	}
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

func paymentData(p *domain.Payment, token string, amount decimal.Decimal) domain.PaymentData {
	return domain.PaymentData{
		Gateway:           p.Gateway,
		Amount:            amount,
		Currency:          p.Currency,
		Billing:           p.BillingAddress,
		Shipping:          p.ShippingAddress,
		PaymentID:         p.ID,
		GraphqlPaymentID:  p.ID,
		OrderID:           p.OrderID,
		CustomerIPAddress: p.CustomerIPAddress,
		CustomerEmail:     p.CustomerEmail,
		Token:             token,
	}
}

func pastToken(p *domain.Payment, kind domain.TransactionKind) (string, error) {
	t, ok := p.LastSuccessful(kind)
	if !ok {
		return "", domain.NewPaymentError(fmt.Sprintf("Cannot find successful %s transaction.", kind))
	}
	return t.Token, nil
}

func manualRefund(data domain.PaymentData) *domain.GatewayResponse {
	return &domain.GatewayResponse{
		IsSuccess:     true,
		Kind:          domain.KindRefund,
		Amount:        data.Amount,
		Currency:      data.Currency,
		TransactionID: data.Token,
		RawResponse:   map[string]any{},
	}
}

func checkSuccess(t domain.Transaction) error {
	if t.IsSuccess {
		return nil
	}
	msg := t.Error
	if msg == "" {
		msg = unsuccessfulMsg
	}
	return domain.NewPaymentError(msg)
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return domain.ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
