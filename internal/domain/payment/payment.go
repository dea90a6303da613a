package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManualGateway marks payments recorded by staff without a processor.
const ManualGateway = "manual"

type Transaction struct {
	ID               string
	PaymentID        string
	Kind             TransactionKind
	IsSuccess        bool
	ActionRequired   bool
	ActionData       map[string]any
	Token            string
	Amount           decimal.Decimal
	Currency         string
	Error            string
	CustomerID       string
	GatewayResponse  map[string]any
	AlreadyProcessed bool
	CreatedAt        time.Time
}

type Payment struct {
	ID                string
	Gateway           string
	IsActive          bool
	ToConfirm         bool
	ChargeStatus      ChargeStatus
	Total             decimal.Decimal
	CapturedAmount    decimal.Decimal
	Currency          string
	OrderID           string
	CheckoutToken     string
	CustomerEmail     string
	CustomerIPAddress string
	BillingAddress    *AddressData
	ShippingAddress   *AddressData
	Token             string
	PSPReference      string
	CCBrand           string
	CCFirstDigits     string
	CCLastDigits      string
	CCExpMonth        int
	CCExpYear         int
	PaymentMethodType string
	Transactions      []Transaction
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// New returns an active, not charged payment.
func New(id, gateway, orderID, currency, email string, total decimal.Decimal) (*Payment, error) {
	if gateway == "" {
		return nil, ErrInvalidGateway
	}
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	if !total.IsPositive() {
		return nil, ErrInvalidTotal
	}
	now := time.Now().UTC()
	return &Payment{
		ID:             id,
		Gateway:        gateway,
		IsActive:       true,
		ChargeStatus:   ChargeStatusNotCharged,
		Total:          total,
		CapturedAmount: decimal.Zero,
		Currency:       currency,
		OrderID:        orderID,
		CustomerEmail:  email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (p *Payment) NotCharged() bool { return p.ChargeStatus == ChargeStatusNotCharged }

func (p *Payment) IsManual() bool { return p.Gateway == ManualGateway }

// IsAuthorized reports whether any authorization succeeded without waiting
// on customer action.
func (p *Payment) IsAuthorized() bool {
	for _, t := range p.Transactions {
		if t.Kind == KindAuth && t.IsSuccess && !t.ActionRequired {
			return true
		}
	}
	return false
}

func (p *Payment) CanAuthorize() bool { return p.IsActive && p.NotCharged() }

func (p *Payment) CanCapture() bool { return p.IsActive && p.NotCharged() }

func (p *Payment) CanVoid() bool { return p.IsActive && p.NotCharged() && p.IsAuthorized() }

func (p *Payment) CanConfirm() bool { return p.IsActive && p.NotCharged() }

func (p *Payment) CanRefund() bool {
	if !p.IsActive {
		return false
	}
	switch p.ChargeStatus {
	case ChargeStatusPartiallyCharged, ChargeStatusFullyCharged, ChargeStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// ChargeAmount is what is left to capture.
func (p *Payment) ChargeAmount() decimal.Decimal { return p.Total.Sub(p.CapturedAmount) }

// AuthorizedAmount sums successful authorizations. A capture can only happen once,
// so nothing stays authorized after a successful capture.
func (p *Payment) AuthorizedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, t := range p.Transactions {
		if t.Kind == KindCapture && t.IsSuccess {
			return decimal.Zero
		}
	}
	for _, t := range p.Transactions {
		if t.Kind == KindAuth && t.IsSuccess && !t.ActionRequired {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// LastTransaction returns the most recent transaction, if any.
func (p *Payment) LastTransaction() (Transaction, bool) {
	if len(p.Transactions) == 0 {
		return Transaction{}, false
	}
	return p.Transactions[len(p.Transactions)-1], true
}

// LastSuccessful returns the most recent successful transaction of the given kind.
func (p *Payment) LastSuccessful(kind TransactionKind) (Transaction, bool) {
	for i := len(p.Transactions) - 1; i >= 0; i-- {
		t := p.Transactions[i]
		if t.Kind == kind && t.IsSuccess {
			return t, true
		}
	}
	return Transaction{}, false
}

// FindProcessed returns an existing transaction for the same gateway token and kind.
func (p *Payment) FindProcessed(token string, kind TransactionKind) (Transaction, bool) {
	if token == "" {
		return Transaction{}, false
	}
	for i := len(p.Transactions) - 1; i >= 0; i-- {
		t := p.Transactions[i]
		if t.Token == token && t.Kind == kind {
			return t, true
		}
	}
	return Transaction{}, false
}

// UpdateMethodDetails copies card details reported by the gateway onto the payment.
func (p *Payment) UpdateMethodDetails(info *PaymentMethodInfo) {
	if info == nil {
		return
	}
	if info.Brand != "" {
		p.CCBrand = info.Brand
	}
	if info.Last4 != "" {
		p.CCLastDigits = info.Last4
	}
	if info.ExpYear != 0 {
		p.CCExpYear = info.ExpYear
	}
	if info.ExpMonth != 0 {
		p.CCExpMonth = info.ExpMonth
	}
	if info.Type != "" {
		p.PaymentMethodType = info.Type
	}
	p.touch()
}

// Apply updates charge state after a gateway transaction. Failed or replayed
// transactions leave the payment untouched.
func (p *Payment) Apply(t Transaction) {
	if !t.IsSuccess || t.AlreadyProcessed {
		return
	}
	defer p.touch()

	if t.ActionRequired {
		p.ToConfirm = true
		return
	}
	p.ToConfirm = false

	switch t.Kind {
	case KindCapture, KindRefundReversed:
		p.CapturedAmount = p.CapturedAmount.Add(t.Amount)
		p.IsActive = true
		p.ChargeStatus = ChargeStatusPartiallyCharged
		if !p.ChargeAmount().IsPositive() {
			p.ChargeStatus = ChargeStatusFullyCharged
		}
	case KindVoid:
		p.IsActive = false
	case KindRefund:
		p.CapturedAmount = p.CapturedAmount.Sub(t.Amount)
		p.ChargeStatus = ChargeStatusPartiallyRefunded
		if !p.CapturedAmount.IsPositive() {
			p.CapturedAmount = decimal.Zero
			p.ChargeStatus = ChargeStatusFullyRefunded
			p.IsActive = false
		}
	case KindPending:
		p.ChargeStatus = ChargeStatusPending
	case KindCancel:
		p.ChargeStatus = ChargeStatusCancelled
		p.IsActive = false
	case KindCaptureFailed:
		if p.ChargeStatus == ChargeStatusPartiallyCharged || p.ChargeStatus == ChargeStatusFullyCharged {
			p.CapturedAmount = p.CapturedAmount.Sub(t.Amount)
			p.ChargeStatus = ChargeStatusPartiallyCharged
			if !p.CapturedAmount.IsPositive() {
				p.ChargeStatus = ChargeStatusNotCharged
			}
		}
	}
}

// Clone returns a deep copy safe to hand out of a repository.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.Transactions = append([]Transaction(nil), p.Transactions...)
	if p.BillingAddress != nil {
		b := *p.BillingAddress
		c.BillingAddress = &b
	}
	if p.ShippingAddress != nil {
		s := *p.ShippingAddress
		c.ShippingAddress = &s
	}
	return &c
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
