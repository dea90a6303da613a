package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: conflict")
	ErrNoLines                = errors.New("order: at least one line is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice           = errors.New("order: price must be zero or greater")
	ErrInvalidCurrency        = errors.New("order: currency is required")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrUnknownLine            = errors.New("order: unknown line")
	ErrOverFulfilled          = errors.New("order: cannot fulfill more than ordered")
)

type Status string

const (
	StatusDraft              Status = "draft"
	StatusUnconfirmed        Status = "unconfirmed"
	StatusUnfulfilled        Status = "unfulfilled"
	StatusPartiallyFulfilled Status = "partially_fulfilled"
	StatusFulfilled          Status = "fulfilled"
	StatusCanceled           Status = "canceled"
)

type ChargeStatus string

const (
	ChargeNone        ChargeStatus = "none"
	ChargePartial     ChargeStatus = "partial"
	ChargeFull        ChargeStatus = "full"
	ChargeOvercharged ChargeStatus = "overcharged"
)

type AuthorizeStatus string

const (
	AuthorizeNone    AuthorizeStatus = "none"
	AuthorizePartial AuthorizeStatus = "partial"
	AuthorizeFull    AuthorizeStatus = "full"
)

type Address struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	CompanyName    string `json:"company_name"`
	StreetAddress1 string `json:"street_address_1"`
	StreetAddress2 string `json:"street_address_2"`
	City           string `json:"city"`
	CityArea       string `json:"city_area"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	CountryArea    string `json:"country_area"`
	Phone          string `json:"phone"`
}

type Line struct {
	ID                string
	ProductName       string
	VariantName       string
	ProductSKU        string
	Quantity          int
	QuantityFulfilled int
	UnitPrice         decimal.Decimal
}

func (l Line) TotalPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID                 string
	Number             int64
	Token              string
	ChannelSlug        string
	UserID             string
	UserEmail          string
	Status             Status
	ChargeStatus       ChargeStatus
	AuthorizeStatus    AuthorizeStatus
	Currency           string
	Lines              []Line
	Subtotal           decimal.Decimal
	ShippingPrice      decimal.Decimal
	Total              decimal.Decimal
	TotalCharged       decimal.Decimal
	TotalAuthorized    decimal.Decimal
	BillingAddress     *Address
	ShippingAddress    *Address
	ShippingMethodName string
	LanguageCode       string
	IdempotencyKey     string
	Metadata           map[string]string
	Events             []Event
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New returns an unconfirmed order with totals computed from its lines.
func New(id, token, channel, email, currency string, lines []Line, shipping decimal.Decimal) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	if shipping.IsNegative() {
		return nil, ErrInvalidPrice
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return nil, ErrInvalidPrice
		}
		subtotal = subtotal.Add(l.TotalPrice())
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              id,
		Token:           token,
		ChannelSlug:     channel,
		UserEmail:       email,
		Status:          StatusUnconfirmed,
		ChargeStatus:    ChargeNone,
		AuthorizeStatus: AuthorizeNone,
		Currency:        currency,
		Lines:           append([]Line(nil), lines...),
		Subtotal:        subtotal,
		ShippingPrice:   shipping,
		Total:           subtotal.Add(shipping),
		TotalCharged:    decimal.Zero,
		TotalAuthorized: decimal.Zero,
		LanguageCode:    "en",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.AddEvent(EventPlaced, "", nil)
	return o, nil
}

func (o *Order) Confirm() error {
	next, err := stateFor(o.Status).Confirm(o)
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.AddEvent(EventConfirmed, "", nil)
	return nil
}

func (o *Order) Cancel(userID string) error {
	next, err := stateFor(o.Status).Cancel(o)
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.AddEvent(EventCanceled, userID, nil)
	return nil
}

// Fulfill ships quantities per line id.
func (o *Order) Fulfill(quantities map[string]int) error {
	for id, qty := range quantities {
		idx := o.lineIndex(id)
		if idx < 0 {
			return ErrUnknownLine
		}
		if qty <= 0 {
			return ErrInvalidQuantity
		}
		if o.Lines[idx].QuantityFulfilled+qty > o.Lines[idx].Quantity {
			return ErrOverFulfilled
		}
	}
	st := stateFor(o.Status)
	for id, qty := range quantities {
		o.Lines[o.lineIndex(id)].QuantityFulfilled += qty
	}
	next, err := st.Fulfill(o, o.fullyShipped())
	if err != nil {
		for id, qty := range quantities {
			o.Lines[o.lineIndex(id)].QuantityFulfilled -= qty
		}
		return err
	}
	o.Status = next.Status()
	o.AddEvent(EventFulfilled, "", map[string]any{"quantities": quantities})
	return nil
}

func (o *Order) lineIndex(id string) int {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *Order) fullyShipped() bool {
	for _, l := range o.Lines {
		if l.QuantityFulfilled < l.Quantity {
			return false
		}
	}
	return true
}

// UpdatePaymentTotals recomputes charge and authorize status from payment sums.
func (o *Order) UpdatePaymentTotals(charged, authorized decimal.Decimal) {
	o.TotalCharged = charged
	o.TotalAuthorized = authorized

	// A zero total with nothing charged counts as paid in full.
	switch {
	case charged.GreaterThan(o.Total):
		o.ChargeStatus = ChargeOvercharged
	case charged.Equal(o.Total):
		o.ChargeStatus = ChargeFull
	case !charged.IsPositive():
		o.ChargeStatus = ChargeNone
	default:
		o.ChargeStatus = ChargePartial
	}

	covered := authorized.Add(charged)
	switch {
	case !covered.IsPositive():
		o.AuthorizeStatus = AuthorizeNone
	case covered.LessThan(o.Total):
		o.AuthorizeStatus = AuthorizePartial
	default:
		o.AuthorizeStatus = AuthorizeFull
	}
	o.touch()
}

func (o *Order) IsFullyPaid() bool {
	return o.ChargeStatus == ChargeFull || o.ChargeStatus == ChargeOvercharged
}

func (o *Order) AddEvent(t EventType, userID string, params map[string]any) {
	o.Events = append(o.Events, Event{Type: t, UserID: userID, Date: time.Now().UTC(), Parameters: params})
	o.touch()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	c.Events = append([]Event(nil), o.Events...)
	if o.BillingAddress != nil {
		a := *o.BillingAddress
		c.BillingAddress = &a
	}
	if o.ShippingAddress != nil {
		a := *o.ShippingAddress
		c.ShippingAddress = &a
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
