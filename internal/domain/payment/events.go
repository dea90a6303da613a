package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionEvent is published after a successful gateway operation changed a payment.
type TransactionEvent struct {
	Name          string
	PaymentID     string
	OrderID       string
	Kind          TransactionKind
	Amount        decimal.Decimal
	Currency      string
	ChargeStatus  ChargeStatus
	ChannelSlug   string
	TransactionID string
	OccurredAt    time.Time
}

func (e TransactionEvent) EventName() string { return e.Name }

const (
	EventAuthorized = "payment.authorized"
	EventCaptured   = "payment.captured"
	EventRefunded   = "payment.refunded"
	EventVoided     = "payment.voided"
	EventConfirmed  = "payment.confirmed"
	EventPending    = "payment.pending"
)

// EventNameFor maps a transaction kind to the event announcing it, or "" when nothing is announced.
func EventNameFor(kind TransactionKind) string {
	switch kind {
	case KindAuth:
		return EventAuthorized
	case KindCapture:
		return EventCaptured
	case KindRefund:
		return EventRefunded
	case KindVoid:
		return EventVoided
	case KindConfirm:
		return EventConfirmed
	case KindPending:
		return EventPending
	default:
		return ""
	}
}

func NewTransactionEvent(p *Payment, t Transaction, channel string) TransactionEvent {
	return TransactionEvent{
		Name:          EventNameFor(t.Kind),
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		Currency:      t.Currency,
		ChargeStatus:  p.ChargeStatus,
		ChannelSlug:   channel,
		TransactionID: t.ID,
		OccurredAt:    time.Now().UTC(),
	}
}
