package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an entry in the order history.
type EventType string

const (
	EventPlaced            EventType = "placed"
	EventConfirmed         EventType = "confirmed"
	EventCanceled          EventType = "canceled"
	EventFulfilled         EventType = "fulfilled"
	EventPaymentAuthorized EventType = "payment_authorized"
	EventPaymentCaptured   EventType = "payment_captured"
	EventPaymentRefunded   EventType = "payment_refunded"
	EventPaymentVoided     EventType = "payment_voided"
	EventPaymentFailed     EventType = "payment_failed"
	EventOrderFullyPaid    EventType = "order_fully_paid"
	EventEmailSent         EventType = "email_sent"
)

type Event struct {
	Type       EventType
	UserID     string
	Date       time.Time
	Parameters map[string]any
}

// Bus event names.
const (
	EventNameCreated   = "order.created"
	EventNameConfirmed = "order.confirmed"
	EventNameCancelled = "order.cancelled"
	EventNameFullyPaid = "order.fully_paid"
)

// LifecycleEvent is published on the bus when an order changes state.
type LifecycleEvent struct {
	Name        string
	OrderID     string
	ChannelSlug string
	UserEmail   string
	Status      Status
	Total       decimal.Decimal
	Currency    string
	OccurredAt  time.Time
}

func (e LifecycleEvent) EventName() string { return e.Name }

func newLifecycleEvent(name string, o *Order) LifecycleEvent {
	return LifecycleEvent{
		Name:        name,
		OrderID:     o.ID,
		ChannelSlug: o.ChannelSlug,
		UserEmail:   o.UserEmail,
		Status:      o.Status,
		Total:       o.Total,
		Currency:    o.Currency,
		OccurredAt:  time.Now().UTC(),
	}
}

func NewCreatedEvent(o *Order) LifecycleEvent   { return newLifecycleEvent(EventNameCreated, o) }
func NewConfirmedEvent(o *Order) LifecycleEvent { return newLifecycleEvent(EventNameConfirmed, o) }
func NewCancelledEvent(o *Order) LifecycleEvent { return newLifecycleEvent(EventNameCancelled, o) }
func NewFullyPaidEvent(o *Order) LifecycleEvent { return newLifecycleEvent(EventNameFullyPaid, o) }
