package webhook

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// EventDelivery is one event addressed to one webhook.
type EventDelivery struct {
	ID        string
	WebhookID string
	EventType EventType
	Payload   []byte
	Status    DeliveryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewDelivery(id, webhookID string, eventType EventType, payload []byte) *EventDelivery {
	now := time.Now().UTC()
	return &EventDelivery{
		ID:        id,
		WebhookID: webhookID,
		EventType: eventType,
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (d *EventDelivery) Clone() *EventDelivery {
	if d == nil {
		return nil
	}
	c := *d
	c.Payload = append([]byte(nil), d.Payload...)
	return &c
}

// EventDeliveryAttempt records a single try of a delivery.
type EventDeliveryAttempt struct {
	ID                 string
	DeliveryID         string
	TaskID             string
	Duration           time.Duration
	Response           string
	ResponseHeaders    map[string]string
	ResponseStatusCode int
	RequestHeaders     map[string]string
	Status             DeliveryStatus
	CreatedAt          time.Time
}
