package webhook

import "context"

type Repository interface {
	Insert(ctx context.Context, w *Webhook) error
	Get(ctx context.Context, id string) (*Webhook, error)
	List(ctx context.Context) ([]*Webhook, error)
	// ListSubscribed returns active webhooks subscribed to e or to any_events.
	ListSubscribed(ctx context.Context, e EventType) ([]*Webhook, error)
	Delete(ctx context.Context, id string) error
}

type DeliveryRepository interface {
	InsertDelivery(ctx context.Context, d *EventDelivery) error
	GetDelivery(ctx context.Context, id string) (*EventDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status DeliveryStatus) error
	InsertAttempt(ctx context.Context, a *EventDeliveryAttempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]*EventDeliveryAttempt, error)
}
