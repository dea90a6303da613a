package order

import (
	"context"
	"time"

	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

type IDGenerator interface {
	NewID() string
}

// Locker serialises read-modify-write cycles on a single order.
type Locker interface {
	Lock(ctx context.Context, orderID string, ttl time.Duration) (unlock func(), err error)
}

// Payments is the slice of the payment service orders rely on.
type Payments interface {
	ListByOrder(ctx context.Context, orderID string) ([]*dompay.Payment, error)
	RefundOrVoid(ctx context.Context, paymentID, channel string) (*dompay.Transaction, error)
}

// Notifier hands notify events to plugins; an empty pluginID means all of them.
type Notifier interface {
	Notify(ctx context.Context, event notify.EventType, payload notify.Payload, channel, pluginID string) error
}

type WebhookTrigger interface {
	TriggerWebhooks(ctx context.Context, eventType domwebhook.EventType, payload any) error
}

// StaffDirectory lists staff users that receive order notifications.
type StaffDirectory interface {
	ListStaff(ctx context.Context) ([]*domaccount.User, error)
}
