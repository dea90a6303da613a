package account

import (
	"context"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/account"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

type IDGenerator interface {
	NewID() string
}

// Tokens issues and redeems one-time account tokens.
type Tokens interface {
	Make(u *domain.User, purpose domain.TokenPurpose, extra string) (string, error)
	Verify(u *domain.User, purpose domain.TokenPurpose, raw string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, event notify.EventType, payload notify.Payload, channel, pluginID string) error
}

type WebhookTrigger interface {
	TriggerWebhooks(ctx context.Context, eventType domwebhook.EventType, payload any) error
}
