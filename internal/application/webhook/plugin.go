package webhook

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domain "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

const (
	PluginID   = "storefront.webhooks"
	pluginName = "Webhooks"
	// PayloadVersion is reported in the meta of notify_user payloads.
	PayloadVersion = "1.0"
)

// Plugin forwards manager events to subscribed webhooks, and every notify
// event as a notify_user webhook.
type Plugin struct {
	svc *Service
	now func() time.Time
}

func NewPlugin(svc *Service) *Plugin {
	return &Plugin{svc: svc, now: time.Now}
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Trigger(ctx context.Context, eventType domain.EventType, payload any) error {
	return p.svc.TriggerWebhooks(ctx, eventType, payload)
}

func (p *Plugin) Notify(ctx context.Context, event notify.EventType, payload notify.Payload, _ plugin.Configuration) error {
	return p.svc.TriggerWebhooks(ctx, domain.NotifyUser, map[string]any{
		"notify_event": string(event),
		"payload":      payload,
		"meta": map[string]any{
			"issued_at": p.now().UTC().Format(time.RFC3339),
			"version":   PayloadVersion,
		},
	})
}

func (p *Plugin) GiftCardSent(ctx context.Context, card *domgift.GiftCard, channel, email string) error {
	return p.svc.TriggerWebhooks(ctx, domain.GiftCardSent, map[string]any{
		"gift_card":     notification.GiftCardPayload(card),
		"channel_slug":  channel,
		"sent_to_email": email,
	})
}
