// Package plugin dispatches payment, notification and webhook work to the
// plugins active in a channel.
package plugin

import (
	"context"
	"strconv"
	"strings"

	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
)

type Plugin interface {
	ID() string
	Name() string
}

// GatewayPlugin is a plugin that processes payments.
type GatewayPlugin interface {
	Plugin
	dompay.Gateway
}

// NotifyPlugin turns notify events into messages.
type NotifyPlugin interface {
	Plugin
	Notify(ctx context.Context, event notify.EventType, payload notify.Payload, cfg Configuration) error
}

type GiftCardSentPlugin interface {
	Plugin
	GiftCardSent(ctx context.Context, card *domgift.GiftCard, channel, email string) error
}

type WebhookPlugin interface {
	Plugin
	Trigger(ctx context.Context, eventType domwebhook.EventType, payload any) error
}

type ConfigItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Configuration is the per-channel setup of one plugin. An empty ChannelSlug
// applies to every channel without a dedicated configuration.
type Configuration struct {
	PluginID    string
	ChannelSlug string
	Active      bool
	Items       []ConfigItem
}

func (c Configuration) Get(name string) (string, bool) {
	for _, it := range c.Items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

func (c Configuration) String(name string) string {
	v, _ := c.Get(name)
	return v
}

func (c Configuration) Bool(name string) bool {
	v, ok := c.Get(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Strings splits a comma separated value.
func (c Configuration) Strings(name string) []string {
	v, ok := c.Get(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Set replaces or appends an item.
func (c *Configuration) Set(name, value string) {
	for i := range c.Items {
		if c.Items[i].Name == name {
			c.Items[i].Value = value
			return
		}
	}
	c.Items = append(c.Items, ConfigItem{Name: name, Value: value})
}

// Gateway configuration item names.
const (
	ItemAutoCapture         = "auto_capture"
	ItemSupportedCurrencies = "supported_currencies"
	ItemStoreCustomer       = "store_customer"
	ItemRequire3DSecure     = "require_3d_secure"
)

var gatewayItems = map[string]struct{}{
	ItemAutoCapture:         {},
	ItemSupportedCurrencies: {},
	ItemStoreCustomer:       {},
	ItemRequire3DSecure:     {},
}

// GatewayConfig projects the configuration onto what a gateway adapter consumes.
// Items that are not gateway flags become connection parameters.
func (c Configuration) GatewayConfig(name string) dompay.GatewayConfig {
	params := make(map[string]string)
	for _, it := range c.Items {
		if _, ok := gatewayItems[it.Name]; !ok {
			params[it.Name] = it.Value
		}
	}
	return dompay.GatewayConfig{
		GatewayName:         name,
		AutoCapture:         c.Bool(ItemAutoCapture),
		SupportedCurrencies: c.Strings(ItemSupportedCurrencies),
		StoreCustomer:       c.Bool(ItemStoreCustomer),
		Require3DSecure:     c.Bool(ItemRequire3DSecure),
		ConnectionParams:    params,
	}
}

// PaymentGateway describes a gateway available to a checkout.
type PaymentGateway struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Currencies []string `json:"currencies"`
}
