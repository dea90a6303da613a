package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	"github.com/Zhima-Mochi/storefront/internal/config"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/dummy"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/stripe"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/id"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/outbox"
)

func TestGatewayConfigurations_PerChannel(t *testing.T) {
	cfgs := gatewayConfigurations(config.GatewayConfig{
		Active:              true,
		Channels:            []string{"pl", "us"},
		AutoCapture:         true,
		SupportedCurrencies: []string{"USD", "PLN"},
		ConnectionParams:    map[string]string{stripe.ParamSecretKey: "sk_test"},
	})
	require.Len(t, cfgs, 2)
	assert.Equal(t, "pl", cfgs[0].ChannelSlug)
	assert.Equal(t, "us", cfgs[1].ChannelSlug)

	gc := cfgs[1].GatewayConfig("Stripe")
	assert.True(t, gc.AutoCapture)
	assert.Equal(t, []string{"USD", "PLN"}, gc.SupportedCurrencies)
	assert.Equal(t, "sk_test", gc.Param(stripe.ParamSecretKey))

	cfgs[0].Set(plugin.ItemAutoCapture, "false")
	assert.True(t, cfgs[1].Bool(plugin.ItemAutoCapture), "channels do not share items")
}

func TestEmailConfiguration(t *testing.T) {
	c := emailConfiguration(config.EmailConfig{
		Host:      "smtp.example.com",
		Port:      2525,
		Subjects:  map[string]string{string(notify.OrderConfirmation): "Thanks"},
		Templates: map[string]string{string(notify.OrderConfirmation): "Order {{ .order.number }}"},
	})
	assert.True(t, c.Active)
	assert.Equal(t, "2525", c.String(notification.ItemPort))
	assert.Equal(t, "Thanks", c.String(notification.SubjectItem(notify.OrderConfirmation)))
	assert.Equal(t, "Order {{ .order.number }}", c.String(notification.TemplateItem(notify.OrderConfirmation)))

	assert.False(t, emailConfiguration(config.EmailConfig{}).Active)
}

func TestRegisterPlugins(t *testing.T) {
	bus := outbox.NewBus(nil)
	hooks := memory.NewWebhookRepository()
	svc := appwebhook.NewService(hooks, hooks, id.NewUUIDGenerator(), bus, nil)

	cfg := &config.Config{Gateways: map[string]config.GatewayConfig{
		"dummy":  {Active: true, SupportedCurrencies: []string{"USD"}},
		"stripe": {Active: false},
	}}
	m := plugin.NewManager(nil)
	require.NoError(t, registerPlugins(m, cfg, bus, svc, nil))

	gws := m.ListPaymentGateways("USD", "")
	require.Len(t, gws, 1)
	assert.Equal(t, dummy.GatewayID, gws[0].ID)

	_, ok := m.Configuration(appwebhook.PluginID, "")
	assert.True(t, ok)
	emailCfg, ok := m.Configuration(notification.UserEmailPluginID, "")
	require.True(t, ok)
	assert.False(t, emailCfg.Active)

	cfg.Gateways = map[string]config.GatewayConfig{"bitcoin": {Active: true}}
	assert.Error(t, registerPlugins(plugin.NewManager(nil), cfg, bus, svc, nil))
}
