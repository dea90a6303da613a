package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
)

type stubGateway struct {
	id      string
	lastCfg dompay.GatewayConfig
	err     error
}

func (g *stubGateway) ID() string   { return g.id }
func (g *stubGateway) Name() string { return "Stub " + g.id }

func (g *stubGateway) respond(kind dompay.TransactionKind, data dompay.PaymentData, cfg dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	g.lastCfg = cfg
	if g.err != nil {
		return nil, g.err
	}
	return &dompay.GatewayResponse{IsSuccess: true, Kind: kind, Amount: data.Amount, Currency: data.Currency}, nil
}

func (g *stubGateway) Authorize(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindAuth, d, c)
}
func (g *stubGateway) Capture(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindCapture, d, c)
}
func (g *stubGateway) Confirm(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindConfirm, d, c)
}
func (g *stubGateway) Refund(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindRefund, d, c)
}
func (g *stubGateway) Void(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindVoid, d, c)
}
func (g *stubGateway) ProcessPayment(_ context.Context, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
	return g.respond(dompay.KindCapture, d, c)
}
func (g *stubGateway) GetClientToken(context.Context, dompay.ClientTokenRequest, dompay.GatewayConfig) (string, error) {
	return "tok-" + g.id, nil
}

type recordingNotifier struct {
	id     string
	err    error
	events []notify.EventType
}

func (n *recordingNotifier) ID() string   { return n.id }
func (n *recordingNotifier) Name() string { return n.id }
func (n *recordingNotifier) Notify(_ context.Context, e notify.EventType, _ notify.Payload, _ Configuration) error {
	n.events = append(n.events, e)
	return n.err
}

type recordingWebhooks struct {
	events []domwebhook.EventType
	cards  []string
}

func (w *recordingWebhooks) ID() string   { return "webhooks" }
func (w *recordingWebhooks) Name() string { return "Webhooks" }
func (w *recordingWebhooks) Trigger(_ context.Context, e domwebhook.EventType, _ any) error {
	w.events = append(w.events, e)
	return nil
}
func (w *recordingWebhooks) GiftCardSent(_ context.Context, card *domgift.GiftCard, _, _ string) error {
	w.cards = append(w.cards, card.ID)
	return nil
}

func gatewayCfg(channel string, active bool, items ...ConfigItem) Configuration {
	return Configuration{ChannelSlug: channel, Active: active, Items: items}
}

func TestConfiguration_Helpers(t *testing.T) {
	c := Configuration{Items: []ConfigItem{
		{Name: ItemAutoCapture, Value: "true"},
		{Name: ItemSupportedCurrencies, Value: "USD, EUR,,"},
		{Name: "secret_api_key", Value: "sk"},
	}}
	assert.True(t, c.Bool(ItemAutoCapture))
	assert.False(t, c.Bool(ItemStoreCustomer))
	assert.Equal(t, []string{"USD", "EUR"}, c.Strings(ItemSupportedCurrencies))

	c.Set("secret_api_key", "sk2")
	c.Set("new", "v")
	assert.Equal(t, "sk2", c.String("secret_api_key"))
	assert.Equal(t, "v", c.String("new"))

	gc := c.GatewayConfig("Stripe")
	assert.True(t, gc.AutoCapture)
	assert.Equal(t, "sk2", gc.Param("secret_api_key"))
	assert.Empty(t, gc.Param(ItemAutoCapture))
}

func TestManager_ChannelScopedGateways(t *testing.T) {
	m := NewManager(observability.Nop())
	a := &stubGateway{id: "a"}
	b := &stubGateway{id: "b"}
	require.NoError(t, m.Register(a,
		gatewayCfg("", true, ConfigItem{Name: ItemSupportedCurrencies, Value: "USD,EUR"}),
		gatewayCfg("eu", false),
	))
	require.NoError(t, m.Register(b, gatewayCfg("eu", true, ConfigItem{Name: ItemSupportedCurrencies, Value: "EUR"})))
	assert.ErrorIs(t, m.Register(a), ErrDuplicatePlugin)

	us := m.ListPaymentGateways("", "us")
	require.Len(t, us, 1)
	assert.Equal(t, "a", us[0].ID)
	assert.Equal(t, []string{"EUR", "USD"}, us[0].Currencies)

	eu := m.ListPaymentGateways("EUR", "eu")
	require.Len(t, eu, 1)
	assert.Equal(t, "b", eu[0].ID)
	assert.Empty(t, m.ListPaymentGateways("USD", "eu"))

	_, _, err := m.GatewayByID("a", "eu")
	assert.ErrorIs(t, err, ErrGatewayNotFound)
	_, _, err = m.GatewayByID("missing", "us")
	assert.ErrorIs(t, err, ErrGatewayNotFound)
}

func TestManager_DispatchesGatewayOperations(t *testing.T) {
	m := NewManager(nil)
	g := &stubGateway{id: "a"}
	require.NoError(t, m.Register(g, gatewayCfg("", true, ConfigItem{Name: ItemAutoCapture, Value: "true"})))

	data := dompay.PaymentData{PaymentID: "p1", Amount: decimal.NewFromInt(5), Currency: "USD"}
	ctx := context.Background()

	resp, err := m.Authorize(ctx, "a", data, "default")
	require.NoError(t, err)
	assert.Equal(t, dompay.KindAuth, resp.Kind)
	assert.True(t, g.lastCfg.AutoCapture)

	resp, err = m.ProcessPayment(ctx, "a", data, "default")
	require.NoError(t, err)
	assert.Equal(t, dompay.KindCapture, resp.Kind)

	tok, err := m.GetClientToken(ctx, "a", dompay.ClientTokenRequest{}, "default")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", tok)

	g.err = errors.New("connection reset")
	_, err = m.Void(ctx, "a", data, "default")
	assert.EqualError(t, err, "connection reset")

	_, err = m.Capture(ctx, "nope", data, "default")
	assert.ErrorIs(t, err, ErrGatewayNotFound)
}

func TestManager_NotifyCollectsErrors(t *testing.T) {
	m := NewManager(nil)
	failing := &recordingNotifier{id: "failing", err: errors.New("smtp down")}
	ok := &recordingNotifier{id: "ok"}
	inactive := &recordingNotifier{id: "inactive"}
	require.NoError(t, m.Register(failing, Configuration{Active: true}))
	require.NoError(t, m.Register(ok, Configuration{Active: true}))
	require.NoError(t, m.Register(inactive, Configuration{Active: false}))

	err := m.Notify(context.Background(), notify.AccountPasswordReset, notify.Payload{}, "default", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: smtp down")
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)
	assert.Empty(t, inactive.events)

	require.NoError(t, m.Notify(context.Background(), notify.OrderConfirmation, notify.Payload{}, "default", "ok"))
	assert.Len(t, ok.events, 2)
	assert.Len(t, failing.events, 1)

	assert.ErrorIs(t, m.Notify(context.Background(), notify.OrderConfirmation, notify.Payload{}, "default", "inactive"), ErrPluginNotFound)
}

func TestManager_WebhooksAndGiftCards(t *testing.T) {
	m := NewManager(nil)
	w := &recordingWebhooks{}
	require.NoError(t, m.Register(w, Configuration{Active: true}))

	require.NoError(t, m.TriggerWebhooks(context.Background(), domwebhook.OrderCreated, map[string]any{}))
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderCreated}, w.events)

	require.NoError(t, m.GiftCardSent(context.Background(), &domgift.GiftCard{ID: "g1"}, "default", "a@example.com"))
	assert.Equal(t, []string{"g1"}, w.cards)
}

func TestManager_HooksResolveChannelConfiguration(t *testing.T) {
	m := NewManager(nil)
	w := &recordingWebhooks{}
	require.NoError(t, m.Register(w, Configuration{Active: false}, Configuration{ChannelSlug: "eu", Active: true}))
	ctx := context.Background()

	require.NoError(t, m.GiftCardSent(ctx, &domgift.GiftCard{ID: "g-us"}, "us", "a@example.com"))
	require.NoError(t, m.GiftCardSent(ctx, &domgift.GiftCard{ID: "g-eu"}, "eu", "a@example.com"))
	assert.Equal(t, []string{"g-eu"}, w.cards)

	require.NoError(t, m.TriggerWebhooks(ctx, domwebhook.OrderCreated, nil))
	assert.Empty(t, w.events, "webhooks follow the global configuration only")

	require.NoError(t, m.Configure(Configuration{PluginID: "webhooks", Active: true}))
	require.NoError(t, m.TriggerWebhooks(ctx, domwebhook.OrderCreated, nil))
	assert.Equal(t, []domwebhook.EventType{domwebhook.OrderCreated}, w.events)
}

func TestManager_Configure(t *testing.T) {
	m := NewManager(nil)
	assert.ErrorIs(t, m.Configure(Configuration{PluginID: "x"}), ErrPluginNotFound)

	g := &stubGateway{id: "a"}
	require.NoError(t, m.Register(g))
	_, _, err := m.GatewayByID("a", "default")
	assert.ErrorIs(t, err, ErrGatewayNotFound)

	require.NoError(t, m.Configure(Configuration{PluginID: "a", ChannelSlug: "default", Active: true}))
	_, _, err = m.GatewayByID("a", "default")
	assert.NoError(t, err)
	cfg, ok := m.Configuration("a", "other")
	assert.False(t, ok)
	assert.Empty(t, cfg.PluginID)
}
