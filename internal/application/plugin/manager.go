package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domgift "github.com/Zhima-Mochi/storefront/internal/domain/giftcard"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	dompay "github.com/Zhima-Mochi/storefront/internal/domain/payment"
	domwebhook "github.com/Zhima-Mochi/storefront/internal/domain/webhook"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const componentManager = "plugin-manager"

var (
	ErrGatewayNotFound = errors.New("plugin: payment gateway not found or inactive")
	ErrPluginNotFound  = errors.New("plugin: plugin not found")
	ErrDuplicatePlugin = errors.New("plugin: plugin already registered")
)

// Manager owns the registered plugins and their per-channel configuration.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
	configs map[string]map[string]Configuration // plugin id -> channel -> config

	in *application.Instruments
}

func NewManager(tel observability.Observability) *Manager {
	return &Manager{
		plugins: make(map[string]Plugin),
		configs: make(map[string]map[string]Configuration),
		in:      application.NewInstruments(tel, componentManager),
	}
}

// Register adds a plugin with its configurations. Plugins run in registration order.
func (m *Manager) Register(p Plugin, cfgs ...Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.ID())
	}
	m.plugins[p.ID()] = p
	m.order = append(m.order, p.ID())
	m.configs[p.ID()] = make(map[string]Configuration)
	for _, c := range cfgs {
		c.PluginID = p.ID()
		m.configs[p.ID()][c.ChannelSlug] = c
	}
	return nil
}

// Configure stores a configuration for an already registered plugin.
func (m *Manager) Configure(cfg Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byChannel, ok := m.configs[cfg.PluginID]
	if !ok {
		return ErrPluginNotFound
	}
	byChannel[cfg.ChannelSlug] = cfg
	return nil
}

// Configuration returns the channel configuration, falling back to the global one.
func (m *Manager) Configuration(pluginID, channel string) (Configuration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configurationLocked(pluginID, channel)
}

func (m *Manager) configurationLocked(pluginID, channel string) (Configuration, bool) {
	byChannel := m.configs[pluginID]
	if c, ok := byChannel[channel]; ok {
		return c, true
	}
	c, ok := byChannel[""]
	return c, ok
}

type activePlugin struct {
	plugin Plugin
	cfg    Configuration
}

func (m *Manager) active(channel string) []activePlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]activePlugin, 0, len(m.order))
	for _, id := range m.order {
		cfg, ok := m.configurationLocked(id, channel)
		if !ok || !cfg.Active {
			continue
		}
		out = append(out, activePlugin{plugin: m.plugins[id], cfg: cfg})
	}
	return out
}

// ListPaymentGateways returns active gateways, optionally filtered by currency.
func (m *Manager) ListPaymentGateways(currency, channel string) []PaymentGateway {
	var out []PaymentGateway
	for _, ap := range m.active(channel) {
		gp, ok := ap.plugin.(GatewayPlugin)
		if !ok {
			continue
		}
		gc := ap.cfg.GatewayConfig(gp.Name())
		if currency != "" && !gc.SupportsCurrency(currency) {
			continue
		}
		currencies := append([]string(nil), gc.SupportedCurrencies...)
		sort.Strings(currencies)
		out = append(out, PaymentGateway{ID: gp.ID(), Name: gp.Name(), Currencies: currencies})
	}
	return out
}

// GatewayByID returns the gateway active in channel together with its configuration.
func (m *Manager) GatewayByID(gatewayID, channel string) (dompay.Gateway, dompay.GatewayConfig, error) {
	m.mu.RLock()
	p, ok := m.plugins[gatewayID]
	cfg, hasCfg := m.configurationLocked(gatewayID, channel)
	m.mu.RUnlock()

	gp, isGateway := p.(GatewayPlugin)
	if !ok || !isGateway || !hasCfg || !cfg.Active {
		return nil, dompay.GatewayConfig{}, fmt.Errorf("%w: %s", ErrGatewayNotFound, gatewayID)
	}
	return gp, cfg.GatewayConfig(gp.Name()), nil
}

type gatewayCall func(ctx context.Context, g dompay.Gateway, data dompay.PaymentData, cfg dompay.GatewayConfig) (*dompay.GatewayResponse, error)

func (m *Manager) runGateway(ctx context.Context, op, gatewayID string, data dompay.PaymentData, channel string, call gatewayCall) (_ *dompay.GatewayResponse, err error) {
	g, cfg, err := m.GatewayByID(gatewayID, channel)
	if err != nil {
		return nil, err
	}
	if data.Gateway == "" {
		data.Gateway = gatewayID
	}

	ctx, span := m.in.Tracer().Start(ctx, "Gateway."+op,
		attribute.String("payment.gateway", gatewayID),
		attribute.String("payment.id", data.PaymentID),
		attribute.String("channel", channel),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "GATEWAY_ERROR")
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
		m.in.External(gatewayID, op, start, err)
	}()

	resp, err := call(ctx, g, data, cfg)
	if err != nil {
		logctx.FromOr(ctx, m.in.Logger()).Warn("gateway_call_failed",
			observability.F("gateway", gatewayID),
			observability.F("operation", op),
			observability.F("error", err.Error()),
		)
		return nil, err
	}
	if resp != nil {
		span.SetAttributes(
			attribute.Bool("payment.success", resp.IsSuccess),
			attribute.String("payment.kind", string(resp.Kind)),
		)
	}
	return resp, nil
}

func (m *Manager) Authorize(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "authorize", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.Authorize(ctx, d, c)
	})
}

func (m *Manager) Capture(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "capture", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.Capture(ctx, d, c)
	})
}

func (m *Manager) Confirm(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "confirm", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.Confirm(ctx, d, c)
	})
}

func (m *Manager) Refund(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "refund", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.Refund(ctx, d, c)
	})
}

func (m *Manager) Void(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "void", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.Void(ctx, d, c)
	})
}

func (m *Manager) ProcessPayment(ctx context.Context, gatewayID string, data dompay.PaymentData, channel string) (*dompay.GatewayResponse, error) {
	return m.runGateway(ctx, "process_payment", gatewayID, data, channel, func(ctx context.Context, g dompay.Gateway, d dompay.PaymentData, c dompay.GatewayConfig) (*dompay.GatewayResponse, error) {
		return g.ProcessPayment(ctx, d, c)
	})
}

func (m *Manager) GetClientToken(ctx context.Context, gatewayID string, req dompay.ClientTokenRequest, channel string) (string, error) {
	g, cfg, err := m.GatewayByID(gatewayID, channel)
	if err != nil {
		return "", err
	}
	start := time.Now()
	tok, err := g.GetClientToken(ctx, req, cfg)
	m.in.External(gatewayID, "client_token", start, err)
	return tok, err
}

// Notify hands the event to every active notify plugin, or only to pluginID
// when it is set. Plugin failures are collected; they do not stop the others.
func (m *Manager) Notify(ctx context.Context, event notify.EventType, payload notify.Payload, channel, pluginID string) error {
	logger := logctx.FromOr(ctx, m.in.Logger()).With(
		observability.F("notify_event", string(event)),
		observability.F("channel", channel),
	)
	var errs []error
	delivered := 0
	for _, ap := range m.active(channel) {
		if pluginID != "" && ap.plugin.ID() != pluginID {
			continue
		}
		np, ok := ap.plugin.(NotifyPlugin)
		if !ok {
			continue
		}
		delivered++
		if err := np.Notify(ctx, event, payload, ap.cfg); err != nil {
			logger.Warn("notify_plugin_failed",
				observability.F("plugin", np.ID()),
				observability.F("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", np.ID(), err))
		}
	}
	if pluginID != "" && delivered == 0 {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, pluginID)
	}
	logger.Debug("notify_dispatched", observability.F("plugins", delivered))
	return errors.Join(errs...)
}

func (m *Manager) GiftCardSent(ctx context.Context, card *domgift.GiftCard, channel, email string) error {
	var errs []error
	for _, ap := range m.active(channel) {
		if gp, ok := ap.plugin.(GiftCardSentPlugin); ok {
			if err := gp.GiftCardSent(ctx, card, channel, email); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", gp.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// TriggerWebhooks forwards an event to webhook plugins. Webhooks are not
// channel scoped, so only the global configuration decides activity.
func (m *Manager) TriggerWebhooks(ctx context.Context, eventType domwebhook.EventType, payload any) error {
	var errs []error
	for _, ap := range m.active("") {
		if wp, ok := ap.plugin.(WebhookPlugin); ok {
			if err := wp.Trigger(ctx, eventType, payload); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", wp.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
