package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	appwebhook "github.com/Zhima-Mochi/storefront/internal/application/webhook"
	"github.com/Zhima-Mochi/storefront/internal/config"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/cod"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/dummy"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/dummycreditcard"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/paypal"
	"github.com/Zhima-Mochi/storefront/internal/infrastructure/gateway/stripe"
	"github.com/Zhima-Mochi/storefront/internal/observability"
)

// gatewayFactories maps config section names to gateway adapters.
var gatewayFactories = map[string]func() plugin.GatewayPlugin{
	"dummy":           func() plugin.GatewayPlugin { return dummy.New() },
	"dummycreditcard": func() plugin.GatewayPlugin { return dummycreditcard.New() },
	"cod":             func() plugin.GatewayPlugin { return cod.New() },
	"stripe":          func() plugin.GatewayPlugin { return stripe.New() },
	"paypal":          func() plugin.GatewayPlugin { return paypal.New() },
}

// registerPlugins registers gateways first, then the email plugins, then
// webhooks, which is the order plugins run in.
func registerPlugins(m *plugin.Manager, cfg *config.Config, publisher domoutbox.Publisher, webhooks *appwebhook.Service, tel observability.Observability) error {
	names := make([]string, 0, len(cfg.Gateways))
	for name := range cfg.Gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		factory, ok := gatewayFactories[name]
		if !ok {
			return fmt.Errorf("config: unknown gateway %q", name)
		}
		if err := m.Register(factory(), gatewayConfigurations(cfg.Gateways[name])...); err != nil {
			return err
		}
	}

	emailCfg := emailConfiguration(cfg.Email)
	if err := m.Register(notification.NewUserEmailPlugin(publisher, tel), emailCfg); err != nil {
		return err
	}
	if err := m.Register(notification.NewAdminEmailPlugin(publisher, tel), emailCfg); err != nil {
		return err
	}
	return m.Register(appwebhook.NewPlugin(webhooks), plugin.Configuration{Active: true})
}

// gatewayConfigurations returns one configuration per listed channel, or a
// single global one when no channel is listed.
func gatewayConfigurations(gc config.GatewayConfig) []plugin.Configuration {
	base := plugin.Configuration{Active: gc.Active}
	base.Set(plugin.ItemAutoCapture, strconv.FormatBool(gc.AutoCapture))
	base.Set(plugin.ItemSupportedCurrencies, strings.Join(gc.SupportedCurrencies, ","))
	base.Set(plugin.ItemStoreCustomer, strconv.FormatBool(gc.StoreCustomer))
	base.Set(plugin.ItemRequire3DSecure, strconv.FormatBool(gc.Require3DSecure))
	keys := make([]string, 0, len(gc.ConnectionParams))
	for k := range gc.ConnectionParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base.Set(k, gc.ConnectionParams[k])
	}

	if len(gc.Channels) == 0 {
		return []plugin.Configuration{base}
	}
	out := make([]plugin.Configuration, 0, len(gc.Channels))
	for _, ch := range gc.Channels {
		c := base
		c.ChannelSlug = ch
		c.Items = append([]plugin.ConfigItem(nil), base.Items...)
		out = append(out, c)
	}
	return out
}

// emailConfiguration is active only when an SMTP host is set.
func emailConfiguration(ec config.EmailConfig) plugin.Configuration {
	c := plugin.Configuration{Active: ec.Host != ""}
	c.Set(notification.ItemHost, ec.Host)
	c.Set(notification.ItemPort, strconv.Itoa(ec.Port))
	c.Set(notification.ItemUsername, ec.Username)
	c.Set(notification.ItemPassword, ec.Password)
	c.Set(notification.ItemSenderName, ec.SenderName)
	c.Set(notification.ItemSenderAddress, ec.SenderAddress)
	c.Set(notification.ItemUseTLS, strconv.FormatBool(ec.UseTLS))
	for event, subject := range ec.Subjects {
		c.Set(notification.SubjectItem(notify.EventType(event)), subject)
	}
	for event, tmpl := range ec.Templates {
		c.Set(notification.TemplateItem(notify.EventType(event)), tmpl)
	}
	return c
}
