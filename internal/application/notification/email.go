package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Zhima-Mochi/storefront/internal/application/plugin"
	"github.com/Zhima-Mochi/storefront/internal/domain/notify"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/Zhima-Mochi/storefront/internal/observability/logctx"
)

const (
	UserEmailPluginID  = "storefront.notifications.user_email"
	AdminEmailPluginID = "storefront.notifications.admin_email"

	// EventEmailRequested is the bus event carrying an EmailJob.
	EventEmailRequested = "notification.email_requested"
)

// SMTP configuration item names shared by both email plugins.
const (
	ItemHost          = "host"
	ItemPort          = "port"
	ItemUsername      = "username"
	ItemPassword      = "password"
	ItemSenderName    = "sender_name"
	ItemSenderAddress = "sender_address"
	ItemUseTLS        = "use_tls"
)

// TemplateItem names the configuration item holding the body template of event.
func TemplateItem(event notify.EventType) string { return string(event) + "_template" }

// SubjectItem names the configuration item holding the subject template of event.
func SubjectItem(event notify.EventType) string { return string(event) + "_subject" }

type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	SenderName    string
	SenderAddress string
	UseTLS        bool
}

func SMTPConfigFrom(cfg plugin.Configuration) SMTPConfig {
	port, _ := strconv.Atoi(cfg.String(ItemPort))
	return SMTPConfig{
		Host:          cfg.String(ItemHost),
		Port:          port,
		Username:      cfg.String(ItemUsername),
		Password:      cfg.String(ItemPassword),
		SenderName:    cfg.String(ItemSenderName),
		SenderAddress: cfg.String(ItemSenderAddress),
		UseTLS:        cfg.Bool(ItemUseTLS),
	}
}

// EmailJob is one rendered-on-delivery email for one recipient.
type EmailJob struct {
	PluginID  string
	Event     notify.EventType
	Recipient string
	Subject   string
	Template  string
	Payload   notify.Payload
	SMTP      SMTPConfig
}

func (EmailJob) EventName() string { return EventEmailRequested }

var defaultSubjects = map[notify.EventType]string{
	notify.AccountConfirmation:          "Account activation",
	notify.AccountPasswordReset:         "Reset your password",
	notify.AccountChangeEmailRequest:    "Request email change",
	notify.AccountChangeEmailConfirm:    "Email change confirmation",
	notify.AccountDelete:                "Account deletion",
	notify.AccountSetCustomerPassword:   "Set password",
	notify.InvoiceReady:                 "Invoice",
	notify.OrderConfirmation:            "Order #{{.order.number}} details",
	notify.OrderConfirmed:               "Order #{{.order.number}} confirmed",
	notify.OrderFulfillmentConfirmation: "Your order #{{.order.number}} has been fulfilled",
	notify.OrderFulfillmentUpdate:       "Fulfillment for order #{{.order.number}} updated",
	notify.OrderPaymentConfirmation:     "Order #{{.order.number}} payment details",
	notify.OrderCanceled:                "Order #{{.order.number}} canceled",
	notify.OrderRefundConfirmation:      "Order #{{.order.number}} refunded",
	notify.SendGiftCard:                 "Gift card",
	notify.AccountSetStaffPassword:      "Set your password",
	notify.AccountStaffResetPassword:    "Reset your password",
	notify.CSVExportSuccess:             "Export products data",
	notify.CSVExportFailed:              "Export products data failed",
	notify.StaffOrderConfirmation:       "Order #{{.order.number}} placed",
}

// recipientsFunc extracts the addresses an event goes to.
type recipientsFunc func(notify.Payload) []string

func single(p notify.Payload) []string {
	if r := p.Recipient(); r != "" {
		return []string{r}
	}
	return nil
}

func many(p notify.Payload) []string { return p.Recipients() }

// EmailPlugin sends notify events as emails. Delivery is asynchronous: the
// plugin publishes an EmailJob and EmailWorker renders and sends it.
type EmailPlugin struct {
	id        string
	name      string
	handlers  map[notify.EventType]recipientsFunc
	publisher domoutbox.Publisher
	log       observability.Logger
}

func NewUserEmailPlugin(publisher domoutbox.Publisher, tel observability.Observability) *EmailPlugin {
	handlers := make(map[notify.EventType]recipientsFunc, len(notify.UserEvents))
	for _, e := range notify.UserEvents {
		handlers[e] = single
	}
	return newEmailPlugin(UserEmailPluginID, "User emails", handlers, publisher, tel)
}

func NewAdminEmailPlugin(publisher domoutbox.Publisher, tel observability.Observability) *EmailPlugin {
	return newEmailPlugin(AdminEmailPluginID, "Admin emails", map[notify.EventType]recipientsFunc{
		notify.AccountSetStaffPassword:   single,
		notify.AccountStaffResetPassword: single,
		notify.CSVExportSuccess:          single,
		notify.CSVExportFailed:           single,
		notify.StaffOrderConfirmation:    many,
	}, publisher, tel)
}

func newEmailPlugin(id, name string, handlers map[notify.EventType]recipientsFunc, publisher domoutbox.Publisher, tel observability.Observability) *EmailPlugin {
	if tel == nil {
		tel = observability.Nop()
	}
	return &EmailPlugin{
		id:        id,
		name:      name,
		handlers:  handlers,
		publisher: publisher,
		log:       tel.Logger().With(observability.F("component", id)),
	}
}

func (p *EmailPlugin) ID() string   { return p.id }
func (p *EmailPlugin) Name() string { return p.name }

// Notify enqueues one email per recipient. Events without a handler or
// without a configured template are skipped.
func (p *EmailPlugin) Notify(ctx context.Context, event notify.EventType, payload notify.Payload, cfg plugin.Configuration) error {
	logger := logctx.FromOr(ctx, p.log).With(
		observability.F("plugin", p.id),
		observability.F("notify_event", string(event)),
	)
	recipients, ok := p.handlers[event]
	if !ok {
		logger.Warn("notify_handler_missing")
		return nil
	}
	tmpl := cfg.String(TemplateItem(event))
	if tmpl == "" {
		logger.Debug("notify_template_missing")
		return nil
	}
	subject := cfg.String(SubjectItem(event))
	if subject == "" {
		subject = defaultSubjects[event]
	}
	to := recipients(payload)
	if len(to) == 0 {
		logger.Warn("notify_recipient_missing")
		return nil
	}
	if p.publisher == nil {
		return errors.New("notification: email queue is not configured")
	}

	smtp := SMTPConfigFrom(cfg)
	var errs []error
	for _, r := range to {
		job := EmailJob{
			PluginID:  p.id,
			Event:     event,
			Recipient: r,
			Subject:   subject,
			Template:  tmpl,
			Payload:   payload,
			SMTP:      smtp,
		}
		if err := p.publisher.Publish(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("notification: enqueue email to %s: %w", r, err))
		}
	}
	logger.Debug("email_enqueued", observability.F("recipients", len(to)))
	return errors.Join(errs...)
}
