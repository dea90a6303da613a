package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/Zhima-Mochi/storefront/internal/application"
	domoutbox "github.com/Zhima-Mochi/storefront/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	emailWorker      = "email-worker"
	useCaseSendEmail = "notification.send_email"
	smtpPeer         = "smtp"
)

// Message is a rendered email.
type Message struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	Body        string
}

// Sender delivers a rendered message through the given SMTP server.
type Sender interface {
	Send(ctx context.Context, cfg SMTPConfig, msg Message) error
}

// EmailWorker renders queued EmailJobs and sends them.
type EmailWorker struct {
	subscriber domoutbox.Subscriber
	sender     Sender
	in         *application.Instruments
}

func NewEmailWorker(subscriber domoutbox.Subscriber, sender Sender, tel observability.Observability) *EmailWorker {
	return &EmailWorker{
		subscriber: subscriber,
		sender:     sender,
		in:         application.NewInstruments(tel, emailWorker),
	}
}

func (w *EmailWorker) Start() {
	if w.subscriber == nil || w.sender == nil {
		return
	}
	w.subscriber.Subscribe(EventEmailRequested, w.handle)
}

func (w *EmailWorker) handle(ctx context.Context, e domoutbox.Event) error {
	job, ok := e.(EmailJob)
	if !ok {
		return nil
	}
	return w.Send(ctx, job)
}

// Send renders job and hands it to the sender.
func (w *EmailWorker) Send(ctx context.Context, job EmailJob) (err error) {
	ctx, run := w.in.Begin(ctx, useCaseSendEmail, "SendEmail",
		attribute.String("notify_event", string(job.Event)),
		attribute.String("plugin", job.PluginID),
	)
	defer func() { run.End(err) }()
	run.With(
		observability.F("notify_event", string(job.Event)),
		observability.F("recipient", job.Recipient),
	)

	subject, err := Render(string(job.Event)+"_subject", job.Subject, job.Payload)
	if err != nil {
		run.Fail("SUBJECT_RENDER_FAILED")
		return err
	}
	body, err := Render(string(job.Event), job.Template, job.Payload)
	if err != nil {
		run.Fail("TEMPLATE_RENDER_FAILED")
		return err
	}

	msg := Message{
		FromName:    job.SMTP.SenderName,
		FromAddress: job.SMTP.SenderAddress,
		To:          job.Recipient,
		Subject:     subject,
		Body:        body,
	}
	start := time.Now()
	err = w.sender.Send(ctx, job.SMTP, msg)
	w.in.External(smtpPeer, string(job.Event), start, err)
	if err != nil {
		run.Fail("SMTP_SEND_FAILED")
		return fmt.Errorf("notification: send %s: %w", job.Event, err)
	}
	return nil
}

// Render executes a text template against a notify payload.
func Render(name, text string, data map[string]any) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("notification: parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notification: render template %s: %w", name, err)
	}
	return buf.String(), nil
}
