// Package email sends rendered notification emails over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zhima-Mochi/storefront/internal/application/notification"
)

const defaultTimeout = 30 * time.Second

type Sender struct {
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Sender)

func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{timeout: defaultTimeout, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send delivers msg. STARTTLS is used when the server offers it and UseTLS is
// set; credentials are only sent when a username is configured.
func (s *Sender) Send(ctx context.Context, cfg notification.SMTPConfig, msg notification.Message) error {
	if cfg.Host == "" {
		return fmt.Errorf("email: smtp host is not configured")
	}
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: handshake: %w", err)
	}
	defer c.Close()

	if cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return fmt.Errorf("email: starttls: %w", err)
			}
		}
	}
	if cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
				return fmt.Errorf("email: auth: %w", err)
			}
		}
	}

	if err := c.Mail(msg.FromAddress); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("email: rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: close body: %w", err)
	}
	return c.Quit()
}

func (s *Sender) compose(msg notification.Message) []byte {
	from := (&mail.Address{Name: msg.FromName, Address: msg.FromAddress}).String()
	domain := "localhost"
	if i := strings.LastIndex(msg.FromAddress, "@"); i >= 0 {
		domain = msg.FromAddress[i+1:]
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + uuid.NewString() + "@" + domain + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}
