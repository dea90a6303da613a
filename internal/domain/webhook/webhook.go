// Package webhook models outbound event subscriptions and their delivery log.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("webhook: not found")
	ErrNameRequired   = errors.New("webhook: name is required")
	ErrInvalidURL     = errors.New("webhook: target url must use http, https or kafka")
	ErrInvalidEvent   = errors.New("webhook: unknown event type")
	ErrNoEvents       = errors.New("webhook: at least one event is required")
	ErrNotRetryable   = errors.New("webhook: delivery is not in a failed state")
	ErrMissingPayload = errors.New("webhook: delivery has no payload")
)

// EventType names an asynchronous webhook event.
type EventType string

const (
	AnyEvents        EventType = "any_events"
	OrderCreated     EventType = "order_created"
	OrderConfirmed   EventType = "order_confirmed"
	OrderFullyPaid   EventType = "order_fully_paid"
	OrderUpdated     EventType = "order_updated"
	OrderCancelled   EventType = "order_cancelled"
	PaymentAuthorize EventType = "payment_authorize"
	PaymentCapture   EventType = "payment_capture"
	PaymentRefund    EventType = "payment_refund"
	PaymentVoid      EventType = "payment_void"
	CustomerCreated  EventType = "customer_created"
	GiftCardSent     EventType = "gift_card_sent"
	NotifyUser       EventType = "notify_user"
)

var EventTypes = []EventType{
	AnyEvents, OrderCreated, OrderConfirmed, OrderFullyPaid, OrderUpdated, OrderCancelled,
	PaymentAuthorize, PaymentCapture, PaymentRefund, PaymentVoid,
	CustomerCreated, GiftCardSent, NotifyUser,
}

func (e EventType) IsValid() bool {
	for _, t := range EventTypes {
		if t == e {
			return true
		}
	}
	return false
}

// Request headers set on every delivery.
const (
	HeaderEvent     = "Saleor-Event"
	HeaderDomain    = "Saleor-Domain"
	HeaderSignature = "Saleor-Signature"

	LegacyHeaderEvent     = "X-Saleor-Event"
	LegacyHeaderDomain    = "X-Saleor-Domain"
	LegacyHeaderSignature = "X-Saleor-Signature"
)

type Webhook struct {
	ID            string
	Name          string
	AppID         string
	TargetURL     string
	SecretKey     string
	IsActive      bool
	Events        []EventType
	CustomHeaders map[string]string
	CreatedAt     time.Time
}

// New validates and returns an active webhook.
func New(id, name, targetURL string, events []EventType) (*Webhook, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}
	if err := ValidateTargetURL(targetURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	for _, e := range events {
		if !e.IsValid() {
			return nil, ErrInvalidEvent
		}
	}
	return &Webhook{
		ID:        id,
		Name:      name,
		TargetURL: targetURL,
		IsActive:  true,
		Events:    append([]EventType(nil), events...),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	switch u.Scheme {
	case "http", "https", "kafka":
		return nil
	default:
		return ErrInvalidURL
	}
}

// Subscribes reports whether the webhook should receive e.
func (w *Webhook) Subscribes(e EventType) bool {
	if !w.IsActive {
		return false
	}
	for _, s := range w.Events {
		if s == e || s == AnyEvents {
			return true
		}
	}
	return false
}

func (w *Webhook) Clone() *Webhook {
	if w == nil {
		return nil
	}
	c := *w
	c.Events = append([]EventType(nil), w.Events...)
	if w.CustomHeaders != nil {
		c.CustomHeaders = make(map[string]string, len(w.CustomHeaders))
		for k, v := range w.CustomHeaders {
			c.CustomHeaders[k] = v
		}
	}
	return &c
}

// Signature is the hex HMAC-SHA256 of body keyed by secret, or "" without a secret.
func Signature(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
