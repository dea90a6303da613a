// Package giftcard holds prepaid cards and their audit events.
package giftcard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("giftcard: not found")
	ErrCodeRequired    = errors.New("giftcard: code is required")
	ErrInvalidBalance  = errors.New("giftcard: balance must be greater than zero")
	ErrInvalidCurrency = errors.New("giftcard: currency is required")
	ErrInactive        = errors.New("giftcard: card is not active")
)

type EventType string

const (
	EventIssued         EventType = "issued"
	EventSentToCustomer EventType = "sent_to_customer"
	EventResent         EventType = "resent"
)

type Event struct {
	Type       EventType
	UserID     string
	AppID      string
	Date       time.Time
	Parameters map[string]any
}

type GiftCard struct {
	ID             string
	Code           string
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	Currency       string
	IsActive       bool
	ExpiryDate     *time.Time
	CreatedByEmail string
	UsedByEmail    string
	Events         []Event
	CreatedAt      time.Time
}

func New(id, code string, balance decimal.Decimal, currency string) (*GiftCard, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrCodeRequired
	}
	if !balance.IsPositive() {
		return nil, ErrInvalidBalance
	}
	if currency == "" {
		return nil, ErrInvalidCurrency
	}
	return &GiftCard{
		ID:             id,
		Code:           code,
		InitialBalance: balance,
		CurrentBalance: balance,
		Currency:       currency,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DisplayCode is the last four characters of the code.
func (g *GiftCard) DisplayCode() string {
	if len(g.Code) <= 4 {
		return g.Code
	}
	return g.Code[len(g.Code)-4:]
}

func (g *GiftCard) IsExpired(now time.Time) bool {
	return g.ExpiryDate != nil && now.After(*g.ExpiryDate)
}

// RecordSent appends the event for a card handed to a customer.
func (g *GiftCard) RecordSent(userID, appID, channel, email string, resending bool) Event {
	typ := EventSentToCustomer
	if resending {
		typ = EventResent
	}
	e := Event{
		Type:   typ,
		UserID: userID,
		AppID:  appID,
		Date:   time.Now().UTC(),
		Parameters: map[string]any{
			"email":        email,
			"channel_slug": channel,
		},
	}
	g.Events = append(g.Events, e)
	return e
}

func (g *GiftCard) Clone() *GiftCard {
	if g == nil {
		return nil
	}
	c := *g
	c.Events = append([]Event(nil), g.Events...)
	if g.ExpiryDate != nil {
		d := *g.ExpiryDate
		c.ExpiryDate = &d
	}
	return &c
}

type Repository interface {
	Insert(ctx context.Context, g *GiftCard) error
	Get(ctx context.Context, id string) (*GiftCard, error)
	Update(ctx context.Context, g *GiftCard) error
}
