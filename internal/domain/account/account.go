// Package account holds customers, staff users and the customer event log.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 12
	minPasswordLength = 8
)

var (
	ErrNotFound      = errors.New("account: not found")
	ErrConflict      = errors.New("account: email already registered")
	ErrEmailRequired = errors.New("account: email is required")
	ErrInactive      = errors.New("account: user is inactive")
	ErrWeakPassword  = errors.New("account: password is too short")
)

type User struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	IsStaff         bool
	IsActive        bool
	LanguageCode    string
	Metadata        map[string]string
	PrivateMetadata map[string]string
	LastLogin       *time.Time
	PasswordHash    string
	CreatedAt       time.Time
}

func New(id, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	return &User{
		ID:           id,
		Email:        email,
		IsActive:     true,
		LanguageCode: "en",
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// SetPassword stores a bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Metadata = cloneMap(u.Metadata)
	c.PrivateMetadata = cloneMap(u.PrivateMetadata)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type CustomerEventType string

const (
	EventAccountCreated          CustomerEventType = "account_created"
	EventAccountActivated        CustomerEventType = "account_activated"
	EventAccountDeactivated      CustomerEventType = "account_deactivated"
	EventPasswordResetLinkSent   CustomerEventType = "password_reset_link_sent"
	EventPasswordReset           CustomerEventType = "password_reset"
	EventEmailChangedRequest     CustomerEventType = "email_changed_request"
	EventEmailChanged            CustomerEventType = "email_changed"
	EventAccountDeleteLinkSent   CustomerEventType = "account_delete_link_sent"
	EventAccountConfirmationSent CustomerEventType = "account_confirmation_sent"
	EventPlacedOrder             CustomerEventType = "placed_order"
)

type CustomerEvent struct {
	ID         string
	Type       CustomerEventType
	UserID     string
	AppID      string
	Date       time.Time
	Parameters map[string]any
}

type Repository interface {
	Insert(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	ListStaff(ctx context.Context) ([]*User, error)
	AddEvent(ctx context.Context, e *CustomerEvent) error
	Events(ctx context.Context, userID string) ([]*CustomerEvent, error)
}

// TokenPurpose limits what a one-time account token can be redeemed for.
type TokenPurpose string

const (
	TokenPasswordReset TokenPurpose = "password_reset"
	TokenConfirmation  TokenPurpose = "account_confirmation"
	TokenEmailChange   TokenPurpose = "email_change"
	TokenAccountDelete TokenPurpose = "account_delete"
)
