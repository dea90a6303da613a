// Package token issues single-purpose account tokens (password reset,
// account confirmation, email change) as HS256 JWTs.
//
// A token embeds a fingerprint of the user's password hash and last login,
// so it stops verifying once the user logs in or changes the password.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
)

const defaultTTL = 72 * time.Hour

var (
	ErrInvalidToken = errors.New("token: invalid")
	ErrExpiredToken = errors.New("token: expired")
	ErrWrongPurpose = errors.New("token: issued for another purpose")
	ErrStaleToken   = errors.New("token: user state changed since issue")
	ErrNoSecret     = errors.New("token: secret is required")
)

type Claims struct {
	jwt.RegisteredClaims
	Email    string                  `json:"email"`
	Purpose  domaccount.TokenPurpose `json:"purpose"`
	State    string                  `json:"state"`
	NewEmail string                  `json:"new_email,omitempty"`
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*Generator)

func WithTTL(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.ttl = d
		}
	}
}

func WithIssuer(iss string) Option { return func(g *Generator) { g.issuer = iss } }

func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

func NewGenerator(secret string, opts ...Option) (*Generator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	g := &Generator{secret: []byte(secret), ttl: defaultTTL, issuer: "storefront", now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Make issues a token for the user. extra is only kept for
// domaccount.TokenEmailChange, where it carries the requested address.
func (g *Generator) Make(u *domaccount.User, purpose domaccount.TokenPurpose, extra string) (string, error) {
	now := g.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:   u.Email,
		Purpose: purpose,
		State:   fingerprint(u),
	}
	if purpose == domaccount.TokenEmailChange {
		claims.NewEmail = extra
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Verify checks the signature, expiry and purpose, and that the user is
// unchanged since issue. It returns the extra value given to Make.
func (g *Generator) Verify(u *domaccount.User, purpose domaccount.TokenPurpose, raw string) (string, error) {
	claims, err := g.Parse(u, purpose, raw)
	if err != nil {
		return "", err
	}
	return claims.NewEmail, nil
}

func (g *Generator) Parse(u *domaccount.User, purpose domaccount.TokenPurpose, raw string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now), jwt.WithIssuer(g.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if claims.Subject != u.ID || claims.State != fingerprint(u) {
		return nil, ErrStaleToken
	}
	return claims, nil
}

func fingerprint(u *domaccount.User) string {
	login := ""
	if u.LastLogin != nil {
		login = strconv.FormatInt(u.LastLogin.UTC().Unix(), 10)
	}
	sum := sha256.Sum256([]byte(u.ID + "|" + u.Email + "|" + u.PasswordHash + "|" + login))
	return hex.EncodeToString(sum[:16])
}
