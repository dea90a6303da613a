package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domaccount "github.com/Zhima-Mochi/storefront/internal/domain/account"
)

func testUser() *domaccount.User {
	return &domaccount.User{ID: "u-1", Email: "jane@example.com", PasswordHash: "hash-1", IsActive: true}
}

func TestGenerator_RoundTrip(t *testing.T) {
	g, err := NewGenerator("secret")
	require.NoError(t, err)
	u := testUser()

	raw, err := g.Make(u, domaccount.TokenEmailChange, "new@example.com")
	require.NoError(t, err)

	claims, err := g.Parse(u, domaccount.TokenEmailChange, raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "jane@example.com", claims.Email)

	extra, err := g.Verify(u, domaccount.TokenEmailChange, raw)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", extra)
}

func TestGenerator_Rejects(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g, err := NewGenerator("secret", WithTTL(time.Hour), WithClock(clock))
	require.NoError(t, err)
	u := testUser()
	raw, err := g.Make(u, domaccount.TokenPasswordReset, "")
	require.NoError(t, err)

	_, err = g.Verify(u, domaccount.TokenConfirmation, raw)
	assert.ErrorIs(t, err, ErrWrongPurpose)

	changed := *u
	changed.PasswordHash = "hash-2"
	_, err = g.Verify(&changed, domaccount.TokenPasswordReset, raw)
	assert.ErrorIs(t, err, ErrStaleToken)

	other, err := NewGenerator("other", WithClock(clock))
	require.NoError(t, err)
	_, err = other.Verify(u, domaccount.TokenPasswordReset, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = g.Verify(u, domaccount.TokenPasswordReset, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	now = now.Add(2 * time.Hour)
	_, err = g.Verify(u, domaccount.TokenPasswordReset, raw)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewGenerator_RequiresSecret(t *testing.T) {
	_, err := NewGenerator("")
	assert.ErrorIs(t, err, ErrNoSecret)
}
