package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesEmail(t *testing.T) {
	_, err := New("u1", "   ")
	assert.ErrorIs(t, err, ErrEmailRequired)

	u, err := New("u1", "  Jane@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", u.Email)
	assert.True(t, u.IsActive)
}

func TestUser_FullNameAndClone(t *testing.T) {
	u, err := New("u1", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "", u.FullName())
	u.FirstName, u.LastName = "Jane", "Doe"
	assert.Equal(t, "Jane Doe", u.FullName())

	now := time.Now()
	u.LastLogin = &now
	u.Metadata = map[string]string{"k": "v"}
	c := u.Clone()
	c.Metadata["k"] = "changed"
	assert.Equal(t, "v", u.Metadata["k"])
	assert.NotSame(t, u.LastLogin, c.LastLogin)
}

func TestUser_Password(t *testing.T) {
	u, err := New("u1", "jane@example.com")
	require.NoError(t, err)
	assert.False(t, u.CheckPassword(""))

	assert.ErrorIs(t, u.SetPassword("short"), ErrWeakPassword)
	require.NoError(t, u.SetPassword("correct horse"))
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.True(t, u.CheckPassword("correct horse"))
	assert.False(t, u.CheckPassword("wrong horse"))
}
