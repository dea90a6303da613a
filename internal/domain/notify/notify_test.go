package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_Audience(t *testing.T) {
	assert.True(t, AccountPasswordReset.IsUser())
	assert.False(t, AccountPasswordReset.IsAdmin())
	assert.True(t, StaffOrderConfirmation.IsAdmin())
	assert.False(t, StaffOrderConfirmation.IsUser())
	assert.False(t, EventType("nope").IsValid())

	for _, e := range UserEvents {
		assert.Falsef(t, e.IsAdmin(), "%s is listed for both audiences", e)
	}
	assert.Len(t, UserEvents, 15)
	assert.Len(t, AdminEvents, 5)
}

func TestPayload_Recipients(t *testing.T) {
	p := Payload{"recipient_email": "a@example.com", "recipient_list": []any{"x@example.com", 3, "y@example.com"}}
	assert.Equal(t, "a@example.com", p.Recipient())
	assert.Equal(t, []string{"x@example.com", "y@example.com"}, p.Recipients())
	assert.Nil(t, Payload{}.Recipients())
}
