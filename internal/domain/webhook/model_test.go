package webhook

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_IsTerminal(t *testing.T) {
	nextRetry := time.Now().UTC().Add(time.Minute)

	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"pending", Message{Status: MessageStatusPending}, false},
		{"processing", Message{Status: MessageStatusProcessing}, false},
		{"delivered", Message{Status: MessageStatusDelivered}, true},
		{"cancelled", Message{Status: MessageStatusCancelled}, true},
		{"failed scheduled", Message{Status: MessageStatusFailed, NextRetryAt: &nextRetry}, false},
		{"failed terminal", Message{Status: MessageStatusFailed}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.IsTerminal())
		})
	}
}

func TestMessage_Expired(t *testing.T) {
	now := time.Now().UTC()
	msg := Message{CreatedAt: now.Add(-time.Hour)}

	assert.True(t, msg.Expired(30*time.Minute, now))
	assert.False(t, msg.Expired(2*time.Hour, now))
	assert.False(t, msg.Expired(0, now), "zero max age disables expiry")
}

func TestNamePattern(t *testing.T) {
	valid := []string{"orders", "orders.v2", "my-hook_1", "A"}
	invalid := []string{"", "bad name", "hooks/extra", "x@y", strings.Repeat("a", 65)}

	for _, name := range valid {
		assert.True(t, NamePattern.MatchString(name), name)
	}
	for _, name := range invalid {
		assert.False(t, NamePattern.MatchString(name), name)
	}
}

func TestPage(t *testing.T) {
	assert.Equal(t, 0, Page{Number: 1, PerPage: 20}.Offset())
	assert.Equal(t, 40, Page{Number: 3, PerPage: 20}.Offset())
	assert.Equal(t, 20, Page{}.Size(), "defaults applied")
	assert.Equal(t, 20, Page{PerPage: 500}.Size(), "oversized page clamped")
	assert.Equal(t, 0, Page{Number: -2, PerPage: 10}.Offset())
}

func TestMessageStatus_IsValid(t *testing.T) {
	for _, status := range []MessageStatus{MessageStatusPending, MessageStatusProcessing,
		MessageStatusDelivered, MessageStatusFailed, MessageStatusCancelled} {
		assert.True(t, status.IsValid())
	}
	assert.False(t, MessageStatus("RETRYING").IsValid())
	assert.False(t, MessageStatus("").IsValid())
}
