package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{MessageStatusPending, MessageStatusSent, true},
		{MessageStatusPending, MessageStatusFailed, true},
		{MessageStatusPending, MessageStatusDeleted, true},
		{MessageStatusPending, MessageStatusDelivered, false},
		{MessageStatusPending, MessageStatusRead, false},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusDeleted, true},
		{MessageStatusSent, MessageStatusPending, false},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusFailed, false},
		{MessageStatusDelivered, MessageStatusPending, false},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusFailed, MessageStatusSent, false},
		{MessageStatusDeleted, MessageStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMessageType_Valid(t *testing.T) {
	for _, mt := range []MessageType{
		MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio,
		MessageTypeDocument, MessageTypeSticker, MessageTypeLocation, MessageTypeContact,
	} {
		assert.True(t, mt.Valid(), string(mt))
	}
	assert.False(t, MessageType("gif").Valid())
	assert.False(t, MessageType("").Valid())
}
