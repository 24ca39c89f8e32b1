package models

import "time"

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio,
		MessageTypeDocument, MessageTypeSticker, MessageTypeLocation, MessageTypeContact:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDeleted   MessageStatus = "deleted"
)

// CanTransitionTo reports whether a status change is legal. Transitions are
// monotonic along pending->sent->delivered->read; failed is reachable from
// pending or sent, deleted from any live status.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	switch s {
	case MessageStatusPending:
		return next == MessageStatusSent || next == MessageStatusFailed || next == MessageStatusDeleted
	case MessageStatusSent:
		return next == MessageStatusDelivered || next == MessageStatusFailed || next == MessageStatusDeleted
	case MessageStatusDelivered:
		return next == MessageStatusRead || next == MessageStatusDeleted
	case MessageStatusRead:
		return next == MessageStatusDeleted
	default:
		return false
	}
}

// MessageContent is the typed union matching the message type. Unused fields
// stay empty in the serialized JSON blob.
type MessageContent struct {
	Text      string  `json:"text,omitempty"`
	MediaURL  string  `json:"mediaUrl,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`
	Phone     string  `json:"phone,omitempty"`
}

// Message is a single inbound or outbound protocol message. MessageID is the
// protocol-level id used for idempotent receive dedup; ProviderMessageID is
// the id the socket engine returned after a successful send.
type Message struct {
	ID                string         `db:"id" json:"id"`
	MessageID         string         `db:"message_id" json:"messageId"`
	SessionID         *string        `db:"session_id" json:"sessionId,omitempty"`
	From              string         `db:"sender" json:"from"`
	To                string         `db:"recipient" json:"to"`
	Type              MessageType    `db:"type" json:"type"`
	Content           MessageContent `db:"content" json:"content"`
	Status            MessageStatus  `db:"status" json:"status"`
	ProviderMessageID *string        `db:"provider_message_id" json:"providerMessageId,omitempty"`
	CorrelationID     string         `db:"correlation_id" json:"correlationId,omitempty"`
	Error             *string        `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
	SentAt            *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt            *time.Time     `db:"read_at" json:"readAt,omitempty"`
}
