package models

import "time"

type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "active"
	WebhookStatusInactive WebhookStatus = "inactive"
	WebhookStatusFailed   WebhookStatus = "failed"
)

// Webhook is a tenant-configured HTTPS endpoint notified of inbound messages
// for a given phone number. Unique per (tenantId, phoneNumber); a second
// registration for the same pair updates the existing row. FailureCount
// counts consecutive failed deliveries across all events; reaching the
// failure threshold marks the webhook failed until it is reactivated.
type Webhook struct {
	ID            string        `db:"id" json:"id"`
	TenantID      int64         `db:"tenant_id" json:"tenantId"`
	PhoneNumber   string        `db:"phone_number" json:"phoneNumber"`
	URL           string        `db:"url" json:"url"`
	IsActive      bool          `db:"is_active" json:"isActive"`
	Status        WebhookStatus `db:"status" json:"status"`
	FailureCount  int           `db:"failure_count" json:"failureCount"`
	MaxRetries    int           `db:"max_retries" json:"maxRetries"`
	LastError     *string       `db:"last_error" json:"lastError,omitempty"`
	LastSuccessAt *time.Time    `db:"last_success_at" json:"lastSuccessAt,omitempty"`
	LastAttemptAt *time.Time    `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusSent      WebhookEventStatus = "sent"
	WebhookEventStatusDelivered WebhookEventStatus = "delivered"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is one notification delivery record for one webhook. Events
// are never deleted; they form the audit trail operators use for manual
// retries.
type WebhookEvent struct {
	ID          string             `db:"id" json:"id"`
	WebhookID   string             `db:"webhook_id" json:"webhookId"`
	MessageID   string             `db:"message_id" json:"messageId"`
	From        string             `db:"sender" json:"from"`
	To          string             `db:"recipient" json:"to"`
	MessageType string             `db:"message_type" json:"messageType"`
	Payload     string             `db:"payload" json:"payload"`
	Status      WebhookEventStatus `db:"status" json:"status"`
	AttemptCount int               `db:"attempt_count" json:"attemptCount"`
	HTTPStatus  *int               `db:"http_status" json:"httpStatus,omitempty"`
	Response    *string            `db:"response" json:"response,omitempty"`
	Error       *string            `db:"error" json:"error,omitempty"`
	NextRetryAt *time.Time         `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"createdAt"`
	DeliveredAt *time.Time         `db:"delivered_at" json:"deliveredAt,omitempty"`
}

// WebhookPayload is the JSON body POSTed to a webhook endpoint.
type WebhookPayload struct {
	TenantID  int64  `json:"client_id"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
}
