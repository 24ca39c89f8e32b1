package models

import "time"

type SessionState string

const (
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateReconnecting SessionState = "reconnecting"
	SessionStateConnected    SessionState = "connected"
)

// Session is one tenant's logical connection to the chat protocol, identified
// by tenant + phone number. Material is the opaque credential blob needed to
// resume the protocol connection without re-pairing; it is stored encrypted
// at rest.
type Session struct {
	ID          string       `db:"id" json:"sessionId"`
	TenantID    int64        `db:"tenant_id" json:"tenantId"`
	PhoneNumber string       `db:"phone_number" json:"phoneNumber"`
	State       SessionState `db:"state" json:"state"`
	Material    string       `db:"material" json:"-"`
	QR          string       `db:"qr" json:"-"`
	LastError   *string      `db:"last_error" json:"lastError,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

func (s *Session) Connected() bool {
	return s.State == SessionStateConnected
}
