package types

import "time"

// EngineSessionStatus mirrors the lifecycle states reported by the socket
// engine for one phone number.
type EngineSessionStatus string

const (
	EngineStatusStarting EngineSessionStatus = "starting"
	EngineStatusScanQR   EngineSessionStatus = "scan_qr"
	EngineStatusWorking  EngineSessionStatus = "working"
	EngineStatusFailed   EngineSessionStatus = "failed"
	EngineStatusStopped  EngineSessionStatus = "stopped"
)

// EngineSession is the engine's view of one protocol connection.
type EngineSession struct {
	Name      string              `json:"name"`
	Status    EngineSessionStatus `json:"status"`
	QR        string              `json:"qr,omitempty"`
	Material  string              `json:"material,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	LoggedOut bool                `json:"loggedOut,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// OutboundPayload is one message handed to the engine for sending.
type OutboundPayload struct {
	Session   string  `json:"session"`
	ChatID    string  `json:"chatId"`
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	MediaURL  string  `json:"mediaUrl,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`
	Phone     string  `json:"phone,omitempty"`
}

// SendResult is the engine's acknowledgment of an accepted send.
type SendResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// EventKind tags the typed events a socket emits.
type EventKind string

const (
	EventQR        EventKind = "qr"
	EventConnected EventKind = "connected"
	EventClosed    EventKind = "closed"
)

// Event is one lifecycle notification from a live socket. Exactly the
// fields matching Kind are populated: QR for qr events, Material for
// connected, Reason and LoggedOut for closed.
type Event struct {
	Kind      EventKind
	Session   string
	QR        string
	Material  string
	Reason    string
	LoggedOut bool
}
