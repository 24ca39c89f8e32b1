package types

import "context"

// Socket is the fixed capability surface of one live protocol connection.
// Callers get all of it or none of it; there is no per-method capability
// negotiation.
type Socket interface {
	// Events delivers lifecycle notifications until Close. The channel is
	// closed when the socket shuts down.
	Events() <-chan Event
	Send(ctx context.Context, payload *OutboundPayload) (*SendResult, error)
	Delete(ctx context.Context, chatID, providerMessageID string) error
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens sockets. Material is the opaque credential blob from a
// previous pairing; empty material starts a fresh pairing flow.
type Dialer interface {
	Dial(ctx context.Context, session, material string) (Socket, error)
}
