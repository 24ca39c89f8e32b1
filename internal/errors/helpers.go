package errors

import "fmt"

// NewSessionExists signals that a connected session already exists for the
// tenant and phone number. The caller must disconnect explicitly first.
func NewSessionExists(phoneNumber string) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf("connected session already exists for %s", phoneNumber)).
		WithUserMessage("A session already exists. Disconnect it before connecting again.")
}

// NewSessionNotFound signals that no session row exists for the tenant and
// phone number.
func NewSessionNotFound(phoneNumber string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("no session found for %s", phoneNumber))
}

// NewNoSessionFound signals that an outbound send could not resolve any
// session for the tenant.
func NewNoSessionFound() *AppError {
	return New(ErrCodeNotFound, "no WhatsApp session found for this tenant").
		WithUserMessage("No WhatsApp session found. Connect a session first.")
}

// NewConnectTimeout signals that a session did not produce a QR artifact or a
// connected confirmation within the establishment window.
func NewConnectTimeout(phoneNumber string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("connection establishment timed out for %s", phoneNumber))
}

// NewNoActiveWebhook signals that no active webhook matches the tenant and
// phone number.
func NewNoActiveWebhook(phoneNumber string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("no active webhook configured for %s", phoneNumber))
}

// NewInvalidRecipient rejects a malformed recipient before any persistence.
func NewInvalidRecipient(recipient string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("invalid recipient phone number: %s", recipient))
}

// NewProtocolFatal wraps a logged-out signal from the socket. Never retried.
func NewProtocolFatal(err error, phoneNumber string) *AppError {
	return Wrap(err, ErrCodeProtocolFatal, fmt.Sprintf("session %s logged out", phoneNumber))
}

// NewTransientDelivery wraps a failure that the owning queue may retry.
func NewTransientDelivery(err error, message string) *AppError {
	return WrapRetryable(err, ErrCodeTransientDelivery, message)
}
