package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LifecycleSink receives session lifecycle notifications as direct typed
// calls. Implementations must not block; slow consumers should hand off to
// their own queue.
type LifecycleSink interface {
	SessionPairing(ctx context.Context, sessionID, phoneNumber, qr string)
	SessionConnected(ctx context.Context, sessionID, phoneNumber string)
	SessionDisconnected(ctx context.Context, sessionID, phoneNumber, reason string, loggedOut bool)
}

// LogSink is the default sink; it records transitions in the structured log.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SessionPairing(ctx context.Context, sessionID, phoneNumber, qr string) {
	s.logger.WithFields(logrus.Fields{
		"sessionId":   sessionID,
		"phoneNumber": phoneNumber,
	}).Info("Session awaiting pairing scan")
}

func (s *LogSink) SessionConnected(ctx context.Context, sessionID, phoneNumber string) {
	s.logger.WithFields(logrus.Fields{
		"sessionId":   sessionID,
		"phoneNumber": phoneNumber,
	}).Info("Session connected")
}

func (s *LogSink) SessionDisconnected(ctx context.Context, sessionID, phoneNumber, reason string, loggedOut bool) {
	s.logger.WithFields(logrus.Fields{
		"sessionId":   sessionID,
		"phoneNumber": phoneNumber,
		"reason":      reason,
		"loggedOut":   loggedOut,
	}).Warn("Session disconnected")
}
