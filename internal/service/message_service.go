package service

import (
	"context"
	"fmt"
	"time"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"
	"wagate/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageStore is the message persistence surface the service needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessageByMessageID(ctx context.Context, messageID string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, errText *string) error
	ListMessagesByParty(ctx context.Context, phoneNumber string, limit, offset int) ([]*models.Message, int, error)
}

// SendRequest is an outbound send from the API.
type SendRequest struct {
	To            string                `json:"to"`
	Type          models.MessageType    `json:"type"`
	Content       models.MessageContent `json:"content"`
	SessionPhone  string                `json:"sessionPhone,omitempty"`
	CorrelationID string                `json:"correlationId,omitempty"`
}

// InboundMessage is a message arriving from the protocol side through the
// intake endpoint.
type InboundMessage struct {
	MessageID string                `json:"messageId"`
	From      string                `json:"from"`
	To        string                `json:"to"`
	Type      models.MessageType    `json:"type"`
	Content   models.MessageContent `json:"content"`
}

// ReceiveResult reports what intake did with an inbound message.
type ReceiveResult struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

const (
	ReceiveStatusAccepted   = "accepted"
	ReceiveStatusDuplicated = "duplicated"
)

// MessageService accepts sends and inbound intake, persists every message
// before any delivery work, and feeds the job queues. Delivery itself
// happens in the workers.
type MessageService struct {
	messages MessageStore
	sessions SessionStore
	registry *Registry
	queue    queue.Queue
	logger   *logrus.Logger

	sendMaxAttempts    int
	sendBackoffSec     int
	deleteMaxAttempts  int
	deleteBackoffSec   int
	deleteWindow       time.Duration
	receiveMaxAttempts int
	receiveBackoffSec  int
}

type MessageServiceOptions struct {
	SendMaxAttempts    int
	SendBackoffSec     int
	DeleteMaxAttempts  int
	DeleteBackoffSec   int
	DeleteWindow       time.Duration
	ReceiveMaxAttempts int
	ReceiveBackoffSec  int
}

func NewMessageService(messages MessageStore, sessions SessionStore, registry *Registry, q queue.Queue, logger *logrus.Logger, opts MessageServiceOptions) *MessageService {
	if opts.SendMaxAttempts <= 0 {
		opts.SendMaxAttempts = 3
	}
	if opts.SendBackoffSec <= 0 {
		opts.SendBackoffSec = 2
	}
	if opts.DeleteMaxAttempts <= 0 {
		opts.DeleteMaxAttempts = 2
	}
	if opts.DeleteBackoffSec <= 0 {
		opts.DeleteBackoffSec = 1
	}
	if opts.DeleteWindow <= 0 {
		opts.DeleteWindow = 4 * time.Hour
	}
	if opts.ReceiveMaxAttempts <= 0 {
		opts.ReceiveMaxAttempts = 3
	}
	if opts.ReceiveBackoffSec <= 0 {
		opts.ReceiveBackoffSec = 2
	}
	return &MessageService{
		messages:           messages,
		sessions:           sessions,
		registry:           registry,
		queue:              q,
		logger:             logger,
		sendMaxAttempts:    opts.SendMaxAttempts,
		sendBackoffSec:     opts.SendBackoffSec,
		deleteMaxAttempts:  opts.DeleteMaxAttempts,
		deleteBackoffSec:   opts.DeleteBackoffSec,
		deleteWindow:       opts.DeleteWindow,
		receiveMaxAttempts: opts.ReceiveMaxAttempts,
		receiveBackoffSec:  opts.ReceiveBackoffSec,
	}
}

// Send persists the message in pending status and enqueues delivery. The
// message row exists before the job, so a crash between the two leaves a
// pending row an operator can requeue, never a sent-but-unrecorded message.
func (s *MessageService) Send(ctx context.Context, tenantID int64, req *SendRequest) (*models.Message, error) {
	recipient := validation.NormalizePhoneNumber(req.To)
	if err := validation.ValidatePhoneNumber(recipient); err != nil {
		return nil, apperrors.NewInvalidRecipient(req.To)
	}
	if !req.Type.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeValidation, fmt.Sprintf("unsupported message type: %s", req.Type))
	}

	sessionPhone, err := s.resolveSendSession(tenantID, req.SessionPhone)
	if err != nil {
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	msg := &models.Message{
		ID:            uuid.New().String(),
		MessageID:     "out-" + uuid.New().String(),
		From:          sessionPhone,
		To:            recipient,
		Type:          req.Type,
		Content:       req.Content,
		Status:        models.MessageStatusPending,
		CorrelationID: correlationID,
	}
	if handle, ok := s.registry.Get(sessionPhone); ok {
		sessionID := handle.Session.ID
		msg.SessionID = &sessionID
	}

	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist outbound message")
	}

	job := models.SendJob{
		MessageID:     msg.ID,
		Recipient:     recipient,
		Type:          msg.Type,
		Content:       msg.Content,
		SessionPhone:  sessionPhone,
		CorrelationID: correlationID,
	}
	err = s.queue.Enqueue(ctx, models.JobKindSend, sessionPhone, job, queue.Options{
		MaxAttempts:   s.sendMaxAttempts,
		BackoffSec:    s.sendBackoffSec,
		CorrelationID: correlationID,
	})
	if err != nil {
		errText := "failed to enqueue delivery"
		_ = s.messages.UpdateMessageStatus(ctx, msg.ID, models.MessageStatusFailed, &errText)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to enqueue outbound message")
	}

	s.logger.WithFields(logrus.Fields{
		"messageId":     msg.ID,
		"to":            recipient,
		"type":          msg.Type,
		"correlationId": correlationID,
	}).Info("Outbound message accepted")
	return msg, nil
}

// resolveSendSession picks the live connected session the send goes out
// through. An explicit session phone must belong to the tenant; otherwise
// any connected session of the tenant is used. A session still pairing or
// reconnecting does not count.
func (s *MessageService) resolveSendSession(tenantID int64, sessionPhone string) (string, error) {
	if sessionPhone != "" {
		sessionPhone = validation.NormalizePhoneNumber(sessionPhone)
		handle, ok := s.registry.Get(sessionPhone)
		if !ok || handle.Session.TenantID != tenantID || !handle.Session.Connected() {
			return "", apperrors.NewSessionNotFound(sessionPhone)
		}
		return sessionPhone, nil
	}

	for _, handle := range s.registry.List() {
		if handle.Session.TenantID == tenantID && handle.Session.Connected() {
			return handle.Session.PhoneNumber, nil
		}
	}
	return "", apperrors.NewNoSessionFound()
}

// Receive handles inbound intake. Dedup is idempotent by protocol message
// id: a replay is acknowledged as duplicated without side effects.
func (s *MessageService) Receive(ctx context.Context, inbound *InboundMessage) (*ReceiveResult, error) {
	if err := validation.ValidateMessageID(inbound.MessageID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid message id")
	}
	from := validation.NormalizePhoneNumber(inbound.From)
	to := validation.NormalizePhoneNumber(inbound.To)

	session, err := s.sessions.GetSessionByPhone(ctx, to)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NewSessionNotFound(to)
	}

	existing, err := s.messages.GetMessageByMessageID(ctx, inbound.MessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.WithField("messageId", inbound.MessageID).Debug("Duplicate inbound message ignored")
		return &ReceiveResult{Status: ReceiveStatusDuplicated, MessageID: existing.ID}, nil
	}

	msgType := inbound.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeValidation, fmt.Sprintf("unsupported message type: %s", msgType))
	}

	correlationID := uuid.New().String()
	msg := &models.Message{
		ID:            uuid.New().String(),
		MessageID:     inbound.MessageID,
		SessionID:     &session.ID,
		From:          from,
		To:            to,
		Type:          msgType,
		Content:       inbound.Content,
		Status:        models.MessageStatusDelivered,
		CorrelationID: correlationID,
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		// a concurrent intake of the same id loses the insert race
		if dup, dupErr := s.messages.GetMessageByMessageID(ctx, inbound.MessageID); dupErr == nil && dup != nil {
			return &ReceiveResult{Status: ReceiveStatusDuplicated, MessageID: dup.ID}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist inbound message")
	}

	job := models.ReceiveJob{
		MessageID:     msg.ID,
		TenantID:      session.TenantID,
		From:          from,
		To:            to,
		CorrelationID: correlationID,
	}
	err = s.queue.Enqueue(ctx, models.JobKindReceive, to, job, queue.Options{
		MaxAttempts:   s.receiveMaxAttempts,
		BackoffSec:    s.receiveBackoffSec,
		CorrelationID: correlationID,
	})
	if err != nil {
		s.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to enqueue inbound processing")
	}

	return &ReceiveResult{Status: ReceiveStatusAccepted, MessageID: msg.ID}, nil
}

// Forward re-sends the content of a stored message to each recipient as a
// fresh outbound message, marked so receivers can tell it was forwarded. On
// a failed send the messages already accepted stay queued.
func (s *MessageService) Forward(ctx context.Context, tenantID int64, messageID string, recipients []string) ([]*models.Message, error) {
	if len(recipients) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "at least one recipient is required")
	}

	msg, err := s.getOwnedMessage(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}

	content := forwardedContent(msg.Content)
	forwarded := make([]*models.Message, 0, len(recipients))
	for _, to := range recipients {
		sent, err := s.Send(ctx, tenantID, &SendRequest{
			To:      to,
			Type:    msg.Type,
			Content: content,
		})
		if err != nil {
			return forwarded, err
		}
		forwarded = append(forwarded, sent)
	}
	return forwarded, nil
}

// forwardedContent prefixes the visible text so the receiver can tell the
// message was forwarded rather than authored.
func forwardedContent(content models.MessageContent) models.MessageContent {
	switch {
	case content.Caption != "":
		content.Caption = forwardedPrefix + content.Caption
	case content.Text != "":
		content.Text = forwardedPrefix + content.Text
	}
	return content
}

const forwardedPrefix = "[Forwarded] "

// Get returns a message the tenant owns.
func (s *MessageService) Get(ctx context.Context, tenantID int64, messageID string) (*models.Message, error) {
	return s.getOwnedMessage(ctx, tenantID, messageID)
}

// Delete marks a message deleted locally and requests best-effort upstream
// retraction. Only sent messages with a provider id can be retracted, and
// only within the deletion window.
func (s *MessageService) Delete(ctx context.Context, tenantID int64, messageID string) (*models.Message, error) {
	msg, err := s.getOwnedMessage(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}

	if msg.ProviderMessageID == nil || *msg.ProviderMessageID == "" {
		return nil, apperrors.New(apperrors.ErrCodeForbidden, "message has no provider id and cannot be retracted")
	}

	sentAt := msg.CreatedAt
	if msg.SentAt != nil {
		sentAt = *msg.SentAt
	}
	if time.Since(sentAt) > s.deleteWindow {
		return nil, apperrors.New(apperrors.ErrCodeForbidden,
			fmt.Sprintf("deletion window of %s has passed", s.deleteWindow))
	}

	if !msg.Status.CanTransitionTo(models.MessageStatusDeleted) {
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("message in status %s cannot be deleted", msg.Status))
	}

	if err := s.messages.UpdateMessageStatus(ctx, msg.ID, models.MessageStatusDeleted, nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to mark message deleted")
	}
	msg.Status = models.MessageStatusDeleted

	job := models.DeleteJob{
		MessageID:         msg.ID,
		ProviderMessageID: *msg.ProviderMessageID,
		SessionPhone:      msg.From,
		CorrelationID:     msg.CorrelationID,
	}
	err = s.queue.Enqueue(ctx, models.JobKindDelete, msg.From, job, queue.Options{
		MaxAttempts:   s.deleteMaxAttempts,
		BackoffSec:    s.deleteBackoffSec,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		// local deleted status stands; upstream retraction is best-effort
		s.logger.WithError(err).WithField("messageId", msg.ID).Warn("Failed to enqueue upstream deletion")
	}

	return msg, nil
}

// History lists messages exchanged with the tenant's session phone number.
func (s *MessageService) History(ctx context.Context, tenantID int64, phoneNumber string, limit, offset int) ([]*models.Message, int, error) {
	phoneNumber = validation.NormalizePhoneNumber(phoneNumber)

	session, err := s.sessions.GetSession(ctx, tenantID, phoneNumber)
	if err != nil {
		return nil, 0, err
	}
	if session == nil {
		return nil, 0, apperrors.NewSessionNotFound(phoneNumber)
	}

	return s.messages.ListMessagesByParty(ctx, phoneNumber, limit, offset)
}

// getOwnedMessage loads a message and verifies it involves one of the
// tenant's sessions.
func (s *MessageService) getOwnedMessage(ctx context.Context, tenantID int64, messageID string) (*models.Message, error) {
	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		msg, err = s.messages.GetMessageByMessageID(ctx, messageID)
		if err != nil {
			return nil, err
		}
	}
	if msg == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("no message found with id %s", messageID))
	}

	for _, phone := range []string{msg.From, msg.To} {
		session, err := s.sessions.GetSession(ctx, tenantID, phone)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return msg, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrCodeForbidden, "message does not belong to this tenant")
}
