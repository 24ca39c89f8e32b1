package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"
	"wagate/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebhookStore is the webhook persistence surface the service needs.
type WebhookStore interface {
	SaveWebhook(ctx context.Context, wh *models.Webhook) error
	GetWebhookByID(ctx context.Context, id string) (*models.Webhook, error)
	GetActiveWebhook(ctx context.Context, tenantID int64, phoneNumber string) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, tenantID int64) ([]*models.Webhook, error)
	SetWebhookActive(ctx context.Context, id string, tenantID int64, active bool) error
	DeleteWebhook(ctx context.Context, id string, tenantID int64) error
	ReactivateWebhook(ctx context.Context, id string) error
	SaveWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error)
	ResetWebhookEvent(ctx context.Context, id string) error
	ListWebhookEvents(ctx context.Context, tenantID int64, limit, offset int) ([]*models.WebhookEvent, error)
}

// RegisterWebhookRequest registers or replaces the webhook for one phone
// number.
type RegisterWebhookRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	URL         string `json:"url"`
	MaxRetries  int    `json:"maxRetries,omitempty"`
}

// WebhookService manages webhook registrations and turns inbound messages
// into pending delivery events for the webhook worker.
type WebhookService struct {
	store    WebhookStore
	messages MessageStore
	queue    queue.Queue
	logger   *logrus.Logger

	production        bool
	defaultRetries    int
	deliverBackoffSec int
}

type WebhookServiceOptions struct {
	Production        bool
	DefaultMaxRetries int
	DeliverBackoffSec int
}

func NewWebhookService(store WebhookStore, messages MessageStore, q queue.Queue, logger *logrus.Logger, opts WebhookServiceOptions) *WebhookService {
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = 3
	}
	if opts.DeliverBackoffSec <= 0 {
		opts.DeliverBackoffSec = 5
	}
	return &WebhookService{
		store:             store,
		messages:          messages,
		queue:             q,
		logger:            logger,
		production:        opts.Production,
		defaultRetries:    opts.DefaultMaxRetries,
		deliverBackoffSec: opts.DeliverBackoffSec,
	}
}

// Register creates or replaces the tenant's webhook for a phone number.
// Re-registering resets the failure counter and reactivates a failed
// webhook.
func (s *WebhookService) Register(ctx context.Context, tenantID int64, req *RegisterWebhookRequest) (*models.Webhook, error) {
	phoneNumber := validation.NormalizePhoneNumber(req.PhoneNumber)
	if err := validation.ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid phone number")
	}
	if err := validation.ValidateWebhookURL(req.URL, s.production); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid webhook URL")
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.defaultRetries
	}

	wh := &models.Webhook{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		PhoneNumber: phoneNumber,
		URL:         req.URL,
		IsActive:    true,
		Status:      models.WebhookStatusActive,
		MaxRetries:  maxRetries,
	}
	if err := s.store.SaveWebhook(ctx, wh); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to save webhook")
	}

	// the upsert may have kept an earlier row id
	stored, err := s.store.GetActiveWebhook(ctx, tenantID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		wh = stored
	}

	s.logger.WithFields(logrus.Fields{
		"webhookId":   wh.ID,
		"phoneNumber": phoneNumber,
	}).Info("Webhook registered")
	return wh, nil
}

func (s *WebhookService) List(ctx context.Context, tenantID int64) ([]*models.Webhook, error) {
	return s.store.ListWebhooks(ctx, tenantID)
}

// SetActive toggles a webhook without touching its failure history.
func (s *WebhookService) SetActive(ctx context.Context, tenantID int64, webhookID string, active bool) error {
	wh, err := s.ownedWebhook(ctx, tenantID, webhookID)
	if err != nil {
		return err
	}
	return s.store.SetWebhookActive(ctx, wh.ID, tenantID, active)
}

func (s *WebhookService) Delete(ctx context.Context, tenantID int64, webhookID string) error {
	wh, err := s.ownedWebhook(ctx, tenantID, webhookID)
	if err != nil {
		return err
	}
	return s.store.DeleteWebhook(ctx, wh.ID, tenantID)
}

func (s *WebhookService) ListEvents(ctx context.Context, tenantID int64, limit, offset int) ([]*models.WebhookEvent, error) {
	return s.store.ListWebhookEvents(ctx, tenantID, limit, offset)
}

// RetryEvent is the operator escape hatch for a dead event: the event goes
// back to pending with a zeroed attempt counter, a failed webhook is
// reactivated, and delivery is re-enqueued.
func (s *WebhookService) RetryEvent(ctx context.Context, tenantID int64, eventID string) error {
	event, err := s.store.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("no webhook event found with id %s", eventID))
	}

	wh, err := s.ownedWebhook(ctx, tenantID, event.WebhookID)
	if err != nil {
		return err
	}

	if err := s.store.ResetWebhookEvent(ctx, eventID); err != nil {
		return err
	}
	if wh.Status == models.WebhookStatusFailed {
		if err := s.store.ReactivateWebhook(ctx, wh.ID); err != nil {
			return err
		}
	}

	return s.enqueueDelivery(ctx, wh, eventID, uuid.New().String())
}

// NotifyInbound creates and enqueues the delivery event for an inbound
// message. No registered webhook means there is nothing to deliver; that is
// a normal outcome, not an error.
func (s *WebhookService) NotifyInbound(ctx context.Context, tenantID int64, messageID string) error {
	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.New(apperrors.ErrCodeTerminalFailure,
			fmt.Sprintf("inbound message %s no longer exists", messageID))
	}

	wh, err := s.store.GetActiveWebhook(ctx, tenantID, msg.To)
	if err != nil {
		return err
	}
	if wh == nil {
		return apperrors.NewNoActiveWebhook(msg.To)
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "failed to marshal message content")
	}
	payload := models.WebhookPayload{
		TenantID:  tenantID,
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		Type:      string(msg.Type),
		Content:   string(content),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "failed to marshal webhook payload")
	}

	event := &models.WebhookEvent{
		ID:          uuid.New().String(),
		WebhookID:   wh.ID,
		MessageID:   msg.MessageID,
		From:        msg.From,
		To:          msg.To,
		MessageType: string(msg.Type),
		Payload:     string(body),
		Status:      models.WebhookEventStatusPending,
	}
	if err := s.store.SaveWebhookEvent(ctx, event); err != nil {
		return apperrors.NewTransientDelivery(err, "failed to persist webhook event")
	}

	// the event row is durable now; an enqueue failure leaves it pending for
	// manual retry instead of letting the receive job rerun and duplicate it
	if err := s.enqueueDelivery(ctx, wh, event.ID, msg.CorrelationID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"eventId":   event.ID,
			"webhookId": wh.ID,
		}).Error("Failed to enqueue webhook delivery, event left pending")
	}
	return nil
}

func (s *WebhookService) enqueueDelivery(ctx context.Context, wh *models.Webhook, eventID, correlationID string) error {
	job := models.WebhookDeliverJob{
		EventID:       eventID,
		WebhookID:     wh.ID,
		CorrelationID: correlationID,
	}
	err := s.queue.Enqueue(ctx, models.JobKindWebhookDeliver, wh.ID, job, queue.Options{
		MaxAttempts:   wh.MaxRetries,
		BackoffSec:    s.deliverBackoffSec,
		CorrelationID: correlationID,
	})
	if err != nil {
		return apperrors.NewTransientDelivery(err, "failed to enqueue webhook delivery")
	}
	return nil
}

func (s *WebhookService) ownedWebhook(ctx context.Context, tenantID int64, webhookID string) (*models.Webhook, error) {
	wh, err := s.store.GetWebhookByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if wh == nil || wh.TenantID != tenantID {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("no webhook found with id %s", webhookID))
	}
	return wh, nil
}
