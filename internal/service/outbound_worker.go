package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"
	"wagate/pkg/wasocket"
	sockettypes "wagate/pkg/wasocket/types"

	"github.com/sirupsen/logrus"
)

// OutboundStore is what the worker needs to record delivery outcomes.
type OutboundStore interface {
	MarkMessageSent(ctx context.Context, id string, providerMessageID string, status models.MessageStatus) error
	MarkMessageDelivered(ctx context.Context, id string) error
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, errText *string) error
}

// InboundNotifier fans a processed inbound message out to webhooks.
type InboundNotifier interface {
	NotifyInbound(ctx context.Context, tenantID int64, messageID string) error
}

// OutboundWorker drains the send, delete and receive queues. Send and
// delete need a live socket from the registry; a missing or reconnecting
// session is a transient failure the queue retries.
type OutboundWorker struct {
	store    OutboundStore
	registry *Registry
	notifier InboundNotifier
	logger   *logrus.Logger
}

func NewOutboundWorker(store OutboundStore, registry *Registry, notifier InboundNotifier, logger *logrus.Logger) *OutboundWorker {
	return &OutboundWorker{
		store:    store,
		registry: registry,
		notifier: notifier,
		logger:   logger,
	}
}

// Register subscribes the worker's handlers on the queue.
func (w *OutboundWorker) Register(q queue.Queue) {
	q.Subscribe(models.JobKindSend, w.handleSend)
	q.Subscribe(models.JobKindDelete, w.handleDelete)
	q.Subscribe(models.JobKindReceive, w.handleReceive)
	q.OnDeadLetter(w.handleDeadLetter)
}

func (w *OutboundWorker) handleSend(ctx context.Context, job *queue.Job) error {
	var sendJob models.SendJob
	if err := job.Decode(&sendJob); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "undecodable send job")
	}

	socket, err := w.liveSocket(sendJob.SessionPhone)
	if err != nil {
		return err
	}

	payload := outboundPayload(&sendJob)
	result, err := socket.Send(ctx, payload)
	if err != nil {
		return classifyEngineError(err, "send failed")
	}
	if result.MessageID == "" {
		// an ack without a provider id cannot be confirmed or retracted
		return apperrors.NewTransientDelivery(
			fmt.Errorf("engine acknowledged send without a message id"), "no provider message id returned")
	}

	if err := w.store.MarkMessageSent(ctx, sendJob.MessageID, result.MessageID, models.MessageStatusSent); err != nil {
		return apperrors.NewTransientDelivery(err, "failed to record sent status")
	}
	// the engine ack covers hand-off to the device, so delivered follows
	// immediately after sent
	if err := w.store.MarkMessageDelivered(ctx, sendJob.MessageID); err != nil {
		w.logger.WithError(err).WithField("messageId", sendJob.MessageID).Warn("Failed to record delivered status")
	}

	w.logger.WithFields(logrus.Fields{
		"messageId":         sendJob.MessageID,
		"providerMessageId": result.MessageID,
		"correlationId":     sendJob.CorrelationID,
	}).Info("Message delivered")
	return nil
}

func (w *OutboundWorker) handleDelete(ctx context.Context, job *queue.Job) error {
	var deleteJob models.DeleteJob
	if err := job.Decode(&deleteJob); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "undecodable delete job")
	}

	socket, err := w.liveSocket(deleteJob.SessionPhone)
	if err != nil {
		return err
	}

	if err := socket.Delete(ctx, deleteJob.SessionPhone, deleteJob.ProviderMessageID); err != nil {
		return classifyEngineError(err, "upstream deletion failed")
	}

	w.logger.WithFields(logrus.Fields{
		"messageId":     deleteJob.MessageID,
		"correlationId": deleteJob.CorrelationID,
	}).Info("Message retracted upstream")
	return nil
}

func (w *OutboundWorker) handleReceive(ctx context.Context, job *queue.Job) error {
	var receiveJob models.ReceiveJob
	if err := job.Decode(&receiveJob); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "undecodable receive job")
	}
	err := w.notifier.NotifyInbound(ctx, receiveJob.TenantID, receiveJob.MessageID)
	if err != nil && apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		// no registered webhook means there is nothing to deliver
		w.logger.WithFields(logrus.Fields{
			"messageId":     receiveJob.MessageID,
			"correlationId": receiveJob.CorrelationID,
		}).Debug("Inbound message has no active webhook")
		return nil
	}
	return err
}

// handleDeadLetter records terminal outcomes. Only sends change message
// state; a failed upstream deletion leaves the local deleted status alone.
func (w *OutboundWorker) handleDeadLetter(ctx context.Context, job *queue.Job, err error) {
	log := w.logger.WithFields(logrus.Fields{
		"jobId":         job.ID,
		"kind":          job.Kind,
		"attempts":      job.Attempt,
		"correlationId": job.CorrelationID,
	}).WithError(err)

	switch job.Kind {
	case models.JobKindSend:
		var sendJob models.SendJob
		if decodeErr := job.Decode(&sendJob); decodeErr != nil {
			log.Error("Send job dead-lettered and undecodable")
			return
		}
		errText := err.Error()
		if updateErr := w.store.UpdateMessageStatus(ctx, sendJob.MessageID, models.MessageStatusFailed, &errText); updateErr != nil {
			log.WithField("messageId", sendJob.MessageID).Error("Failed to record failed status")
			return
		}
		log.WithField("messageId", sendJob.MessageID).Warn("Message delivery abandoned")
	case models.JobKindDelete:
		log.Warn("Upstream deletion abandoned")
	default:
		log.Warn("Job abandoned")
	}
}

func (w *OutboundWorker) liveSocket(sessionPhone string) (sockettypes.Socket, error) {
	handle, ok := w.registry.Get(sessionPhone)
	if !ok {
		return nil, apperrors.NewTransientDelivery(
			fmt.Errorf("no live session for %s", sessionPhone), "session not available")
	}
	return handle.Socket, nil
}

func outboundPayload(job *models.SendJob) *sockettypes.OutboundPayload {
	return &sockettypes.OutboundPayload{
		ChatID:    job.Recipient,
		Type:      string(job.Type),
		Text:      job.Content.Text,
		MediaURL:  job.Content.MediaURL,
		Caption:   job.Content.Caption,
		Latitude:  job.Content.Latitude,
		Longitude: job.Content.Longitude,
		Name:      job.Content.Name,
		Phone:     job.Content.Phone,
	}
}

// classifyEngineError maps engine responses onto retry semantics: a 4xx
// rejection is terminal, anything else is transient.
func classifyEngineError(err error, message string) error {
	var engineErr *wasocket.EngineError
	if errors.As(err, &engineErr) && engineErr.Fatal() {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, message)
	}
	return apperrors.NewTransientDelivery(err, message)
}
