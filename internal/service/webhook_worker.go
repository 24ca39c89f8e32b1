package service

import (
	"context"
	"fmt"
	"time"

	"wagate/internal/constants"
	apperrors "wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/queue"
	"wagate/pkg/circuitbreaker"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// WebhookEventStore is the event persistence surface the delivery worker
// needs.
type WebhookEventStore interface {
	GetWebhookByID(ctx context.Context, id string) (*models.Webhook, error)
	GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error)
	MarkWebhookEventDelivered(ctx context.Context, id string, attemptCount, httpStatus int, response string) error
	MarkWebhookEventFailure(ctx context.Context, id string, status models.WebhookEventStatus, attemptCount int, httpStatus *int, errText string, nextRetryAt *time.Time) error
	RecordWebhookSuccess(ctx context.Context, id string) error
	RecordWebhookFailure(ctx context.Context, id string, errText string, failureThreshold int) error
}

// WebhookWorker POSTs pending webhook events. Each destination URL gets its
// own circuit breaker so one dead endpoint cannot slow the others down.
type WebhookWorker struct {
	store    WebhookEventStore
	client   *resty.Client
	breakers *circuitbreaker.Group
	logger   *logrus.Logger

	backoff          time.Duration
	failureThreshold int
}

type WebhookWorkerOptions struct {
	TimeoutSec       int
	BackoffSec       int
	FailureThreshold int
	BreakerOpenSec   int
}

func NewWebhookWorker(store WebhookEventStore, logger *logrus.Logger, opts WebhookWorkerOptions) *WebhookWorker {
	if opts.TimeoutSec <= 0 {
		opts.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if opts.BackoffSec <= 0 {
		opts.BackoffSec = constants.DefaultWebhookBackoffSec
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = constants.DefaultWebhookFailureThreshold
	}
	if opts.BreakerOpenSec <= 0 {
		opts.BreakerOpenSec = constants.DefaultBreakerOpenTimeoutSec
	}

	client := resty.New().
		SetTimeout(time.Duration(opts.TimeoutSec) * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "wagate-webhook/1.0")

	return &WebhookWorker{
		store:            store,
		client:           client,
		breakers:         circuitbreaker.NewGroup(uint32(opts.FailureThreshold), time.Duration(opts.BreakerOpenSec)*time.Second, logger.WithField("component", "webhook_breaker")),
		logger:           logger,
		backoff:          time.Duration(opts.BackoffSec) * time.Second,
		failureThreshold: opts.FailureThreshold,
	}
}

func (w *WebhookWorker) Register(q queue.Queue) {
	q.Subscribe(models.JobKindWebhookDeliver, w.handleDeliver)
}

func (w *WebhookWorker) handleDeliver(ctx context.Context, job *queue.Job) error {
	var payload models.WebhookDeliverJob
	if err := job.Decode(&payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "undecodable webhook job")
	}

	log := w.logger.WithFields(logrus.Fields{
		"eventId":       payload.EventID,
		"webhookId":     payload.WebhookID,
		"correlationId": payload.CorrelationID,
		"attempt":       job.Attempt,
	})

	event, err := w.store.GetWebhookEvent(ctx, payload.EventID)
	if err != nil {
		return err
	}
	if event == nil {
		return apperrors.New(apperrors.ErrCodeTerminalFailure,
			fmt.Sprintf("webhook event %s no longer exists", payload.EventID))
	}
	if event.Status == models.WebhookEventStatusDelivered {
		log.Debug("Webhook event already delivered, skipping")
		return nil
	}

	wh, err := w.store.GetWebhookByID(ctx, payload.WebhookID)
	if err != nil {
		return err
	}
	if wh == nil {
		return apperrors.New(apperrors.ErrCodeTerminalFailure,
			fmt.Sprintf("webhook %s was deleted", payload.WebhookID))
	}
	if !wh.IsActive || wh.Status == models.WebhookStatusFailed {
		w.failEvent(ctx, event, job, nil, "webhook is inactive")
		return apperrors.New(apperrors.ErrCodeTerminalFailure,
			fmt.Sprintf("webhook %s is inactive", wh.ID))
	}

	var httpStatus *int
	var responseBody string
	err = w.breakers.Get(wh.URL).Execute(ctx, func(ctx context.Context) error {
		// the event id lets the remote side deduplicate redelivered events
		resp, postErr := w.client.R().
			SetContext(ctx).
			SetHeader("X-Webhook-Event-ID", event.ID).
			SetHeader("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339)).
			SetBody([]byte(event.Payload)).
			Post(wh.URL)
		if postErr != nil {
			return postErr
		}
		code := resp.StatusCode()
		httpStatus = &code
		responseBody = truncate(string(resp.Body()), constants.MaxWebhookResponseBytes)
		if code < 200 || code >= 300 {
			return fmt.Errorf("webhook returned status %d", code)
		}
		return nil
	})

	if err != nil {
		if recErr := w.store.RecordWebhookFailure(ctx, wh.ID, err.Error(), w.failureThreshold); recErr != nil {
			log.WithError(recErr).Error("Failed to record webhook failure")
		}
		if job.Attempt >= job.MaxAttempts {
			// exhausted: record when an operator retry would fire next
			nextRetry := time.Now().Add(w.backoff * (1 << uint(job.Attempt)))
			if markErr := w.store.MarkWebhookEventFailure(ctx, event.ID, models.WebhookEventStatusFailed,
				job.Attempt, httpStatus, err.Error(), &nextRetry); markErr != nil {
				log.WithError(markErr).Error("Failed to mark webhook event failed")
			}
			return apperrors.Wrap(err, apperrors.ErrCodeTerminalFailure, "webhook delivery attempts exhausted")
		}
		if markErr := w.store.MarkWebhookEventFailure(ctx, event.ID, models.WebhookEventStatusFailed,
			job.Attempt, httpStatus, err.Error(), nil); markErr != nil {
			log.WithError(markErr).Error("Failed to record webhook event failure")
		}
		log.WithError(err).Warn("Webhook delivery failed, will retry")
		return apperrors.NewTransientDelivery(err, "webhook delivery failed")
	}

	if err := w.store.MarkWebhookEventDelivered(ctx, event.ID, job.Attempt, *httpStatus, responseBody); err != nil {
		return err
	}
	if err := w.store.RecordWebhookSuccess(ctx, wh.ID); err != nil {
		log.WithError(err).Error("Failed to record webhook success")
	}
	log.WithField("httpStatus", *httpStatus).Info("Webhook event delivered")
	return nil
}

// failEvent marks an event permanently failed. Used both when retries run
// out and when the webhook itself is no longer deliverable.
func (w *WebhookWorker) failEvent(ctx context.Context, event *models.WebhookEvent, job *queue.Job, httpStatus *int, errText string) {
	if err := w.store.MarkWebhookEventFailure(ctx, event.ID, models.WebhookEventStatusFailed,
		job.Attempt, httpStatus, errText, nil); err != nil {
		w.logger.WithError(err).WithField("eventId", event.ID).Error("Failed to mark webhook event failed")
	}
}

// BreakerStats exposes per-URL circuit state for the health endpoint.
func (w *WebhookWorker) BreakerStats() []circuitbreaker.Stats {
	return w.breakers.Stats()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
