// Package queue provides the durable job queue behind the delivery
// pipeline. Jobs of the same key are processed strictly in order, one at a
// time; retries re-enter the queue after a backoff delay so a failing key
// never blocks its shard.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wagate/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Job is the envelope carried through the queue. Payload holds the
// kind-specific job variant serialized as JSON.
type Job struct {
	ID            string          `json:"id"`
	Kind          models.JobKind  `json:"kind"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"maxAttempts"`
	BackoffSec    int             `json:"backoffSec"`
	CorrelationID string          `json:"correlationId,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the payload into the kind-specific job variant.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s job payload: %w", j.Kind, err)
	}
	return nil
}

// Options controls retry behavior for one enqueued job.
type Options struct {
	MaxAttempts   int
	BackoffSec    int
	CorrelationID string
}

// Handler processes one job. A nil return acknowledges the job; a retryable
// error re-enqueues it with backoff until attempts are exhausted; a
// non-retryable error dead-letters it immediately.
type Handler func(ctx context.Context, job *Job) error

// DeadLetterFunc is invoked when a job has terminally failed.
type DeadLetterFunc func(ctx context.Context, job *Job, err error)

// Queue is the durable queue capability used by the delivery pipeline.
type Queue interface {
	Enqueue(ctx context.Context, kind models.JobKind, key string, payload interface{}, opts Options) error
	Subscribe(kind models.JobKind, handler Handler)
	OnDeadLetter(fn DeadLetterFunc)
	Start(ctx context.Context) error
	Stop()
}

// New builds the queue driver selected by configuration: AMQP when a broker
// URL is set, otherwise the in-process driver.
func New(cfg models.QueueConfig, logger *logrus.Logger) (Queue, error) {
	if cfg.AMQPURL != "" {
		return NewAMQPQueue(cfg, logger)
	}
	return NewMemoryQueue(cfg, logger), nil
}

func newJob(kind models.JobKind, key string, payload interface{}, opts Options) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s job payload: %w", kind, err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		Key:           key,
		Payload:       body,
		Attempt:       0,
		MaxAttempts:   opts.MaxAttempts,
		BackoffSec:    opts.BackoffSec,
		CorrelationID: opts.CorrelationID,
		EnqueuedAt:    time.Now().UTC(),
	}, nil
}
