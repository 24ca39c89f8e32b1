package queue

import (
	"context"
	"sync"
	"time"

	"wagate/internal/models"

	"github.com/sirupsen/logrus"
)

// memoryQueue runs the dispatcher in-process with no broker. Used in tests
// and in single-node deployments where no AMQP URL is configured. Jobs do
// not survive a restart; the delivery pipeline reconciles from the database
// on startup instead.
type memoryQueue struct {
	dispatcher *dispatcher
	logger     *logrus.Entry

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	started bool
	stopped bool
}

func NewMemoryQueue(cfg models.QueueConfig, logger *logrus.Logger) Queue {
	entry := logger.WithField("component", "queue-memory")
	q := &memoryQueue{
		dispatcher: newDispatcher(cfg.Shards, entry),
		logger:     entry,
		timers:     make(map[*time.Timer]struct{}),
	}
	q.dispatcher.requeue = q.requeueAfter
	return q
}

func (q *memoryQueue) Enqueue(ctx context.Context, kind models.JobKind, key string, payload interface{}, opts Options) error {
	job, err := newJob(kind, key, payload, opts)
	if err != nil {
		return err
	}
	q.dispatcher.submit(job)
	return nil
}

func (q *memoryQueue) Subscribe(kind models.JobKind, handler Handler) {
	q.dispatcher.subscribe(kind, handler)
}

func (q *memoryQueue) OnDeadLetter(fn DeadLetterFunc) {
	q.dispatcher.onDeadLetter(fn)
}

func (q *memoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	q.started = true
	q.dispatcher.start(ctx)
	q.logger.WithField("shards", len(q.dispatcher.shards)).Info("In-memory queue started")
	return nil
}

func (q *memoryQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	q.dispatcher.stop()
	q.logger.Info("In-memory queue stopped")
}

// requeueAfter schedules a retry without blocking the shard worker. The
// timer re-submits the job to its shard, preserving key affinity.
func (q *memoryQueue) requeueAfter(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return
		}
		q.dispatcher.submit(job)
	})
	q.timers[timer] = struct{}{}
}
