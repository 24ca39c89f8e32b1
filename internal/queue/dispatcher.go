package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	apperrors "wagate/internal/errors"
	"wagate/internal/models"

	"github.com/sirupsen/logrus"
)

// dispatcher fans jobs out to a fixed set of shard workers. Shard selection
// hashes the job key, so all jobs for one key land on the same worker and
// run one at a time in arrival order.
type dispatcher struct {
	shards     []chan *Job
	wg         sync.WaitGroup
	mu         sync.RWMutex
	handlers   map[models.JobKind]Handler
	deadLetter DeadLetterFunc
	requeue    func(job *Job, delay time.Duration)
	logger     *logrus.Entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newDispatcher(shardCount int, logger *logrus.Entry) *dispatcher {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]chan *Job, shardCount)
	for i := range shards {
		shards[i] = make(chan *Job, 64)
	}
	return &dispatcher{
		shards:   shards,
		handlers: make(map[models.JobKind]Handler),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (d *dispatcher) subscribe(kind models.JobKind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

func (d *dispatcher) onDeadLetter(fn DeadLetterFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadLetter = fn
}

func (d *dispatcher) start(ctx context.Context) {
	for i := range d.shards {
		d.wg.Add(1)
		go d.runShard(ctx, i)
	}
}

// stop signals workers and waits for in-flight jobs to finish. Shard
// channels are never closed; a late retry timer sending into one must not
// panic.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

// submit routes a job to its shard. Returns false when the dispatcher is
// shutting down.
func (d *dispatcher) submit(job *Job) bool {
	shard := d.shardFor(job.Key)
	select {
	case <-d.stopCh:
		return false
	case d.shards[shard] <- job:
		return true
	}
}

func (d *dispatcher) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *dispatcher) runShard(ctx context.Context, idx int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case job := <-d.shards[idx]:
			d.process(ctx, job)
		}
	}
}

func (d *dispatcher) process(ctx context.Context, job *Job) {
	d.mu.RLock()
	handler := d.handlers[job.Kind]
	deadLetter := d.deadLetter
	d.mu.RUnlock()

	log := d.logger.WithFields(logrus.Fields{
		"jobId":         job.ID,
		"kind":          job.Kind,
		"key":           job.Key,
		"attempt":       job.Attempt + 1,
		"correlationId": job.CorrelationID,
	})

	if handler == nil {
		log.Error("No handler subscribed for job kind, dropping job")
		return
	}

	job.Attempt++
	err := handler(ctx, job)
	if err == nil {
		log.Debug("Job completed")
		return
	}

	if isTerminal(err) || job.Attempt >= job.MaxAttempts {
		log.WithError(err).Warn("Job terminally failed")
		if deadLetter != nil {
			deadLetter(ctx, job, err)
		}
		return
	}

	delay := backoffDelay(job)
	log.WithError(err).WithField("retryIn", delay.String()).Info("Job failed, scheduling retry")
	d.requeue(job, delay)
}

// backoffDelay grows exponentially with the attempt count, doubling the
// configured base delay each failure.
func backoffDelay(job *Job) time.Duration {
	base := time.Duration(job.BackoffSec) * time.Second
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < job.Attempt; i++ {
		delay *= 2
	}
	return delay
}

// isTerminal reports whether the error should skip remaining retry budget.
// Plain errors are assumed transient; only an explicitly non-retryable
// application error short-circuits.
func isTerminal(err error) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return !appErr.Retryable
	}
	return false
}
