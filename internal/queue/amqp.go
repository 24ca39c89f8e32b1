package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wagate/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// amqpQueue is the broker-backed driver. One durable queue per job kind,
// named <prefix>_<kind>. Deliveries are acked on hand-off to the dispatcher;
// retries are republished as fresh messages after the backoff delay, so the
// broker never sees a redelivery loop.
type amqpQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	cfg        models.QueueConfig
	dispatcher *dispatcher
	logger     *logrus.Entry

	mu       sync.Mutex
	kinds    []models.JobKind
	timers   map[*time.Timer]struct{}
	started  bool
	stopped  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

func NewAMQPQueue(cfg models.QueueConfig, logger *logrus.Logger) (Queue, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = channel.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set AMQP prefetch: %w", err)
		}
	}

	entry := logger.WithField("component", "queue-amqp")
	q := &amqpQueue{
		conn:       conn,
		channel:    channel,
		cfg:        cfg,
		dispatcher: newDispatcher(cfg.Shards, entry),
		logger:     entry,
		timers:     make(map[*time.Timer]struct{}),
	}
	q.dispatcher.requeue = q.requeueAfter
	return q, nil
}

func (q *amqpQueue) queueName(kind models.JobKind) string {
	return q.cfg.Prefix + "_" + string(kind)
}

func (q *amqpQueue) declareQueue(kind models.JobKind) error {
	_, err := q.channel.QueueDeclare(
		q.queueName(kind),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.queueName(kind), err)
	}
	return nil
}

func (q *amqpQueue) Enqueue(ctx context.Context, kind models.JobKind, key string, payload interface{}, opts Options) error {
	job, err := newJob(kind, key, payload, opts)
	if err != nil {
		return err
	}
	return q.publish(ctx, job)
}

func (q *amqpQueue) publish(ctx context.Context, job *Job) error {
	if err := q.declareQueue(job.Kind); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		"",                    // exchange (default)
		q.queueName(job.Kind), // routing key = queue
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", q.queueName(job.Kind), err)
	}
	return nil
}

func (q *amqpQueue) Subscribe(kind models.JobKind, handler Handler) {
	q.mu.Lock()
	q.kinds = append(q.kinds, kind)
	q.mu.Unlock()
	q.dispatcher.subscribe(kind, handler)
}

func (q *amqpQueue) OnDeadLetter(fn DeadLetterFunc) {
	q.dispatcher.onDeadLetter(fn)
}

func (q *amqpQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	q.cancelFn = cancel
	q.dispatcher.start(consumeCtx)

	for _, kind := range q.kinds {
		if err := q.declareQueue(kind); err != nil {
			cancel()
			return err
		}
		deliveries, err := q.channel.Consume(
			q.queueName(kind),
			"",    // consumer tag
			false, // auto-ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to consume %s: %w", q.queueName(kind), err)
		}

		q.wg.Add(1)
		go q.consume(consumeCtx, kind, deliveries)
	}

	q.started = true
	q.logger.WithFields(logrus.Fields{
		"prefix": q.cfg.Prefix,
		"kinds":  len(q.kinds),
		"shards": len(q.dispatcher.shards),
	}).Info("AMQP queue started")
	return nil
}

func (q *amqpQueue) consume(ctx context.Context, kind models.JobKind, deliveries <-chan amqp.Delivery) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			job := &Job{}
			if err := json.Unmarshal(delivery.Body, job); err != nil {
				q.logger.WithError(err).WithField("kind", kind).Error("Dropping undecodable job envelope")
				_ = delivery.Reject(false)
				continue
			}
			if q.dispatcher.submit(job) {
				_ = delivery.Ack(false)
			} else {
				_ = delivery.Nack(false, true)
			}
		}
	}
}

func (q *amqpQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	cancel := q.cancelFn
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = q.channel.Close()
	_ = q.conn.Close()
	q.wg.Wait()
	q.dispatcher.stop()
	q.logger.Info("AMQP queue stopped")
}

func (q *amqpQueue) requeueAfter(job *Job, delay time.Duration) {
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
		if err := q.publish(context.Background(), job); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"jobId": job.ID,
				"kind":  job.Kind,
			}).Error("Failed to republish job for retry")
		}
	})
	q.timers[timer] = struct{}{}
}
