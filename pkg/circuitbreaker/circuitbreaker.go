// Package circuitbreaker guards calls to tenant webhook endpoints. Each
// endpoint gets its own breaker so one dead consumer cannot stall delivery
// to the rest.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a three-state circuit breaker. Closed counts consecutive
// failures; reaching maxFailures opens the circuit for openTimeout, after
// which a limited number of half-open probe calls decide whether to close
// again.
type Breaker struct {
	name             string
	maxFailures      uint32
	openTimeout      time.Duration
	halfOpenMaxCalls uint32

	mu              sync.Mutex
	state           State
	failures        uint32
	successes       uint32
	requests        uint32
	halfOpenCalls   uint32
	halfOpenOKs     uint32
	lastFailureTime time.Time

	logger *logrus.Entry
}

func New(name string, maxFailures uint32, openTimeout time.Duration, logger *logrus.Entry) *Breaker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Breaker{
		name:             name,
		maxFailures:      maxFailures,
		openTimeout:      openTimeout,
		halfOpenMaxCalls: 3,
		state:            StateClosed,
		logger:           logger.WithField("breaker", name),
	}
}

// Execute runs fn when the breaker admits the call, recording the outcome.
// An open breaker returns *OpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return &OpenError{Name: b.name, State: b.State()}
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.requests++
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) < b.openTimeout {
			return false
		}
		b.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			return false
		}
		b.halfOpenCalls++
		b.requests++
		return true
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	if b.state == StateHalfOpen {
		b.halfOpenOKs++
		if b.halfOpenOKs >= b.halfOpenMaxCalls {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenCalls = 0
			b.halfOpenOKs = 0
			b.logger.Info("Circuit breaker closed after successful recovery")
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// trip must be called with the lock held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.logger.WithField("failures", b.failures).Warn("Circuit breaker opened")
}

// toHalfOpen must be called with the lock held.
func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenCalls = 0
	b.halfOpenOKs = 0
	b.logger.Info("Circuit breaker transitioned to half-open")
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailureTime) >= b.openTimeout {
		b.toHalfOpen()
	}
	return b.state
}

// Stats is a point-in-time snapshot for health reporting.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Failures  uint32 `json:"failures"`
	Requests  uint32 `json:"requests"`
	Successes uint32 `json:"successes"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:      b.name,
		State:     b.state.String(),
		Failures:  b.failures,
		Requests:  b.requests,
		Successes: b.successes,
	}
}

// OpenError is returned when a call is rejected without being attempted.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

// Group lazily creates one breaker per key with shared settings.
type Group struct {
	maxFailures uint32
	openTimeout time.Duration
	logger      *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewGroup(maxFailures uint32, openTimeout time.Duration, logger *logrus.Entry) *Group {
	return &Group{
		maxFailures: maxFailures,
		openTimeout: openTimeout,
		logger:      logger,
		breakers:    make(map[string]*Breaker),
	}
}

func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[key]; ok {
		return b
	}
	b := New(key, g.maxFailures, g.openTimeout, g.logger)
	g.breakers[key] = b
	return b
}

// Stats reports every breaker the group has created.
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := make([]Stats, 0, len(g.breakers))
	for _, b := range g.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}
