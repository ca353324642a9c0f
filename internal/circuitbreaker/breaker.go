// Package circuitbreaker guards calls to flaky remote dependencies, chiefly
// the AI classification endpoint, so a degraded service sheds load instead
// of stalling every feed iteration.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the wrapped call while the breaker
// is open.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes the breaker.
type Config struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration
}

// DefaultConfig matches the pacing of a per-item classification call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent
// use.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	halfOpenBusy bool
}

// New creates a breaker. Zero config fields fall back to defaults.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
	}
}

// Execute runs fn unless the breaker is open. A half-open breaker admits
// one probe at a time.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

// State returns the breaker's current position, advancing open to
// half-open when the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenBusy {
			return ErrOpen
		}
		b.halfOpenBusy = true
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.halfOpenBusy = false
		if !success {
			b.transition(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// advance moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.transition(StateHalfOpen)
	}
}

// transition switches state and resets counters. Caller holds mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.failures = 0
	b.successes = 0
	b.halfOpenBusy = false
	if next == StateOpen {
		b.openedAt = b.clock()
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}
