// Package pacing spaces automation actions out in time: randomized dwell
// waits between feed items and a rate cap on comment submissions.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer produces randomized waits. Safe for concurrent use.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pacer seeded from the current time.
func New() *Pacer {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates a pacer with an injected randomness source for
// deterministic tests.
func NewWithRand(rng *rand.Rand) *Pacer {
	return &Pacer{rng: rng, sleep: sleepContext}
}

// NewInstant returns a pacer whose sleeps return immediately, for tests
// that exercise pacing call sites without waiting.
func NewInstant() *Pacer {
	p := NewWithRand(rand.New(rand.NewSource(0)))
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

// Duration returns a uniform random duration in [min, max]. A degenerate
// range collapses to min.
func (p *Pacer) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}

// SleepRange blocks for a random duration in [min, max], returning early
// with the context's error on cancellation.
func (p *Pacer) SleepRange(ctx context.Context, min, max time.Duration) error {
	return p.sleep(ctx, p.Duration(min, max))
}

// SleepSecondsRange is SleepRange over a whole-second watch window.
func (p *Pacer) SleepSecondsRange(ctx context.Context, minSec, maxSec int) error {
	return p.SleepRange(ctx, time.Duration(minSec)*time.Second, time.Duration(maxSec)*time.Second)
}

// Index returns a uniform random index in [0, n). n must be positive.
func (p *Pacer) Index(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// Chance reports true with probability prob in [0, 1].
func (p *Pacer) Chance(prob float64) bool {
	if prob <= 0 {
		return false
	}
	if prob >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < prob
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommentLimiter caps how often comments may be submitted across the
// process, independent of per-item pacing.
type CommentLimiter struct {
	limiter *rate.Limiter
}

// NewCommentLimiter allows one comment per interval with the given burst.
func NewCommentLimiter(interval time.Duration, burst int) *CommentLimiter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &CommentLimiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until a comment slot is available or the context ends.
func (l *CommentLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a comment slot is available right now, consuming
// it when so.
func (l *CommentLimiter) Allow() bool {
	return l.limiter.Allow()
}
