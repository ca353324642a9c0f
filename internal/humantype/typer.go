// Package humantype drives character-level text entry with randomized
// inter-key timing so automated input resembles manual typing. It owns the
// timing contract only; keystroke delivery is the caller's capability.
package humantype

import (
	"context"
	"math/rand"
	"time"
)

// Options tunes the typing cadence. Zero values fall back to the defaults
// below.
type Options struct {
	MinKeyDelay time.Duration // delay between characters, lower bound
	MaxKeyDelay time.Duration // delay between characters, upper bound
	PauseChance float64       // per-character probability of a thinking pause
	MinPause    time.Duration
	MaxPause    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinKeyDelay <= 0 {
		o.MinKeyDelay = 100 * time.Millisecond
	}
	if o.MaxKeyDelay <= o.MinKeyDelay {
		o.MaxKeyDelay = 300 * time.Millisecond
	}
	if o.PauseChance <= 0 {
		o.PauseChance = 0.1
	}
	if o.MinPause <= 0 {
		o.MinPause = 300 * time.Millisecond
	}
	if o.MaxPause <= o.MinPause {
		o.MaxPause = 800 * time.Millisecond
	}
	return o
}

// PressFunc delivers one character to the target input surface.
type PressFunc func(ctx context.Context, ch string) error

// SleepFunc blocks for d or until ctx is done. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Typer types text one character at a time with randomized delays between
// characters and occasional longer pauses, never after the final character.
type Typer struct {
	opts  Options
	rng   *rand.Rand
	sleep SleepFunc
}

// New creates a Typer with its own timing source.
func New(opts Options) *Typer {
	return NewWithRand(opts, rand.New(rand.NewSource(time.Now().UnixNano())), SleepContext)
}

// NewWithRand creates a Typer with an injected random source and sleeper,
// used by tests to make timing observable.
func NewWithRand(opts Options, rng *rand.Rand, sleep SleepFunc) *Typer {
	return &Typer{opts: opts.withDefaults(), rng: rng, sleep: sleep}
}

// Type delivers text through press, pacing each keystroke. It stops early
// when ctx is cancelled or press fails.
func (t *Typer) Type(ctx context.Context, text string, press PressFunc) error {
	runes := []rune(text)
	for i, r := range runes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := press(ctx, string(r)); err != nil {
			return err
		}
		if i == len(runes)-1 {
			break
		}
		if err := t.sleep(ctx, t.between(t.opts.MinKeyDelay, t.opts.MaxKeyDelay)); err != nil {
			return err
		}
		if t.rng.Float64() < t.opts.PauseChance {
			if err := t.sleep(ctx, t.between(t.opts.MinPause, t.opts.MaxPause)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Typer) between(min, max time.Duration) time.Duration {
	return min + time.Duration(t.rng.Int63n(int64(max-min)+1))
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
