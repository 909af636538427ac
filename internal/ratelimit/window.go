package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// MinWait is the shortest pause between admission attempts.
const MinWait = 100 * time.Millisecond

// ErrCostExceedsCapacity is returned when a single request can never fit.
var ErrCostExceedsCapacity = errors.New("cost exceeds window capacity")

type entry struct {
	at   time.Time
	cost int
}

// Window is a sliding-window admission controller safe for concurrent use.
type Window struct {
	name     string
	capacity int
	span     time.Duration

	mu      sync.Mutex
	entries []entry
	used    int

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	onWait  func(name string, delay time.Duration)
	onAdmit func(name string, at time.Time, cost int)
}

// Option customizes a Window.
type Option func(*Window)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSleeper overrides how waits are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Window) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithWaitObserver registers a callback invoked before every wait.
func WithWaitObserver(fn func(name string, delay time.Duration)) Option {
	return func(w *Window) {
		w.onWait = fn
	}
}

// WithAdmitObserver registers a callback invoked for every admission with the
// time recorded in the window. It runs under the window lock and must not call
// back into the window.
func WithAdmitObserver(fn func(name string, at time.Time, cost int)) Option {
	return func(w *Window) {
		w.onAdmit = fn
	}
}

// New constructs a window admitting at most capacity units per span.
func New(name string, capacity int, span time.Duration, opts ...Option) *Window {
	w := &Window{
		name:     name,
		capacity: capacity,
		span:     span,
		now:      time.Now,
		sleep:    SleepWithContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PerMinute is shorthand for a one-minute window.
func PerMinute(name string, capacity int, opts ...Option) *Window {
	return New(name, capacity, time.Minute, opts...)
}

// Name returns the label used in logs and metrics.
func (w *Window) Name() string { return w.name }

// Capacity returns the per-window budget.
func (w *Window) Capacity() int { return w.capacity }

// Acquire blocks until cost fits in the trailing window and records it.
func (w *Window) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	if cost > w.capacity {
		return fmt.Errorf("%s limiter: %w (cost=%d capacity=%d)", w.name, ErrCostExceedsCapacity, cost, w.capacity)
	}
	for {
		delay, ok := w.tryAdmit(cost)
		if ok {
			return nil
		}
		if w.onWait != nil {
			w.onWait(w.name, delay)
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *Window) tryAdmit(cost int) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	if w.used+cost <= w.capacity {
		w.entries = append(w.entries, entry{at: now, cost: cost})
		w.used += cost
		if w.onAdmit != nil {
			w.onAdmit(w.name, now, cost)
		}
		return 0, true
	}
	delay := w.span - now.Sub(w.entries[0].at)
	if delay < MinWait {
		delay = MinWait
	}
	return delay, false
}

func (w *Window) pruneLocked(now time.Time) {
	drop := 0
	for drop < len(w.entries) && now.Sub(w.entries[drop].at) >= w.span {
		w.used -= w.entries[drop].cost
		drop++
	}
	if drop > 0 {
		w.entries = append(w.entries[:0], w.entries[drop:]...)
	}
}

// Used returns the cost currently counted against the window.
func (w *Window) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.used
}

// EstimateTokens approximates the token count of text as one token per three
// characters. It overestimates for most scripts, which keeps the TPM budget safe.
func EstimateTokens(text string) int {
	estimate := utf8.RuneCountInString(text) / 3
	if estimate < 1 {
		return 1
	}
	return estimate
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
