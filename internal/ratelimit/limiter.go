// Package ratelimit implements per-actor sliding-window admission control
// for message creation. The window store is deliberately separate from the
// chat database so a limiter outage can never touch chat data.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"dm-chat/internal/observability"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter gates actions per actor. Admit never returns an error: a store
// failure resolves to an allow or deny according to the configured policy.
type Limiter interface {
	Admit(ctx context.Context, actorID string) Decision
}

// Store persists per-actor window state. Implementations must make the
// prune-check-record sequence atomic for a given actor: two concurrent
// calls must not both be admitted past the cap. The memory store holds a
// mutex across the sequence; the badger store retries its transaction on
// write conflict. An error from Slide means the store itself is unusable,
// not that the attempt lost a race.
type Store interface {
	// Slide prunes entries older than now-window for the actor and, if
	// fewer than limit remain, records now. It reports whether the
	// attempt was recorded, the entry count left in the window, and the
	// oldest remaining entry (zero when the window is empty).
	Slide(ctx context.Context, actorID string, now time.Time, window time.Duration, limit int) (admitted bool, count int, oldest time.Time, err error)
	Close() error
}

// SlidingWindow is the Limiter used in production: a trailing-interval
// counter (default 10 actions / 10s) backed by a pluggable Store.
type SlidingWindow struct {
	store    Store
	limit    int
	window   time.Duration
	failOpen bool
	now      func() time.Time
}

// NewSlidingWindow creates a limiter admitting at most limit actions per
// actor within the trailing window. failOpen selects the policy applied
// when the store is unreachable: admit-and-log versus reject.
func NewSlidingWindow(store Store, limit int, window time.Duration, failOpen bool) *SlidingWindow {
	return &SlidingWindow{
		store:    store,
		limit:    limit,
		window:   window,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// Admit checks and, when allowed, consumes one window slot for the actor.
// Rejected attempts do not consume slots.
func (l *SlidingWindow) Admit(ctx context.Context, actorID string) Decision {
	now := l.now()

	admitted, count, oldest, err := l.store.Slide(ctx, actorID, now, l.window, l.limit)
	if err != nil {
		if l.failOpen {
			slog.Warn("rate limit store unavailable, failing open",
				slog.String("actor_id", actorID),
				slog.String("error", err.Error()))
			observability.RateLimitDecisions.WithLabelValues("fail_open").Inc()
			return Decision{Allowed: true, Remaining: 0, ResetAt: now.Add(l.window)}
		}
		slog.Warn("rate limit store unavailable, failing closed",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()))
		observability.RateLimitDecisions.WithLabelValues("fail_closed").Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: now.Add(l.window)}
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(l.window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(l.window)
	}

	if admitted {
		observability.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		observability.RateLimitDecisions.WithLabelValues("throttled").Inc()
	}

	return Decision{Allowed: admitted, Remaining: remaining, ResetAt: resetAt}
}
