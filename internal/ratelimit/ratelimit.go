// Package ratelimit implements the per-application sliding-window request limiter.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/AppGateway/internal/counter"
	"github.com/router-for-me/AppGateway/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Window is the rolling window length.
const Window = 60 * time.Second

// Decision is the outcome of one check. Limit, Remaining and ResetEpoch are set on every decision.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetEpoch        int64
	RetryAfterSeconds int
	Degraded          bool // the counter store was unreachable and the call was admitted
}

// Limiter is the sliding-window limiter over the shared counter store.
type Limiter struct {
	store counter.Store
	now   func() time.Time
}

// New constructs a Limiter.
func New(store counter.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the clock, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check admits or denies one call for appID. A ceiling of zero or less disables the limiter.
func (l *Limiter) Check(ctx context.Context, appID string, ceiling int) Decision {
	if ceiling <= 0 {
		return Decision{Allowed: true}
	}
	nowMs := l.now().UnixMilli()
	windowMs := Window.Milliseconds()

	res, err := l.store.WindowAdmit(ctx, counter.WindowKey(appID), nowMs, windowMs, int64(ceiling), uuid.NewString())
	if err != nil {
		metrics.Degraded("rate_limit")
		log.WithError(err).WithField("app_id", appID).Warn("rate limiter: counter store unavailable, admitting")
		return degraded(ceiling, nowMs, windowMs)
	}
	d := decide(ceiling, nowMs, windowMs, res)
	d.Allowed = res.Allowed
	if !res.Allowed {
		oldest := res.OldestMs
		if oldest == 0 {
			oldest = nowMs
		}
		d.RetryAfterSeconds = int(ceilDiv(oldest+windowMs-nowMs, 1000))
		if d.RetryAfterSeconds < 1 {
			d.RetryAfterSeconds = 1
		}
	}
	return d
}

// Peek reports the window state of appID without recording a call. It serves rejections
// made before the limiter runs.
func (l *Limiter) Peek(ctx context.Context, appID string, ceiling int) Decision {
	if ceiling <= 0 {
		return Decision{Allowed: true}
	}
	nowMs := l.now().UnixMilli()
	windowMs := Window.Milliseconds()
	res, err := l.store.WindowPeek(ctx, counter.WindowKey(appID), nowMs, windowMs)
	if err != nil {
		log.WithError(err).WithField("app_id", appID).Debug("rate limiter: peek failed")
		return degraded(ceiling, nowMs, windowMs)
	}
	d := decide(ceiling, nowMs, windowMs, res)
	d.Allowed = res.Count < int64(ceiling)
	return d
}

func decide(ceiling int, nowMs, windowMs int64, res counter.WindowResult) Decision {
	remaining := ceiling - int(res.Count)
	if remaining < 0 {
		remaining = 0
	}
	oldest := res.OldestMs
	if oldest == 0 {
		oldest = nowMs
	}
	return Decision{
		Limit:      ceiling,
		Remaining:  remaining,
		ResetEpoch: ceilSeconds(oldest + windowMs),
	}
}

func degraded(ceiling int, nowMs, windowMs int64) Decision {
	return Decision{
		Allowed:    true,
		Limit:      ceiling,
		Remaining:  ceiling,
		ResetEpoch: ceilSeconds(nowMs + windowMs),
		Degraded:   true,
	}
}

func ceilSeconds(ms int64) int64 {
	return ceilDiv(ms, 1000)
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
