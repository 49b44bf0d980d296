// Package counter holds the shared volatile counters used for rate limiting and quota metering.
package counter

import (
	"context"
	"fmt"
	"time"
)

// Quota dimensions.
const (
	DimensionRequests = "requests"
	DimensionTokens   = "tokens"
)

// WindowResult is the outcome of one sliding-window admission attempt.
type WindowResult struct {
	Allowed  bool
	Count    int64 // entries in the window after the decision
	OldestMs int64 // score of the oldest remaining entry, 0 when empty
}

// Cycle is the live usage of one application in its current cycle.
type Cycle struct {
	Requests int64
	Tokens   float64
	Start    time.Time
	Started  bool // false when no cycle start has been recorded yet
}

// Store is the contract of the shared counter store. Every mutation is a single atomic round trip.
type Store interface {
	// WindowAdmit evicts entries older than nowMs-windowMs, counts the rest and records member
	// at nowMs when the count is below ceiling.
	WindowAdmit(ctx context.Context, key string, nowMs, windowMs, ceiling int64, member string) (WindowResult, error)
	// WindowPeek counts the entries newer than nowMs-windowMs without modifying the window.
	WindowPeek(ctx context.Context, key string, nowMs, windowMs int64) (WindowResult, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	IncrByFloat(ctx context.Context, key string, n float64) (float64, error)
	// SetIfAbsent sets key when it does not exist and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReadCycle(ctx context.Context, appID string) (Cycle, error)
	// InitCycle records start as the cycle start unless one exists, and returns the effective start.
	InitCycle(ctx context.Context, appID string, start time.Time) (time.Time, error)
	// ResetCycle subtracts the snapshotted amounts and advances the cycle start, only while the
	// stored start still equals expected. It reports whether this caller performed the reset.
	ResetCycle(ctx context.Context, appID string, expected, next time.Time, requests int64, tokens float64) (bool, error)
	// ClearFlags removes every threshold flag recorded for appID.
	ClearFlags(ctx context.Context, appID string) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// WindowKey returns the rate-limit window key.
func WindowKey(appID string) string { return "rate:" + appID }

// RequestsKey returns the request counter key.
func RequestsKey(appID string) string { return "quota:" + appID + ":requests" }

// TokensKey returns the token counter key.
func TokensKey(appID string) string { return "quota:" + appID + ":tokens" }

// CycleStartKey returns the key holding the cycle start in unix milliseconds.
func CycleStartKey(appID string) string { return "quota:" + appID + ":cycle_start" }

// FlagKey returns the per-cycle threshold idempotency key.
func FlagKey(appID, dimension, level string, cycleStart time.Time) string {
	return fmt.Sprintf("quota:%s:notified:%s:%s:%d", appID, dimension, level, cycleStart.UnixMilli())
}

func flagPattern(appID string) string { return "quota:" + appID + ":notified:*" }
