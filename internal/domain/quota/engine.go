// Package quota implements the Quota Engine (C4): per-identity rolling
// request counters and per-rule rolling aggregate-value counters, both
// backed by the same CounterStore abstraction.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RateLimit bounds the number of requests for a given
// (project_id, agent_name, action_type) triple within a rolling window.
type RateLimit struct {
	MaxRequests   int
	WindowSeconds int
}

// AggregateLimit bounds the rolling sum of a numeric parameter field for a
// given (project_id, rule_identity) pair within a rolling window.
type AggregateLimit struct {
	Field         string
	Max           float64
	WindowSeconds int
}

// SlidingResult is the outcome of one CounterStore operation.
type SlidingResult struct {
	Admitted bool
	Current  float64
}

// CounterStore is the quota engine's sole external collaborator: an
// opaque, per-key atomic sliding-window counter. Implementations must
// serialize the three sub-steps (drop expired, sum, conditionally append)
// per key; cross-key operations require no ordering.
type CounterStore interface {
	// SlidingIncrement atomically applies the window algorithm at key:
	// drop entries older than now-window, sum the remainder, and admit
	// (recording weight at now) only if the sum plus weight would not
	// exceed max. Returns the post-operation total either way.
	SlidingIncrement(ctx context.Context, key string, weight float64, window time.Duration, max float64, now time.Time) (SlidingResult, error)
	// Rollback removes the most recent increment recorded at now for key.
	// Best-effort: a failure here must not surface as a Decide error.
	Rollback(ctx context.Context, key string, weight float64, now time.Time) error
}

// Engine orchestrates the request and aggregate counters described in
// spec section 4.4 against a single shared CounterStore.
type Engine struct {
	store CounterStore
}

// NewEngine builds an Engine over store.
func NewEngine(store CounterStore) *Engine {
	return &Engine{store: store}
}

// RequestKey derives the opaque counter-store key for the request
// counter, keyed by (project_id, agent_name, action_type).
func RequestKey(projectID, agentName, actionType string) string {
	return hashKey("req", projectID, agentName, actionType)
}

// AggregateKey derives the opaque counter-store key for the aggregate
// counter, keyed by (project_id, rule_identity). ruleIdentity need only be
// stable within one loaded Policy; callers typically pass the rule's
// action_type plus its declaration index.
func AggregateKey(projectID, ruleIdentity string) string {
	return hashKey("agg", projectID, ruleIdentity)
}

func hashKey(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// CheckRequest enforces rl at key, returning whether the request is
// admitted and, when it is not, a human-readable reason naming the
// observed count and the configured limit.
func (e *Engine) CheckRequest(ctx context.Context, key string, rl RateLimit, now time.Time) (admitted bool, reason string, err error) {
	window := time.Duration(rl.WindowSeconds) * time.Second
	result, err := e.store.SlidingIncrement(ctx, key, 1, window, float64(rl.MaxRequests), now)
	if err != nil {
		return false, "", err
	}
	if !result.Admitted {
		return false, fmt.Sprintf("rate limit exceeded (%d/%d in last %d seconds)", int(result.Current), rl.MaxRequests, rl.WindowSeconds), nil
	}
	return true, "", nil
}

// CheckAggregate enforces al at key, summing value into the rolling
// aggregate.
func (e *Engine) CheckAggregate(ctx context.Context, key string, al AggregateLimit, value float64, now time.Time) (admitted bool, reason string, err error) {
	window := time.Duration(al.WindowSeconds) * time.Second
	result, err := e.store.SlidingIncrement(ctx, key, value, window, al.Max, now)
	if err != nil {
		return false, "", err
	}
	if !result.Admitted {
		return false, fmt.Sprintf("aggregate limit exceeded (current+value > %v over last %d seconds)", al.Max, al.WindowSeconds), nil
	}
	return true, "", nil
}

// RollbackRequest undoes a previously admitted request-counter increment.
// Used when the request counter admitted but the aggregate counter then
// refused, so a blocked action never consumes any quota.
func (e *Engine) RollbackRequest(ctx context.Context, key string, now time.Time) error {
	return e.store.Rollback(ctx, key, 1, now)
}
