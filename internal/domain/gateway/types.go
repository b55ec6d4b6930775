// Package gateway holds the data model shared across the decision engine's
// components: the caller-supplied Action, the engine's Decision output, and
// the append-only AuditEntry — plus the Clock and AuditSink ports the
// Decision Pipeline consumes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAction is returned by Action.Validate.
var ErrInvalidAction = errors.New("action: invalid")

// Action is the immutable, caller-supplied description of an intended
// effectful operation. Every field is caller-supplied; the engine
// validates but does not transform it.
type Action struct {
	ProjectID  string
	AgentName  string
	ActionType string
	Params     map[string]any
}

// Validate checks the structural requirements spec section 3 places on
// Action: non-empty project_id, agent_name, and action_type.
func (a Action) Validate() error {
	if a.ProjectID == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalidAction)
	}
	if a.AgentName == "" {
		return fmt.Errorf("%w: agent_name is required", ErrInvalidAction)
	}
	if a.ActionType == "" {
		return fmt.Errorf("%w: action_type is required", ErrInvalidAction)
	}
	return nil
}

// Decision is the immutable output of Decide. ActionID is nil only for
// simulated calls; a blocked Decision always carries a non-empty Reason,
// and an allowed Decision never does.
type Decision struct {
	Allowed         bool
	ActionID        *string
	Timestamp       time.Time
	Reason          string
	PolicyVersion   string
	ExecutionTimeMS float64
	Simulated       bool
}

// AuditEntry is an Action extended with the fields of the Decision it
// produced. Exactly one is created per non-simulated Decide call.
type AuditEntry struct {
	Action
	Decision
}

// Clock abstracts wall-clock time so the decision pipeline and the
// sliding-window counters can be driven by a fake in tests. Now must be
// monotonic within a process; wall-clock drift across processes is
// tolerated up to a rule's window_seconds.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// AuditSink is the consumed port for append-only audit storage. Append
// must not block the caller for longer than an in-memory enqueue;
// backpressure surfaces only as dropped entries plus an internal counter,
// never as an error propagated back to Decide.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}
