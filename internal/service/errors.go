package service

import "errors"

// Error taxonomy per the error handling design: ActionBlocked is never a
// Go error (it is an ordinary Decision with Allowed=false); every other
// kind surfaces once at the outermost boundary of Decide.
var (
	// ErrInfraFault wraps a PolicyStore, CounterStore, or AuditSink
	// failure that was not absorbed by fail-closed handling.
	ErrInfraFault = errors.New("infrastructure fault")

	// ErrDeadlineExceeded wraps a context deadline that elapsed during an
	// outbound store call; always further wrapped as ErrInfraFault before
	// reaching the caller.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrInternal marks an engine invariant violation. Never silently
	// swallowed: ListAudit and Summarize return it wrapped in ErrInternal
	// only, not in ErrInfraFault, and do not log it separately.
	ErrInternal = errors.New("internal error")
)
