// Package memory provides in-memory implementations of the outbound ports
// (PolicyStore, CounterStore, AuditSink). Intended for single-instance
// deployments, development, and tests; internal/adapter/outbound/sqlite
// provides the durable equivalents.
package memory

import (
	"context"
	"sync"

	"github.com/Tobbiloba/actiongate/internal/domain/policy"
)

// PolicyStore implements policy.PolicyStore over an in-process map.
// Thread-safe for concurrent access. Exactly one active Policy per
// project; Put archives the prior version rather than discarding it, so
// GetActivePolicy always returns the current version while history
// remains available for audit/debugging.
type PolicyStore struct {
	mu      sync.RWMutex
	active  map[string]*policy.Policy
	history map[string][]*policy.Policy
}

// NewPolicyStore creates an empty in-memory PolicyStore.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		active:  make(map[string]*policy.Policy),
		history: make(map[string][]*policy.Policy),
	}
}

// Get returns the active policy for projectID, or (nil, nil) if no policy
// has ever been configured for it.
func (s *PolicyStore) Get(_ context.Context, projectID string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[projectID], nil
}

// Put atomically replaces the active policy for projectID. The
// replacement is a single map write under the store's lock, so no Get
// call can observe a partially-installed policy.
func (s *PolicyStore) Put(_ context.Context, projectID string, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior := s.active[projectID]; prior != nil {
		s.history[projectID] = append(s.history[projectID], prior)
	}
	s.active[projectID] = p
	return nil
}

// History returns previously-active policies for projectID, oldest first.
// Not part of the policy.PolicyStore port; exposed for admin tooling and
// tests.
func (s *PolicyStore) History(projectID string) []*policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*policy.Policy, len(s.history[projectID]))
	copy(out, s.history[projectID])
	return out
}

var _ policy.PolicyStore = (*PolicyStore)(nil)
