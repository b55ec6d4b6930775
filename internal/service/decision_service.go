// Package service implements the Decision Pipeline (C5): the single
// entry point that threads an Action through the Rule Matcher, the Quota
// Engine, and the Audit Log, producing one Decision per call.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tobbiloba/actiongate/internal/domain/constraint"
	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/domain/policy"
	"github.com/Tobbiloba/actiongate/internal/domain/quota"
)

// Config holds the Decision Pipeline's process-wide tunables.
type Config struct {
	// PolicyCacheTTL bounds how long a loaded Policy is reused before the
	// pipeline re-fetches it from the PolicyStore. Zero disables caching.
	PolicyCacheTTL time.Duration
	// FailClosed controls how an infrastructure fault on the Decide path
	// is handled: true turns it into a blocked Decision, false surfaces
	// it as an error.
	FailClosed bool
	// FailClosedReason overrides the Decision's Reason when FailClosed
	// absorbs an infrastructure fault. Defaults to "service unavailable
	// (fail-closed)" when empty.
	FailClosedReason string
}

// Instrumentation receives pipeline timing and outcome signals. A
// DecisionService with no configured Instrumentation uses noopInstrumentation,
// so telemetry wiring is always optional.
type Instrumentation interface {
	RecordDecision(ctx context.Context, outcome string, executionTimeMS float64)
	RecordQuotaRefusal(ctx context.Context, kind string)
	RecordAuditDropped(ctx context.Context, n int64)
}

type noopInstrumentation struct{}

func (noopInstrumentation) RecordDecision(context.Context, string, float64) {}
func (noopInstrumentation) RecordQuotaRefusal(context.Context, string)      {}
func (noopInstrumentation) RecordAuditDropped(context.Context, int64)       {}

// QueryEvaluator evaluates an ad-hoc filter expression against one
// AuditEntry. Consumed by ListAudit when a filter carries a CELQuery;
// internal/adapter/outbound/celquery provides the production
// implementation.
type QueryEvaluator interface {
	Matches(expr string, entry gateway.AuditEntry) (bool, error)
}

// AuditQuerier is implemented by an AuditSink adapter that also supports
// paginated, filtered reads. DecisionService discovers it via a type
// assertion on the configured gateway.AuditSink so the core ports stay
// narrow (Append-only) while capable adapters still expose querying.
type AuditQuerier interface {
	List(cursor string, limit int, match func(gateway.AuditEntry) bool) ([]gateway.AuditEntry, string, error)
}

// Option configures optional DecisionService collaborators.
type Option func(*DecisionService)

// WithInstrumentation attaches a telemetry sink.
func WithInstrumentation(i Instrumentation) Option {
	return func(s *DecisionService) { s.instr = i }
}

// WithQueryEvaluator attaches a CEL filter evaluator for ListAudit.
func WithQueryEvaluator(q QueryEvaluator) Option {
	return func(s *DecisionService) { s.queryEval = q }
}

// DecisionService implements the Decision Pipeline (C5) described in spec
// section 4.5: it owns no state of its own beyond the policy cache,
// delegating matching to policy.Evaluate, quota gating to quota.Engine, and
// persistence to the injected PolicyStore and AuditSink ports.
type DecisionService struct {
	store policy.PolicyStore
	quota *quota.Engine
	audit gateway.AuditSink
	clock gateway.Clock
	cfg   Config

	cache *policyCache

	logger    *slog.Logger
	instr     Instrumentation
	queryEval QueryEvaluator
}

// NewDecisionService wires the Decision Pipeline over its collaborators.
func NewDecisionService(store policy.PolicyStore, quotaEngine *quota.Engine, audit gateway.AuditSink, clock gateway.Clock, cfg Config, logger *slog.Logger, opts ...Option) *DecisionService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DecisionService{
		store:  store,
		quota:  quotaEngine,
		audit:  audit,
		clock:  clock,
		cfg:    cfg,
		cache:  newPolicyCache(cfg.PolicyCacheTTL),
		logger: logger.With("component", "decision_service"),
		instr:  noopInstrumentation{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecideOptions adjusts Decide's behavior for one call.
type DecideOptions struct {
	// Simulate evaluates matching and constraints without recording any
	// quota increment or audit entry. A simulated Decision never carries
	// an ActionID.
	Simulate bool
}

// Decide runs action through the full pipeline: policy lookup (cached),
// rule matching, quota gating (skipped when simulating), and audit
// emission (skipped when simulating). Fail-closed handling converts an
// infrastructure fault from the PolicyStore or CounterStore into a
// blocked Decision instead of an error when cfg.FailClosed is set.
func (s *DecisionService) Decide(ctx context.Context, action gateway.Action, opts DecideOptions) (gateway.Decision, error) {
	start := s.clock.Now()

	if err := action.Validate(); err != nil {
		return gateway.Decision{}, err
	}

	p, policyVersion, err := s.loadPolicy(ctx, action.ProjectID, start)
	if err != nil {
		return s.handleInfraFault(ctx, action, opts, start, err, "policy load")
	}

	verdict := policy.Evaluate(p, action.ActionType, action.AgentName, action.Params)

	decision := gateway.Decision{
		PolicyVersion: policyVersion,
		Simulated:     opts.Simulate,
		Timestamp:     start,
	}

	switch verdict.Kind {
	case policy.VerdictBlock:
		decision.Allowed = false
		decision.Reason = verdict.Reason
	case policy.VerdictDefault:
		if p.Default == policy.EffectBlock {
			decision.Allowed = false
			decision.Reason = "no matching rule; policy default is block"
		} else {
			decision.Allowed = true
		}
	case policy.VerdictAllowPending:
		decision.Allowed = true
		// Quota gates are side-effecting (they record a counter
		// increment), so a simulation never invokes them: the
		// simulated outcome reflects matching and constraints only.
		if !opts.Simulate {
			if err := s.applyQuota(ctx, action, verdict.Rule, start, &decision); err != nil {
				return s.handleInfraFault(ctx, action, opts, start, err, "quota check")
			}
		}
	default:
		decision.Allowed = true
	}

	decision.ExecutionTimeMS = durationMS(start, s.clock.Now())

	if opts.Simulate {
		s.recordOutcome(ctx, decision)
		return decision, nil
	}

	actionID := uuid.New().String()
	decision.ActionID = &actionID
	s.emitAudit(ctx, gateway.AuditEntry{Action: action, Decision: decision})
	s.recordOutcome(ctx, decision)
	return decision, nil
}

// applyQuota runs the request-then-aggregate quota gates for a rule whose
// verdict was VerdictAllowPending. An aggregate refusal rolls back the
// request counter it followed, per spec section 4.4's "a blocked action
// never consumes quota" rule.
func (s *DecisionService) applyQuota(ctx context.Context, action gateway.Action, rule policy.Rule, now time.Time, decision *gateway.Decision) error {
	if rule.RateLimit == nil && rule.AggregateLimit == nil {
		return nil
	}

	var requestKey string
	if rule.RateLimit != nil {
		requestKey = quota.RequestKey(action.ProjectID, action.AgentName, action.ActionType)
		admitted, reason, err := s.quota.CheckRequest(ctx, requestKey, *rule.RateLimit, now)
		if err != nil {
			return err
		}
		if !admitted {
			decision.Allowed = false
			decision.Reason = reason
			s.instr.RecordQuotaRefusal(ctx, "rate")
			return nil
		}
	}

	if rule.AggregateLimit != nil {
		root := map[string]any{"params": action.Params}
		raw, present := constraint.Resolve(root, rule.AggregateLimit.Field)
		var value float64
		if present {
			value, _ = constraint.AsNumber(raw)
		}

		aggKey := quota.AggregateKey(action.ProjectID, rule.Identity())
		admitted, reason, err := s.quota.CheckAggregate(ctx, aggKey, *rule.AggregateLimit, value, now)
		if err != nil {
			return err
		}
		if !admitted {
			if rule.RateLimit != nil {
				if rbErr := s.quota.RollbackRequest(ctx, requestKey, now); rbErr != nil {
					s.logger.Warn("quota request-counter rollback failed", "error", rbErr)
				}
			}
			decision.Allowed = false
			decision.Reason = reason
			s.instr.RecordQuotaRefusal(ctx, "aggregate")
			return nil
		}
	}

	return nil
}

// loadPolicy returns the active policy for projectID, consulting the
// cache first. A projectID with no configured policy resolves to an
// empty, default-allow Policy rather than an error.
func (s *DecisionService) loadPolicy(ctx context.Context, projectID string, now time.Time) (*policy.Policy, string, error) {
	if cached, ok := s.cache.get(projectID, now); ok {
		return cached, cached.Version, nil
	}

	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
		}
		return nil, "", err
	}
	if p == nil {
		p = &policy.Policy{Default: policy.EffectAllow}
	}
	s.cache.set(projectID, p, now)
	return p, p.Version, nil
}

// handleInfraFault implements the fail-closed/fail-open split for any
// infrastructure error surfaced on the Decide path: fail-closed absorbs it
// into a blocked Decision; fail-open (the default) surfaces ErrInfraFault.
func (s *DecisionService) handleInfraFault(ctx context.Context, action gateway.Action, opts DecideOptions, start time.Time, err error, stage string) (gateway.Decision, error) {
	s.logger.Error("infrastructure fault in decision pipeline", "stage", stage, "error", err)

	if !s.cfg.FailClosed {
		return gateway.Decision{}, fmt.Errorf("%w: %s: %v", ErrInfraFault, stage, err)
	}

	reason := s.cfg.FailClosedReason
	if reason == "" {
		reason = "service unavailable (fail-closed)"
	}
	decision := gateway.Decision{
		Allowed:         false,
		Reason:          reason,
		Simulated:       opts.Simulate,
		Timestamp:       start,
		ExecutionTimeMS: durationMS(start, s.clock.Now()),
	}
	if !opts.Simulate {
		actionID := uuid.New().String()
		decision.ActionID = &actionID
		s.emitAudit(ctx, gateway.AuditEntry{Action: action, Decision: decision})
	}
	s.recordOutcome(ctx, decision)
	return decision, nil
}

// emitAudit submits entry to the audit sink. A failure here is logged and
// never surfaced to the Decide caller, per the AuditSink port's contract.
func (s *DecisionService) emitAudit(ctx context.Context, entry gateway.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		actionID := ""
		if entry.ActionID != nil {
			actionID = *entry.ActionID
		}
		s.logger.Warn("audit append failed", "error", err, "action_id", actionID)
	}
}

func (s *DecisionService) recordOutcome(ctx context.Context, d gateway.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = "block"
	}
	s.instr.RecordDecision(ctx, outcome, d.ExecutionTimeMS)
}

func durationMS(start, end time.Time) float64 {
	return float64(end.Sub(start).Nanoseconds()) / 1e6
}

// UpsertPolicy parses raw into a typed Policy, persists it, and
// invalidates any cached copy for projectID. A malformed raw document
// returns policy.ErrMalformed (wrapped) without touching the store.
func (s *DecisionService) UpsertPolicy(ctx context.Context, projectID string, raw map[string]any) (*policy.Policy, error) {
	p, err := policy.Load(raw)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, projectID, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfraFault, err)
	}
	s.cache.invalidate(projectID)
	return p, nil
}

// GetActivePolicy returns the currently active policy for projectID, or
// nil if none has been configured.
func (s *DecisionService) GetActivePolicy(ctx context.Context, projectID string) (*policy.Policy, error) {
	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfraFault, err)
	}
	return p, nil
}

// AuditFilter narrows a ListAudit call. Zero-value fields are unfiltered.
type AuditFilter struct {
	ProjectID  string
	AgentName  string
	ActionType string
	Allowed    *bool
	CELQuery   string
	Cursor     string
	Limit      int
}

// ListAudit returns a page of audit entries matching filter, newest
// first, plus a cursor for the next page (empty when exhausted). Requires
// the configured AuditSink to also implement AuditQuerier.
func (s *DecisionService) ListAudit(ctx context.Context, filter AuditFilter) ([]gateway.AuditEntry, string, error) {
	querier, ok := s.audit.(AuditQuerier)
	if !ok {
		return nil, "", fmt.Errorf("%w: configured audit sink does not support querying", ErrInternal)
	}

	match := func(e gateway.AuditEntry) bool {
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			return false
		}
		if filter.AgentName != "" && e.AgentName != filter.AgentName {
			return false
		}
		if filter.ActionType != "" && e.ActionType != filter.ActionType {
			return false
		}
		if filter.Allowed != nil && e.Allowed != *filter.Allowed {
			return false
		}
		if filter.CELQuery != "" {
			if s.queryEval == nil {
				return false
			}
			ok, err := s.queryEval.Matches(filter.CELQuery, e)
			if err != nil || !ok {
				return false
			}
		}
		return true
	}

	return querier.List(filter.Cursor, filter.Limit, match)
}

// policyCache is a per-project TTL cache in front of the PolicyStore,
// reducing Decide's steady-state load on the store to one read per
// project per TTL window. A zero TTL disables caching: every get misses.
type policyCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPolicy
	ttl     time.Duration
}

type cachedPolicy struct {
	policy    *policy.Policy
	expiresAt time.Time
}

func newPolicyCache(ttl time.Duration) *policyCache {
	return &policyCache{entries: make(map[string]cachedPolicy), ttl: ttl}
}

func (c *policyCache) get(projectID string, now time.Time) (*policy.Policy, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[projectID]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e.policy, true
}

func (c *policyCache) set(projectID string, p *policy.Policy, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[projectID] = cachedPolicy{policy: p, expiresAt: now.Add(c.ttl)}
}

func (c *policyCache) invalidate(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, projectID)
}
