package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/constraint"
	"github.com/Tobbiloba/actiongate/internal/domain/policy"
)

// PolicyStore implements policy.PolicyStore over a SQLite table. A Policy is
// round-tripped through the same raw map[string]any shape policy.Load
// consumes: Put serializes the typed Policy back into that shape and stores
// it as JSON, and Get re-parses the stored JSON with policy.Load, so the
// unexported per-rule declaration index and per-policy action_type index
// are rebuilt identically to a freshly-loaded policy rather than hand-built
// from private fields this package cannot see.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore wraps an already-opened database connection.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Get returns the active policy for projectID, or (nil, nil) if none has
// ever been configured for it.
func (s *PolicyStore) Get(ctx context.Context, projectID string) (*policy.Policy, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM policies WHERE project_id = ?`, projectID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite policy store: query: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(document), &raw); err != nil {
		return nil, fmt.Errorf("sqlite policy store: decode stored document: %w", err)
	}
	return policy.Load(raw)
}

// Put atomically replaces the active policy for projectID, archiving the
// prior version into policy_history rather than discarding it.
func (s *PolicyStore) Put(ctx context.Context, projectID string, p *policy.Policy) error {
	document, err := json.Marshal(toRawPolicy(p))
	if err != nil {
		return fmt.Errorf("sqlite policy store: encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite policy store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prior string
	err = tx.QueryRowContext(ctx, `SELECT document FROM policies WHERE project_id = ?`, projectID).Scan(&prior)
	switch {
	case err == sql.ErrNoRows:
		// no prior version to archive
	case err != nil:
		return fmt.Errorf("sqlite policy store: query prior: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO policy_history (project_id, document, archived_at) VALUES (?, ?, ?)
		`, projectID, prior, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("sqlite policy store: archive prior: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policies (project_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`, projectID, string(document), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite policy store: upsert: %w", err)
	}

	return tx.Commit()
}

// History returns previously-active policies for projectID, each re-parsed
// with policy.Load, oldest first. Not part of the policy.PolicyStore port;
// exposed for admin tooling.
func (s *PolicyStore) History(ctx context.Context, projectID string) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM policy_history WHERE project_id = ? ORDER BY id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite policy store: query history: %w", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("sqlite policy store: scan history: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(document), &raw); err != nil {
			return nil, fmt.Errorf("sqlite policy store: decode history entry: %w", err)
		}
		p, err := policy.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite policy store: reload history entry: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// toRawPolicy serializes a Policy back into the map[string]any shape
// policy.Load accepts, using each Rule's exported fields (the unexported
// declaration index and constraint order are dropped; policy.Load
// recomputes them deterministically from this shape).
func toRawPolicy(p *policy.Policy) map[string]any {
	rules := make([]any, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = toRawRule(r)
	}
	return map[string]any{
		"name":    p.Name,
		"version": p.Version,
		"default": string(p.Default),
		"rules":   rules,
	}
}

func toRawRule(r policy.Rule) map[string]any {
	raw := map[string]any{
		"action_type": r.ActionType,
		"effect":      string(r.Effect),
	}
	if len(r.Constraints) > 0 {
		constraints := make(map[string]any, len(r.Constraints))
		for path, spec := range r.Constraints {
			constraints[path] = toRawSpec(spec)
		}
		raw["constraints"] = constraints
	}
	if r.AllowedAgents != nil {
		raw["allowed_agents"] = toRawSet(r.AllowedAgents)
	}
	if r.BlockedAgents != nil {
		raw["blocked_agents"] = toRawSet(r.BlockedAgents)
	}
	if r.RateLimit != nil {
		raw["rate_limit"] = map[string]any{
			"max_requests":   r.RateLimit.MaxRequests,
			"window_seconds": r.RateLimit.WindowSeconds,
		}
	}
	if r.AggregateLimit != nil {
		raw["aggregate_limit"] = map[string]any{
			"field":          r.AggregateLimit.Field,
			"max":            r.AggregateLimit.Max,
			"window_seconds": r.AggregateLimit.WindowSeconds,
		}
	}
	return raw
}

func toRawSpec(spec constraint.Spec) map[string]any {
	raw := make(map[string]any, 1)
	if spec.HasMin {
		raw["min"] = spec.Min
	}
	if spec.HasMax {
		raw["max"] = spec.Max
	}
	if spec.HasIn {
		raw["in"] = spec.In
	}
	if spec.HasNotIn {
		raw["not_in"] = spec.NotIn
	}
	if spec.HasEquals {
		raw["equals"] = spec.Equals
	}
	if spec.HasPattern {
		raw["pattern"] = spec.PatternSrc
	}
	return raw
}

func toRawSet(set map[string]struct{}) []any {
	out := make([]any, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

var _ policy.PolicyStore = (*PolicyStore)(nil)
