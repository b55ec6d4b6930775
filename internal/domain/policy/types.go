// Package policy implements the Policy Model (C1) and the Rule Matcher
// (C3): the typed representation of a policy document, its loading and
// validation from an opaque rule object, and the matcher that turns an
// action plus a loaded policy into a base allow/block verdict.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tobbiloba/actiongate/internal/domain/constraint"
	"github.com/Tobbiloba/actiongate/internal/domain/quota"
)

// Effect is the base allow/block outcome a Rule or a Policy's default
// carries.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectBlock Effect = "block"
)

// WildcardActionType matches any action_type not matched literally.
const WildcardActionType = "*"

// WildcardAgent in a blocked_agents set means "all agents" — the
// documented escape hatch for disabling an action entirely.
const WildcardAgent = "*"

// Rule is one entry of a Policy: a scope (action_type, agent lists)
// combined with constraints and optional quotas.
type Rule struct {
	ActionType     string
	Effect         Effect
	Constraints    map[string]constraint.Spec
	AllowedAgents  map[string]struct{} // nil: gate not applied
	BlockedAgents  map[string]struct{} // nil: bar not applied
	RateLimit      *quota.RateLimit
	AggregateLimit *quota.AggregateLimit

	declIndex       int
	constraintOrder []string
}

// Identity returns a key stable for the lifetime of the Policy it belongs
// to, used to scope aggregate-limit quota counters per rule.
func (r Rule) Identity() string {
	return fmt.Sprintf("%s#%d", r.ActionType, r.declIndex)
}

// Policy is a document of rules evaluated in order against actions to
// produce a verdict. Exactly one Policy per project is active at a time;
// updates atomically replace the active policy.
type Policy struct {
	Name    string
	Version string
	Default Effect
	Rules   []Rule

	indexOnce sync.Once
	literal   map[string][]int
	wildcard  []int
}

// buildIndex partitions rule indices into literal-action_type buckets and
// a wildcard bucket, each preserving declaration order, so Match can
// answer in O(1) lookup plus O(candidates) without re-scanning Rules.
func (p *Policy) buildIndex() {
	p.literal = make(map[string][]int)
	p.wildcard = nil
	for i, r := range p.Rules {
		if r.ActionType == WildcardActionType {
			p.wildcard = append(p.wildcard, i)
		} else {
			p.literal[r.ActionType] = append(p.literal[r.ActionType], i)
		}
	}
}

// Match returns the candidate rules for actionType in matcher order:
// literal action_type matches first (in declaration order), then wildcard
// matches (in declaration order). Specificity-before-wildcard is the one
// surprising ordering rule; everything else is declaration order.
//
// The same *Policy is shared across concurrent Decide calls (it is cached
// by DecisionService), so the index is built at most once via indexOnce
// regardless of who calls Match first or how the Policy was constructed.
func (p *Policy) Match(actionType string) []Rule {
	p.indexOnce.Do(p.buildIndex)
	out := make([]Rule, 0, len(p.literal[actionType])+len(p.wildcard))
	for _, i := range p.literal[actionType] {
		out = append(out, p.Rules[i])
	}
	for _, i := range p.wildcard {
		out = append(out, p.Rules[i])
	}
	return out
}

// PolicyStore persists and retrieves the single active Policy per
// project.
type PolicyStore interface {
	// Get returns the active policy for projectID, or (nil, nil) when no
	// policy has ever been configured for it.
	Get(ctx context.Context, projectID string) (*Policy, error)
	// Put atomically replaces the active policy for projectID, archiving
	// the prior version rather than discarding it.
	Put(ctx context.Context, projectID string, p *Policy) error
}
