package policy

import (
	"fmt"

	"github.com/Tobbiloba/actiongate/internal/domain/constraint"
)

// VerdictKind enumerates the outcomes of the Rule Matcher, before the
// Decision Pipeline applies quota gates and the policy default.
type VerdictKind int

const (
	VerdictAllow VerdictKind = iota
	VerdictBlock
	VerdictAllowPending
	VerdictDefault
)

// Verdict is the intermediate outcome of rule matching (C3).
type Verdict struct {
	Kind   VerdictKind
	Reason string
	Rule   Rule // meaningful only when Kind == VerdictAllowPending
}

// Evaluate implements the Rule Matcher (C3).
//
// allowed_agents acts as a gate: a non-matching agent skips the rule
// entirely, letting later candidates apply. blocked_agents acts as a bar:
// a matching agent (or the literal wildcard "*", meaning all agents)
// produces an immediate block. This asymmetry is deliberate.
//
// A rule's constraints are evaluated only after the agent gate/bar; the
// first failing constraint blocks with that constraint's reason. A rule
// that passes its agent checks and all constraints resolves to its own
// effect: VerdictBlock if the rule's effect is block, VerdictAllowPending
// (subject to quota checks) if allow.
func Evaluate(p *Policy, actionType, agentName string, actionParams map[string]any) Verdict {
	// Constraint paths are written relative to the action record (e.g.
	// "params.amount"), not relative to the params tree itself, so
	// resolution walks a synthetic root with the caller's params nested
	// under a "params" key.
	root := map[string]any{"params": actionParams}

	for _, rule := range p.Match(actionType) {
		if rule.AllowedAgents != nil {
			if _, ok := rule.AllowedAgents[agentName]; !ok {
				continue
			}
		}

		if rule.BlockedAgents != nil {
			_, blocked := rule.BlockedAgents[agentName]
			_, wildcard := rule.BlockedAgents[WildcardAgent]
			if blocked || wildcard {
				return Verdict{
					Kind:   VerdictBlock,
					Reason: fmt.Sprintf("agent %q is blocked for action %q", agentName, actionType),
				}
			}
		}

		if violated, reason := firstViolation(rule, root); violated {
			return Verdict{Kind: VerdictBlock, Reason: reason}
		}

		if rule.Effect == EffectBlock {
			return Verdict{
				Kind:   VerdictBlock,
				Reason: fmt.Sprintf("action %q blocked by policy rule", actionType),
			}
		}
		return Verdict{Kind: VerdictAllowPending, Rule: rule}
	}
	return Verdict{Kind: VerdictDefault}
}

func firstViolation(rule Rule, params map[string]any) (bool, string) {
	for _, path := range rule.constraintOrder {
		spec := rule.Constraints[path]
		if result := constraint.Evaluate(params, path, spec); !result.Satisfied {
			return true, result.Reason
		}
	}
	return false, ""
}
