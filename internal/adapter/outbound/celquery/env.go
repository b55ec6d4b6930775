package celquery

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

// newAuditEnvironment builds the CEL environment ListAudit filter
// expressions run against: one variable per gateway.AuditEntry field a
// caller could plausibly filter on.
func newAuditEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("project_id", cel.StringType),
		cel.Variable("agent_name", cel.StringType),
		cel.Variable("action_type", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),

		cel.Variable("allowed", cel.BoolType),
		cel.Variable("action_id", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("policy_version", cel.StringType),
		cel.Variable("execution_time_ms", cel.DoubleType),
		cel.Variable("simulated", cel.BoolType),
		cel.Variable("decided_at", cel.TimestampType),
	)
}

// activationFor builds the CEL activation map for one audit entry.
func activationFor(entry gateway.AuditEntry) map[string]any {
	actionID := ""
	if entry.ActionID != nil {
		actionID = *entry.ActionID
	}
	params := entry.Params
	if params == nil {
		params = map[string]any{}
	}

	return map[string]any{
		"project_id":        entry.ProjectID,
		"agent_name":        entry.AgentName,
		"action_type":       entry.ActionType,
		"params":            params,
		"allowed":           entry.Allowed,
		"action_id":         actionID,
		"reason":            entry.Reason,
		"policy_version":    entry.PolicyVersion,
		"execution_time_ms": entry.ExecutionTimeMS,
		"simulated":         entry.Simulated,
		"decided_at":        entry.Timestamp,
	}
}
