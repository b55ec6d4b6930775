package celquery

import (
	"strings"
	"testing"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/service"
)

var _ service.QueryEvaluator = (*Evaluator)(nil)

func sampleEntry() gateway.AuditEntry {
	id := "act-1"
	return gateway.AuditEntry{
		Action: gateway.Action{
			ProjectID:  "proj1",
			AgentName:  "billing-bot",
			ActionType: "transfer_funds",
			Params:     map[string]any{"amount": 500.0},
		},
		Decision: gateway.Decision{
			Allowed:         false,
			ActionID:        &id,
			Timestamp:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Reason:          "rate limit exceeded",
			PolicyVersion:   "v3",
			ExecutionTimeMS: 1.25,
			Simulated:       false,
		},
	}
}

func TestMatchesEvaluatesFieldExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	ok, err := eval.Matches(`agent_name == "billing-bot" && !allowed`, sampleEntry())
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Error("expected expression to match")
	}
}

func TestMatchesFieldMismatch(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	ok, err := eval.Matches(`project_id == "other-project"`, sampleEntry())
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if ok {
		t.Error("expected expression not to match")
	}
}

func TestMatchesParamsField(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	ok, err := eval.Matches(`params["amount"] > 100.0`, sampleEntry())
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Error("expected params field to be accessible")
	}
}

func TestMatchesRejectsEmptyExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if _, err := eval.Matches("", sampleEntry()); err == nil {
		t.Error("expected an error for an empty expression")
	}
}

func TestMatchesRejectsNonBooleanExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if _, err := eval.Matches(`agent_name`, sampleEntry()); err == nil {
		t.Error("expected an error for a non-boolean expression")
	}
}

func TestMatchesRejectsOverlongExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	expr := `agent_name == "` + strings.Repeat("a", maxExpressionLength) + `"`
	if _, err := eval.Matches(expr, sampleEntry()); err == nil {
		t.Error("expected an error for an overlong expression")
	}
}

func TestMatchesRejectsUnknownVariable(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if _, err := eval.Matches(`not_a_real_field == "x"`, sampleEntry()); err == nil {
		t.Error("expected a compile error for an unknown variable")
	}
}
