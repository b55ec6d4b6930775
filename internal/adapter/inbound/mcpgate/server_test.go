package mcpgate

import (
	"context"
	"testing"

	"github.com/Tobbiloba/actiongate/internal/adapter/outbound/memory"
	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/domain/quota"
	"github.com/Tobbiloba/actiongate/internal/service"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	store := memory.NewPolicyStore()
	counters := memory.NewCounterStore()
	t.Cleanup(counters.Stop)
	audit := memory.NewAuditSink(16)
	t.Cleanup(audit.Stop)

	svc := service.NewDecisionService(store, quota.NewEngine(counters), audit, gateway.SystemClock{}, service.Config{}, nil)
	return NewGate(svc, nil)
}

func TestSubmitActionAllowsByDefaultPolicy(t *testing.T) {
	gate := newTestGate(t)

	_, out, err := gate.submitAction(context.Background(), nil, submitActionInput{
		ProjectID:  "proj1",
		AgentName:  "agent",
		ActionType: "read_file",
	})
	if err != nil {
		t.Fatalf("submitAction: %v", err)
	}
	if !out.Allowed {
		t.Errorf("expected default-allow policy to admit the action, got %+v", out)
	}
	if out.ActionID == "" {
		t.Error("expected a non-simulated decision to carry an action_id")
	}
}

func TestSubmitActionSimulateOmitsActionID(t *testing.T) {
	gate := newTestGate(t)

	_, out, err := gate.submitAction(context.Background(), nil, submitActionInput{
		ProjectID:  "proj1",
		AgentName:  "agent",
		ActionType: "read_file",
		Simulate:   true,
	})
	if err != nil {
		t.Fatalf("submitAction: %v", err)
	}
	if !out.Simulated {
		t.Error("expected output to report Simulated=true")
	}
	if out.ActionID != "" {
		t.Errorf("simulated decision should not carry an action_id, got %q", out.ActionID)
	}
}

func TestSubmitActionRejectsInvalidAction(t *testing.T) {
	gate := newTestGate(t)

	_, _, err := gate.submitAction(context.Background(), nil, submitActionInput{
		AgentName:  "agent",
		ActionType: "read_file",
	})
	if err == nil {
		t.Error("expected an error for a missing project_id")
	}
}
