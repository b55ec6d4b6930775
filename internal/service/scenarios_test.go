package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/domain/policy"
)

// These tests walk the canonical pay_invoice/invoice_agent scenarios end to
// end against a single policy document: an allowed payment, an over-limit
// amount, a disallowed currency, an action type with no matching rule, a
// rate limit that trips and then recovers once its window elapses, and a
// simulated call that never reaches the audit trail.

func payInvoicePolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Load(map[string]any{
		"name":    "invoicing",
		"version": "v1",
		"default": "block",
		"rules": []any{
			map[string]any{
				"action_type": "pay_invoice",
				"effect":      "allow",
				"constraints": map[string]any{
					"params.amount":   map[string]any{"max": 10000.0, "min": 0.0},
					"params.currency": map[string]any{"in": []any{"USD", "EUR"}},
				},
				"rate_limit": map[string]any{
					"max_requests":   3.0,
					"window_seconds": 60.0,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func newScenarioService(t *testing.T, p *policy.Policy, clock *fakeClock) (*DecisionService, *fakeAuditSink) {
	t.Helper()
	store := newFakePolicyStore()
	store.policies["acme"] = p
	audit := &fakeAuditSink{}
	svc := newTestService(t, store, newFakeCounterStore(), audit, clock, Config{})
	return svc, audit
}

func payInvoiceAction(amount float64, currency string) gateway.Action {
	return gateway.Action{
		ProjectID:  "acme",
		AgentName:  "invoice_agent",
		ActionType: "pay_invoice",
		Params:     map[string]any{"amount": amount, "currency": currency},
	}
}

// S1: a payment within the amount and currency constraints is allowed.
func TestScenarioAllowedPayment(t *testing.T) {
	svc, audit := newScenarioService(t, payInvoicePolicy(t), &fakeClock{now: time.Now()})

	decision, err := svc.Decide(context.Background(), payInvoiceAction(5000, "USD"), DecideOptions{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allow, got block: %s", decision.Reason)
	}
	if decision.ActionID == nil || *decision.ActionID == "" {
		t.Error("expected a non-empty ActionID for an allowed decision")
	}
	if decision.Reason != "" {
		t.Errorf("expected empty reason for an allowed decision, got %q", decision.Reason)
	}
	if len(audit.entries) != 1 {
		t.Errorf("expected one audit entry, got %d", len(audit.entries))
	}
}

// S2: an amount over the constraint's max is blocked, with the reason
// naming the offending path and the configured limit.
func TestScenarioAmountTooHigh(t *testing.T) {
	svc, _ := newScenarioService(t, payInvoicePolicy(t), &fakeClock{now: time.Now()})

	decision, err := svc.Decide(context.Background(), payInvoiceAction(50000, "USD"), DecideOptions{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected block for an amount over the constraint max")
	}
	if !strings.Contains(decision.Reason, "params.amount") || !strings.Contains(decision.Reason, "10000") {
		t.Errorf("reason %q should mention params.amount and the limit 10000", decision.Reason)
	}
}

// S3: a currency outside the allowed set is blocked, with the reason
// naming the offending path.
func TestScenarioCurrencyNotAllowed(t *testing.T) {
	svc, _ := newScenarioService(t, payInvoicePolicy(t), &fakeClock{now: time.Now()})

	decision, err := svc.Decide(context.Background(), payInvoiceAction(100, "JPY"), DecideOptions{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected block for a disallowed currency")
	}
	if !strings.Contains(decision.Reason, "params.currency") {
		t.Errorf("reason %q should mention params.currency", decision.Reason)
	}
}

// S4: an action type with no matching rule falls through to the policy's
// default, and the reason says so.
func TestScenarioDefaultBlockWithNoMatchingRule(t *testing.T) {
	svc, _ := newScenarioService(t, payInvoicePolicy(t), &fakeClock{now: time.Now()})

	action := gateway.Action{ProjectID: "acme", AgentName: "invoice_agent", ActionType: "delete_user"}
	decision, err := svc.Decide(context.Background(), action, DecideOptions{})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected block: no rule matches delete_user and the policy default is block")
	}
	if !strings.Contains(decision.Reason, "default") {
		t.Errorf("reason %q should reference the policy default", decision.Reason)
	}
}

// S5: the first three calls within the rate limit's window are allowed, the
// next two are refused, and a call after the window has fully elapsed is
// allowed again.
func TestScenarioRateLimitThenWindowReset(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc, _ := newScenarioService(t, payInvoicePolicy(t), clock)
	action := payInvoiceAction(100, "USD")

	for i := 0; i < 3; i++ {
		clock.now = clock.now.Add(2 * time.Second)
		decision, err := svc.Decide(context.Background(), action, DecideOptions{})
		if err != nil {
			t.Fatalf("call %d: Decide: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d: expected allow within the rate limit, got block: %s", i, decision.Reason)
		}
	}

	for i := 0; i < 2; i++ {
		clock.now = clock.now.Add(2 * time.Second)
		decision, err := svc.Decide(context.Background(), action, DecideOptions{})
		if err != nil {
			t.Fatalf("call %d: Decide: %v", i, err)
		}
		if decision.Allowed {
			t.Fatalf("call %d: expected rate-limit refusal, got allow", i)
		}
		if !strings.Contains(strings.ToLower(decision.Reason), "rate limit") {
			t.Errorf("call %d: reason %q should mention the rate limit", i, decision.Reason)
		}
	}

	clock.now = clock.now.Add(61 * time.Second)
	decision, err := svc.Decide(context.Background(), action, DecideOptions{})
	if err != nil {
		t.Fatalf("Decide after window reset: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected allow once the rate limit window has fully elapsed, got block: %s", decision.Reason)
	}
}

// S6: a simulated call that would otherwise be blocked reports Simulated
// with a nil ActionID, and leaves no trace for a later audit query.
func TestScenarioSimulateLeavesNoAuditTrace(t *testing.T) {
	svc, audit := newScenarioService(t, payInvoicePolicy(t), &fakeClock{now: time.Now()})

	decision, err := svc.Decide(context.Background(), payInvoiceAction(50000, "USD"), DecideOptions{Simulate: true})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected block for an amount over the constraint max, even when simulated")
	}
	if !decision.Simulated {
		t.Error("expected Simulated to be true")
	}
	if decision.ActionID != nil {
		t.Error("expected a nil ActionID for a simulated decision")
	}
	if len(audit.entries) != 0 {
		t.Errorf("expected the simulated call to leave no audit entry, got %d", len(audit.entries))
	}

	entries, _, err := svc.ListAudit(context.Background(), AuditFilter{ProjectID: "acme", Limit: 10})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected ListAudit to return no entry for the simulated call, got %d", len(entries))
	}
}
