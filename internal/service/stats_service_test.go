package service

import (
	"context"
	"testing"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

func TestStatsServiceSummarizeAggregatesByToolAndDecision(t *testing.T) {
	now := time.Now()
	audit := &fakeAuditSink{entries: []gateway.AuditEntry{
		{
			Action:   gateway.Action{ActionType: "read_file"},
			Decision: gateway.Decision{Allowed: true, Timestamp: now.Add(-time.Minute)},
		},
		{
			Action:   gateway.Action{ActionType: "read_file"},
			Decision: gateway.Decision{Allowed: false, Timestamp: now.Add(-2 * time.Minute)},
		},
		{
			Action:   gateway.Action{ActionType: "transfer_funds"},
			Decision: gateway.Decision{Allowed: true, Timestamp: now.Add(-3 * time.Minute)},
		},
	}}
	clock := &fakeClock{now: now}

	stats := NewStatsService(audit, clock)
	summary, err := stats.Summarize(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if summary.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", summary.TotalCalls)
	}
	if summary.ByTool["read_file"] != 2 || summary.ByTool["transfer_funds"] != 1 {
		t.Errorf("ByTool = %+v, want read_file:2 transfer_funds:1", summary.ByTool)
	}
	if summary.ByDecision["allowed"] != 2 || summary.ByDecision["blocked"] != 1 {
		t.Errorf("ByDecision = %+v, want allowed:2 blocked:1", summary.ByDecision)
	}
}

func TestStatsServiceSummarizeExcludesEntriesOutsideWindow(t *testing.T) {
	now := time.Now()
	audit := &fakeAuditSink{entries: []gateway.AuditEntry{
		{
			Action:   gateway.Action{ActionType: "read_file"},
			Decision: gateway.Decision{Allowed: true, Timestamp: now.Add(-2 * time.Hour)},
		},
		{
			Action:   gateway.Action{ActionType: "read_file"},
			Decision: gateway.Decision{Allowed: true, Timestamp: now.Add(-time.Minute)},
		},
	}}
	clock := &fakeClock{now: now}

	stats := NewStatsService(audit, clock)
	summary, err := stats.Summarize(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1 (window should exclude the 2h-old entry)", summary.TotalCalls)
	}
}

func TestStatsServiceSummarizeRequiresAuditQuerier(t *testing.T) {
	stats := NewStatsService(&appendOnlySink{}, &fakeClock{now: time.Now()})
	if _, err := stats.Summarize(context.Background(), time.Hour); err == nil {
		t.Error("expected an error when the configured sink does not implement AuditQuerier")
	}
}

// appendOnlySink implements gateway.AuditSink but not AuditQuerier.
type appendOnlySink struct{}

func (appendOnlySink) Append(context.Context, gateway.AuditEntry) error { return nil }
