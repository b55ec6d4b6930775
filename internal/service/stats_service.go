package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

// StatsSummary aggregates audit history over a time window: total calls,
// counts by action_type, and counts by outcome ("allowed"/"blocked"). The
// analogue of the teacher's live Stats snapshot, but computed over a
// bounded historical range rather than accumulated in-process counters,
// since this engine's statistics are a read over the durable audit trail
// rather than a separate running tally.
type StatsSummary struct {
	WindowSeconds int
	TotalCalls    int64
	ByTool        map[string]int64
	ByDecision    map[string]int64
}

// StatsService computes StatsSummary from an AuditSink's history.
// Requires the configured sink to also implement AuditQuerier, same as
// DecisionService.ListAudit.
type StatsService struct {
	audit gateway.AuditSink
	clock gateway.Clock
}

// NewStatsService wires a StatsService over the same audit sink and clock
// the Decision Pipeline uses.
func NewStatsService(audit gateway.AuditSink, clock gateway.Clock) *StatsService {
	if clock == nil {
		clock = gateway.SystemClock{}
	}
	return &StatsService{audit: audit, clock: clock}
}

// pageSize bounds how many entries Summarize requests from the sink per
// List call while scanning for entries inside window.
const pageSize = 500

// Summarize aggregates every audit entry recorded within the trailing
// window into ByTool, ByDecision, and TotalCalls.
func (s *StatsService) Summarize(ctx context.Context, window time.Duration) (StatsSummary, error) {
	querier, ok := s.audit.(AuditQuerier)
	if !ok {
		return StatsSummary{}, fmt.Errorf("%w: configured audit sink does not support querying", ErrInternal)
	}

	cutoff := s.clock.Now().Add(-window)
	summary := StatsSummary{
		WindowSeconds: int(window.Seconds()),
		ByTool:        make(map[string]int64),
		ByDecision:    make(map[string]int64),
	}

	inWindow := func(e gateway.AuditEntry) bool {
		return !e.Timestamp.Before(cutoff)
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return StatsSummary{}, err
		}

		entries, next, err := querier.List(cursor, pageSize, inWindow)
		if err != nil {
			return StatsSummary{}, fmt.Errorf("stats: list audit: %w", err)
		}

		for _, e := range entries {
			summary.TotalCalls++
			summary.ByTool[e.ActionType]++
			if e.Allowed {
				summary.ByDecision["allowed"]++
			} else {
				summary.ByDecision["blocked"]++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return summary, nil
}
