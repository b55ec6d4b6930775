// Package telemetry wires the Decision Pipeline's Instrumentation seam to
// concrete OpenTelemetry tracing and Prometheus metrics, so the core
// service package never imports either directly.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("actiongate/decision")

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_decisions_total",
		Help: "Total number of Decide calls by outcome (allow, block).",
	}, []string{"outcome"})

	decisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actiongate_decision_latency_milliseconds",
		Help:    "Histogram of Decide execution time in milliseconds.",
		Buckets: prometheus.DefBuckets,
	})

	quotaRefusalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_quota_refusals_total",
		Help: "Total number of Decide calls refused by a quota gate, by kind (rate, aggregate).",
	}, []string{"kind"})

	auditDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actiongate_audit_dropped_total",
		Help: "Total number of audit entries dropped for queue backpressure.",
	})
)

// Instrumentation implements service.Instrumentation with otel tracing and
// prometheus metrics. The zero value is ready to use.
type Instrumentation struct{}

// New returns a ready-to-use Instrumentation.
func New() Instrumentation {
	return Instrumentation{}
}

// RecordDecision increments the decisions counter and observes latency.
func (Instrumentation) RecordDecision(ctx context.Context, outcome string, executionTimeMS float64) {
	decisionsTotal.WithLabelValues(outcome).Inc()
	decisionLatency.Observe(executionTimeMS)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("actiongate.decision.outcome", outcome),
		attribute.Float64("actiongate.decision.execution_time_ms", executionTimeMS),
	)
}

// RecordQuotaRefusal increments the quota refusals counter for kind.
func (Instrumentation) RecordQuotaRefusal(ctx context.Context, kind string) {
	quotaRefusalsTotal.WithLabelValues(kind).Inc()
	trace.SpanFromContext(ctx).AddEvent("quota refused", trace.WithAttributes(
		attribute.String("actiongate.quota.kind", kind),
	))
}

// RecordAuditDropped adds n to the audit-dropped counter.
func (Instrumentation) RecordAuditDropped(_ context.Context, n int64) {
	auditDroppedTotal.Add(float64(n))
}

// StartDecideSpan starts the root span for one Decide call. Callers defer
// span.End(); on error, call span.RecordError before ending.
func StartDecideSpan(ctx context.Context, projectID, actionType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "actiongate.decide", trace.WithAttributes(
		attribute.String("actiongate.project_id", projectID),
		attribute.String("actiongate.action_type", actionType),
	))
}
