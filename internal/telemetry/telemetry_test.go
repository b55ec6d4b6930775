package telemetry

import (
	"context"
	"testing"

	"github.com/Tobbiloba/actiongate/internal/service"
)

var _ service.Instrumentation = Instrumentation{}

func TestInstrumentationRecordMethodsNeverPanic(t *testing.T) {
	instr := New()
	ctx := context.Background()

	instr.RecordDecision(ctx, "allow", 1.5)
	instr.RecordDecision(ctx, "block", 0.2)
	instr.RecordQuotaRefusal(ctx, "rate")
	instr.RecordQuotaRefusal(ctx, "aggregate")
	instr.RecordAuditDropped(ctx, 3)
}

func TestStartDecideSpanReturnsUsableContext(t *testing.T) {
	ctx, span := StartDecideSpan(context.Background(), "proj1", "read_file")
	defer span.End()

	if ctx == nil {
		t.Fatal("StartDecideSpan returned a nil context")
	}
}
