package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

// TestConcurrentDecideWithInterleavedUpsertPolicy drives many concurrent
// Decide calls against a project with no pre-seeded policy (so loadPolicy's
// placeholder Policy is exercised under contention) with one UpsertPolicy
// interleaved partway through. Run with -race: the cached placeholder
// Policy's lazy index build must not race, and every recorded PolicyVersion
// must be one of exactly the two versions in play.
func TestConcurrentDecideWithInterleavedUpsertPolicy(t *testing.T) {
	store := newFakePolicyStore()
	audit := &fakeAuditSink{}
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, store, newFakeCounterStore(), audit, clock, Config{PolicyCacheTTL: time.Hour})

	action := gateway.Action{ProjectID: "p1", AgentName: "agent", ActionType: "read_file"}

	const workers = 50
	var wg sync.WaitGroup
	versions := make([]string, workers)
	errs := make([]error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			decision, err := svc.Decide(context.Background(), action, DecideOptions{})
			errs[i] = err
			versions[i] = decision.PolicyVersion
		}(i)

		if i == workers/2 {
			if _, err := svc.UpsertPolicy(context.Background(), "p1", map[string]any{"version": "v2", "default": "block"}); err != nil {
				t.Fatalf("UpsertPolicy: %v", err)
			}
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: Decide: %v", i, err)
		}
	}
	for i, v := range versions {
		if v != "" && v != "v2" {
			t.Errorf("worker %d: PolicyVersion = %q, want \"\" or \"v2\"", i, v)
		}
	}
}
