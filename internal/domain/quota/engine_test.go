package quota

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeStore is a minimal in-test CounterStore implementing the exact
// sliding-window-log algorithm, used to exercise Engine without pulling in
// the memory adapter.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string][]entry
}

type entry struct {
	at     time.Time
	weight float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string][]entry)}
}

func (f *fakeStore) SlidingIncrement(_ context.Context, key string, weight float64, window time.Duration, max float64, now time.Time) (SlidingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-window)
	kept := f.entries[key][:0]
	for _, e := range f.entries[key] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	var sum float64
	for _, e := range kept {
		sum += e.weight
	}
	if sum+weight > max {
		f.entries[key] = kept
		return SlidingResult{Admitted: false, Current: sum}, nil
	}
	kept = append(kept, entry{at: now, weight: weight})
	f.entries[key] = kept
	return SlidingResult{Admitted: true, Current: sum + weight}, nil
}

func (f *fakeStore) Rollback(_ context.Context, key string, weight float64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.entries[key]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].weight == weight && entries[i].at.Equal(now) {
			f.entries[key] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestEngineCheckRequestAdmitsWithinLimit(t *testing.T) {
	engine := NewEngine(newFakeStore())
	key := RequestKey("proj1", "invoice_agent", "pay_invoice")
	rl := RateLimit{MaxRequests: 3, WindowSeconds: 60}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		admitted, _, err := engine.CheckRequest(context.Background(), key, rl, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("CheckRequest error: %v", err)
		}
		if !admitted {
			t.Fatalf("call %d should be admitted", i)
		}
	}

	admitted, reason, err := engine.CheckRequest(context.Background(), key, rl, base.Add(4*time.Second))
	if err != nil {
		t.Fatalf("CheckRequest error: %v", err)
	}
	if admitted {
		t.Fatal("4th call within window should be refused")
	}
	if reason == "" {
		t.Error("refused call should carry a reason")
	}
}

func TestEngineRequestAdmittedAfterWindowElapses(t *testing.T) {
	engine := NewEngine(newFakeStore())
	key := RequestKey("proj1", "agent", "act")
	rl := RateLimit{MaxRequests: 1, WindowSeconds: 60}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	admitted, _, _ := engine.CheckRequest(context.Background(), key, rl, base)
	if !admitted {
		t.Fatal("first call should be admitted")
	}
	admitted, _, _ = engine.CheckRequest(context.Background(), key, rl, base.Add(30*time.Second))
	if admitted {
		t.Fatal("second call inside window should be refused")
	}
	admitted, _, _ = engine.CheckRequest(context.Background(), key, rl, base.Add(61*time.Second))
	if !admitted {
		t.Fatal("call after window elapses should be admitted")
	}
}

func TestEngineRollbackOnAggregateRefusal(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reqKey := RequestKey("proj1", "agent", "act")
	rl := RateLimit{MaxRequests: 5, WindowSeconds: 60}

	admitted, _, _ := engine.CheckRequest(context.Background(), reqKey, rl, base)
	if !admitted {
		t.Fatal("request counter should admit")
	}

	aggKey := AggregateKey("proj1", "act#0")
	al := AggregateLimit{Field: "params.amount", Max: 100, WindowSeconds: 60}
	admitted, _, _ = engine.CheckAggregate(context.Background(), aggKey, al, 200, base)
	if admitted {
		t.Fatal("aggregate counter should refuse a value exceeding max")
	}

	if err := engine.RollbackRequest(context.Background(), reqKey, base); err != nil {
		t.Fatalf("RollbackRequest error: %v", err)
	}

	result, err := store.SlidingIncrement(context.Background(), reqKey, 0, time.Minute, 5, base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("SlidingIncrement error: %v", err)
	}
	if result.Current != 0 {
		t.Errorf("request counter should read 0 after rollback, got %v", result.Current)
	}
}
