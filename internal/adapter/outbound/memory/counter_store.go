package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Tobbiloba/actiongate/internal/domain/quota"
)

const counterShards = 64

type counterEntry struct {
	at     time.Time
	weight float64
}

type counterShard struct {
	mu      sync.Mutex
	entries map[string][]counterEntry
}

// CounterStore implements quota.CounterStore with a bounded timestamp
// list per key, sharded across counterShards independent locks so
// operations on different keys never contend — per spec section 5's
// requirement to avoid a single global lock across keys. Includes
// background cleanup to prevent unbounded memory growth from keys that
// have gone idle.
type CounterStore struct {
	shards          [counterShards]counterShard
	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopOnce        sync.Once
	stopChan        chan struct{}
	wg              sync.WaitGroup
}

// NewCounterStore creates an in-memory CounterStore with default cleanup
// settings: sweep every 5 minutes, drop keys idle for over 1 hour.
func NewCounterStore() *CounterStore {
	return NewCounterStoreWithConfig(5*time.Minute, time.Hour)
}

// NewCounterStoreWithConfig creates an in-memory CounterStore with custom
// cleanup settings.
func NewCounterStoreWithConfig(cleanupInterval, maxIdle time.Duration) *CounterStore {
	s := &CounterStore{
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopChan:        make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string][]counterEntry)
	}
	return s
}

func (s *CounterStore) shardFor(key string) *counterShard {
	h := xxhash.Sum64String(key)
	return &s.shards[h%counterShards]
}

// SlidingIncrement implements the window algorithm of spec section 4.4:
// drop entries at or before now-window, sum the remainder, and admit
// (recording weight at now) only if the sum plus weight would not exceed
// max. The three sub-steps run under the key's shard lock, so concurrent
// callers on the same key observe a single serialized total order; callers
// on different keys never block each other.
func (s *CounterStore) SlidingIncrement(_ context.Context, key string, weight float64, window time.Duration, max float64, now time.Time) (quota.SlidingResult, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	cutoff := now.Add(-window)
	kept := dropExpired(shard.entries[key], cutoff)

	var sum float64
	for _, e := range kept {
		sum += e.weight
	}

	if sum+weight > max {
		shard.entries[key] = kept
		return quota.SlidingResult{Admitted: false, Current: sum}, nil
	}

	kept = append(kept, counterEntry{at: now, weight: weight})
	shard.entries[key] = kept
	return quota.SlidingResult{Admitted: true, Current: sum + weight}, nil
}

// Rollback removes the most recent increment recorded at exactly now for
// key. Best-effort: used to undo an admitted request-counter increment
// when a downstream aggregate check subsequently refuses.
func (s *CounterStore) Rollback(_ context.Context, key string, weight float64, now time.Time) error {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entries := shard.entries[key]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].weight == weight && entries[i].at.Equal(now) {
			shard.entries[key] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// dropExpired excludes an entry exactly at cutoff (the window's open
// boundary is exclusive: an event at time t-window is dropped, one at
// t-window+1us is kept).
func dropExpired(entries []counterEntry, cutoff time.Time) []counterEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// StartCleanup launches a background goroutine that periodically evicts
// keys with no activity in the last maxIdle. Stops when ctx is cancelled
// or Stop is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *CounterStore) cleanup() {
	cutoff := time.Now().Add(-s.maxIdle)
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key, entries := range shard.entries {
			kept := dropExpired(entries, cutoff)
			if len(kept) == 0 {
				delete(shard.entries, key)
			} else {
				shard.entries[key] = kept
			}
		}
		shard.mu.Unlock()
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

var _ quota.CounterStore = (*CounterStore)(nil)
