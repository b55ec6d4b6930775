package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

const defaultStoredCapacity = 100000

type storedEntry struct {
	seq   int64
	entry gateway.AuditEntry
}

// AuditSink implements gateway.AuditSink as a bounded queue drained by a
// background consumer, per the "bounded queue plus a background
// consumer... never block Decide" design note. Append never blocks
// indefinitely: once the queue is at capacity, the oldest queued (not yet
// durable) entry is dropped and a counter is incremented.
type AuditSink struct {
	queue   chan gateway.AuditEntry
	dropped atomic.Int64

	mu        sync.Mutex
	stored    []storedEntry
	storedCap int
	nextSeq   int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditSink creates an AuditSink with the given queue bound
// (audit_buffer_size) and starts its background consumer.
func NewAuditSink(queueSize int) *AuditSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AuditSink{
		queue:     make(chan gateway.AuditEntry, queueSize),
		storedCap: defaultStoredCapacity,
		stopChan:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.consume()
	return s
}

// Append enqueues entry without blocking. If the queue is full, the
// oldest queued entry is dropped to make room.
func (s *AuditSink) Append(_ context.Context, entry gateway.AuditEntry) error {
	for {
		select {
		case s.queue <- entry:
			return nil
		default:
			select {
			case <-s.queue:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// Dropped returns the number of queued entries dropped for backpressure
// since startup.
func (s *AuditSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *AuditSink) consume() {
	defer s.wg.Done()
	for {
		select {
		case entry := <-s.queue:
			s.store(entry)
		case <-s.stopChan:
			s.drainRemaining()
			return
		}
	}
}

func (s *AuditSink) drainRemaining() {
	for {
		select {
		case entry := <-s.queue:
			s.store(entry)
		default:
			return
		}
	}
}

func (s *AuditSink) store(entry gateway.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	rec := storedEntry{seq: s.nextSeq, entry: entry}
	if len(s.stored) >= s.storedCap {
		copy(s.stored, s.stored[1:])
		s.stored[len(s.stored)-1] = rec
	} else {
		s.stored = append(s.stored, rec)
	}
}

// List returns up to limit entries strictly older (by insertion order)
// than cursor, newest first, restricted to those for which match returns
// true. An empty cursor starts from the newest entry. The returned cursor
// is non-empty only when more matching entries may remain.
func (s *AuditSink) List(cursor string, limit int, match func(gateway.AuditEntry) bool) ([]gateway.AuditEntry, string, error) {
	if limit <= 0 {
		limit = 100
	}

	before := int64(-1)
	if cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("audit sink: invalid cursor %q: %w", cursor, err)
		}
		before = seq
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []gateway.AuditEntry
	var nextCursor string
	for i := len(s.stored) - 1; i >= 0; i-- {
		rec := s.stored[i]
		if before >= 0 && rec.seq >= before {
			continue
		}
		if match != nil && !match(rec.entry) {
			continue
		}
		if len(out) == limit {
			nextCursor = strconv.FormatInt(rec.seq+1, 10)
			break
		}
		out = append(out, rec.entry)
	}
	return out, nextCursor, nil
}

// Stop stops the background consumer, draining any queued entries first.
// Safe to call multiple times.
func (s *AuditSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

var _ gateway.AuditSink = (*AuditSink)(nil)
