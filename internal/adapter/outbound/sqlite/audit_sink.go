package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
)

// AuditSink implements gateway.AuditSink as a bounded in-memory queue
// drained by a background consumer into a SQLite table, mirroring the
// memory adapter's "never block Decide" design: Append always enqueues
// immediately, dropping the oldest queued (not yet durable) entry once the
// queue is full.
type AuditSink struct {
	db *sql.DB

	queue   chan gateway.AuditEntry
	dropped atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditSink wraps an already-opened database connection and starts the
// background consumer with the given queue bound (audit_buffer_size).
func NewAuditSink(db *sql.DB, queueSize int) *AuditSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AuditSink{
		db:       db,
		queue:    make(chan gateway.AuditEntry, queueSize),
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.consume()
	return s
}

// Append enqueues entry without blocking. If the queue is full, the oldest
// queued entry is dropped to make room.
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
			s.persist(entry)
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
			s.persist(entry)
		default:
			return
		}
	}
}

func (s *AuditSink) persist(entry gateway.AuditEntry) {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return
	}

	var actionID sql.NullString
	if entry.ActionID != nil {
		actionID = sql.NullString{String: *entry.ActionID, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO audit (project_id, agent_name, action_type, params, allowed, action_id, decided_at, reason, policy_version, execution_ms, simulated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ProjectID, entry.AgentName, entry.ActionType, string(params),
		boolToInt(entry.Allowed), actionID, entry.Timestamp.Format(time.RFC3339Nano),
		entry.Reason, entry.PolicyVersion, entry.ExecutionTimeMS, boolToInt(entry.Simulated))
	// Persistence failures here are swallowed deliberately: Append already
	// returned success to the caller, and surfacing an error now has no
	// receiver. A future consumer could route this to the instrumentation
	// seam instead of dropping it silently.
	_ = err
}

// List returns up to limit entries strictly older (by seq) than cursor,
// newest first, restricted to those for which match returns true. An empty
// cursor starts from the newest entry. The returned cursor is non-empty
// only when more matching entries may remain.
func (s *AuditSink) List(cursor string, limit int, match func(gateway.AuditEntry) bool) ([]gateway.AuditEntry, string, error) {
	if limit <= 0 {
		limit = 100
	}

	before := int64(-1)
	if cursor != "" {
		var seq int64
		if _, err := fmt.Sscanf(cursor, "%d", &seq); err != nil {
			return nil, "", fmt.Errorf("sqlite audit sink: invalid cursor %q: %w", cursor, err)
		}
		before = seq
	}

	query := `SELECT seq, project_id, agent_name, action_type, params, allowed, action_id, decided_at, reason, policy_version, execution_ms, simulated FROM audit`
	args := []any{}
	if before >= 0 {
		query += ` WHERE seq < ?`
		args = append(args, before)
	}
	query += ` ORDER BY seq DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite audit sink: query: %w", err)
	}
	defer rows.Close()

	var out []gateway.AuditEntry
	var nextCursor string
	for rows.Next() {
		var (
			seq                                      int64
			projectID, agentName, actionType, params string
			allowed, simulated                       int
			actionID                                 sql.NullString
			decidedAt, reason, policyVersion         string
			executionMS                              float64
		)
		if err := rows.Scan(&seq, &projectID, &agentName, &actionType, &params,
			&allowed, &actionID, &decidedAt, &reason, &policyVersion, &executionMS, &simulated); err != nil {
			return nil, "", fmt.Errorf("sqlite audit sink: scan: %w", err)
		}

		entry := gateway.AuditEntry{
			Action: gateway.Action{ProjectID: projectID, AgentName: agentName, ActionType: actionType},
			Decision: gateway.Decision{
				Allowed:         allowed != 0,
				Reason:          reason,
				PolicyVersion:   policyVersion,
				ExecutionTimeMS: executionMS,
				Simulated:       simulated != 0,
			},
		}
		json.Unmarshal([]byte(params), &entry.Params)
		if ts, err := time.Parse(time.RFC3339Nano, decidedAt); err == nil {
			entry.Timestamp = ts
		}
		if actionID.Valid {
			id := actionID.String
			entry.ActionID = &id
		}

		if match != nil && !match(entry) {
			continue
		}
		if len(out) == limit {
			nextCursor = fmt.Sprintf("%d", seq+1)
			break
		}
		out = append(out, entry)
	}

	return out, nextCursor, rows.Err()
}

// Stop stops the background consumer, draining any queued entries first.
// Safe to call multiple times.
func (s *AuditSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ gateway.AuditSink = (*AuditSink)(nil)
