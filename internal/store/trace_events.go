package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type traceEventRow struct {
	ID        int64     `db:"id"`
	JobID     int64     `db:"job_id"`
	TS        time.Time `db:"ts"`
	Source    string    `db:"source"`
	EventType string    `db:"event_type"`
	Symbol    string    `db:"symbol"`
	Address   string    `db:"address"`
	ThreadID  int       `db:"thread_id"`
	ProcessID int       `db:"process_id"`
	Sequence  int64     `db:"sequence"`
	Payload   string    `db:"payload"`
}

func (r *traceEventRow) toDomain() (*aether.TraceEvent, error) {
	e := &aether.TraceEvent{
		ID:        r.ID,
		JobID:     r.JobID,
		TS:        r.TS,
		Source:    aether.EventSource(r.Source),
		EventType: aether.EventType(r.EventType),
		Symbol:    r.Symbol,
		Address:   r.Address,
		ThreadID:  r.ThreadID,
		ProcessID: r.ProcessID,
		Sequence:  r.Sequence,
	}
	if err := decodeJSON(r.Payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("trace event %d payload: %w", r.ID, err)
	}
	return e, nil
}

// CreateTraceEvent inserts one trace event. A zero Sequence is assigned the
// next per-job value; persistence is single-writer per job, so max+1 is safe.
func (s *Store) CreateTraceEvent(ctx context.Context, e *aether.TraceEvent) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.Source == "" {
		e.Source = aether.SourcePlugin
	}
	if e.Sequence == 0 {
		q := s.rebind(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM trace_events WHERE job_id = ?`)
		if err := s.db.GetContext(ctx, &e.Sequence, q, e.JobID); err != nil {
			return fmt.Errorf("next sequence for job %d: %w", e.JobID, err)
		}
	}
	payload, err := encodeJSON(e.Payload, "{}")
	if err != nil {
		return fmt.Errorf("create trace event: %w", err)
	}

	q := s.rebind(`INSERT INTO trace_events
		(job_id, ts, source, event_type, symbol, address, thread_id, process_id, sequence, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = s.db.QueryRowxContext(ctx, q,
		e.JobID, e.TS, string(e.Source), string(e.EventType), e.Symbol,
		e.Address, e.ThreadID, e.ProcessID, e.Sequence, payload,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("create trace event for job %d: %w", e.JobID, err)
	}
	return nil
}

// TraceFilter narrows ListTraceEvents; zero values match everything.
type TraceFilter struct {
	Source    aether.EventSource
	EventType aether.EventType
}

// ListTraceEvents returns a job's trace events ordered by (ts, sequence)
// ascending, optionally filtered.
func (s *Store) ListTraceEvents(ctx context.Context, jobID int64, filter TraceFilter) ([]*aether.TraceEvent, error) {
	q := `SELECT * FROM trace_events WHERE job_id = ?`
	args := []any{jobID}
	if filter.Source != "" {
		q += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.EventType != "" {
		q += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	q += ` ORDER BY ts ASC, sequence ASC`

	var rows []traceEventRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list trace events for job %d: %w", jobID, err)
	}
	out := make([]*aether.TraceEvent, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
