package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type eventRow struct {
	ID        int64         `db:"id"`
	EventType string        `db:"event_type"`
	Payload   string        `db:"payload"`
	JobID     sql.NullInt64 `db:"job_id"`
	CreatedAt time.Time     `db:"created_at"`
}

func (r *eventRow) toDomain() (*aether.Event, error) {
	e := &aether.Event{
		ID:        r.ID,
		EventType: r.EventType,
		CreatedAt: r.CreatedAt,
	}
	if r.JobID.Valid {
		id := r.JobID.Int64
		e.JobID = &id
	}
	if err := decodeJSON(r.Payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("event %d payload: %w", r.ID, err)
	}
	return e, nil
}

// CreateEvent inserts one generic audit event.
func (s *Store) CreateEvent(ctx context.Context, e *aether.Event) error {
	e.CreatedAt = time.Now().UTC()
	payload, err := encodeJSON(e.Payload, "{}")
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	var jobID sql.NullInt64
	if e.JobID != nil {
		jobID = sql.NullInt64{Int64: *e.JobID, Valid: true}
	}

	q := s.rebind(`INSERT INTO events (event_type, payload, job_id, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`)
	err = s.db.QueryRowxContext(ctx, q, e.EventType, payload, jobID, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("create event %q: %w", e.EventType, err)
	}
	return nil
}

// ListEvents returns all generic events, newest first.
func (s *Store) ListEvents(ctx context.Context) ([]*aether.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM events ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]*aether.Event, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
