package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type findingRow struct {
	ID          int64     `db:"id"`
	JobID       int64     `db:"job_id"`
	PluginID    string    `db:"plugin_id"`
	Stage       string    `db:"stage"`
	Severity    string    `db:"severity"`
	Category    string    `db:"category"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Evidence    string    `db:"evidence"`
	Confidence  float64   `db:"confidence"`
	Tags        string    `db:"tags"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *findingRow) toDomain() (*aether.Finding, error) {
	f := &aether.Finding{
		ID:          r.ID,
		JobID:       r.JobID,
		PluginID:    r.PluginID,
		Stage:       r.Stage,
		Severity:    aether.Severity(r.Severity),
		Category:    aether.Category(r.Category),
		Title:       r.Title,
		Description: r.Description,
		Confidence:  r.Confidence,
		CreatedAt:   r.CreatedAt,
	}
	if err := decodeJSON(r.Evidence, &f.Evidence); err != nil {
		return nil, fmt.Errorf("finding %d evidence: %w", r.ID, err)
	}
	if err := decodeJSON(r.Tags, &f.Tags); err != nil {
		return nil, fmt.Errorf("finding %d tags: %w", r.ID, err)
	}
	return f, nil
}

// CreateFinding inserts one finding row.
func (s *Store) CreateFinding(ctx context.Context, f *aether.Finding) error {
	f.CreatedAt = time.Now().UTC()
	evidence, err := encodeJSON(f.Evidence, "[]")
	if err != nil {
		return fmt.Errorf("create finding: %w", err)
	}
	tags, err := encodeJSON(f.Tags, "[]")
	if err != nil {
		return fmt.Errorf("create finding: %w", err)
	}

	q := s.rebind(`INSERT INTO findings
		(job_id, plugin_id, stage, severity, category, title, description, evidence, confidence, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = s.db.QueryRowxContext(ctx, q,
		f.JobID, f.PluginID, f.Stage, string(f.Severity), string(f.Category),
		f.Title, f.Description, evidence, f.Confidence, tags, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("create finding for job %d: %w", f.JobID, err)
	}
	return nil
}

// FindingFilter narrows ListFindings; zero values match everything.
type FindingFilter struct {
	Severity aether.Severity
	Category aether.Category
}

// ListFindings returns a job's findings, newest first, optionally filtered.
func (s *Store) ListFindings(ctx context.Context, jobID int64, filter FindingFilter) ([]*aether.Finding, error) {
	q := `SELECT * FROM findings WHERE job_id = ?`
	args := []any{jobID}
	if filter.Severity != "" {
		q += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.Category != "" {
		q += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	q += ` ORDER BY created_at DESC, id DESC`

	var rows []findingRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list findings for job %d: %w", jobID, err)
	}
	out := make([]*aether.Finding, 0, len(rows))
	for i := range rows {
		f, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
