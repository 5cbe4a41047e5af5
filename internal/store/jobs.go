package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type jobRow struct {
	ID          int64          `db:"id"`
	Target      string         `db:"target"`
	TargetType  string         `db:"target_type"`
	Status      string         `db:"status"`
	PipelineID  string         `db:"pipeline_id"`
	Options     string         `db:"options"`
	Tags        string         `db:"tags"`
	CreatedBy   string         `db:"created_by"`
	Progress    int            `db:"progress"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() (*aether.Job, error) {
	j := &aether.Job{
		ID:         r.ID,
		Target:     r.Target,
		TargetType: aether.TargetType(r.TargetType),
		Status:     aether.JobStatus(r.Status),
		PipelineID: r.PipelineID,
		CreatedBy:  r.CreatedBy,
		Progress:   r.Progress,
		CreatedAt:  r.CreatedAt,
	}
	if err := decodeJSON(r.Options, &j.Options); err != nil {
		return nil, fmt.Errorf("job %d options: %w", r.ID, err)
	}
	if err := decodeJSON(r.Tags, &j.Tags); err != nil {
		return nil, fmt.Errorf("job %d tags: %w", r.ID, err)
	}
	if r.Result.Valid {
		if err := decodeJSON(r.Result.String, &j.Result); err != nil {
			return nil, fmt.Errorf("job %d result: %w", r.ID, err)
		}
	}
	if r.Error.Valid {
		e := r.Error.String
		j.Error = &e
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// CreateJob inserts a new pending job and fills ID and CreatedAt.
func (s *Store) CreateJob(ctx context.Context, job *aether.Job) error {
	if job.TargetType == "" {
		job.TargetType = aether.TargetBinary
	}
	if job.Status == "" {
		job.Status = aether.JobPending
	}
	job.CreatedAt = time.Now().UTC()

	options, err := encodeJSON(job.Options, "{}")
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	tags, err := encodeJSON(job.Tags, "[]")
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	q := s.rebind(`INSERT INTO jobs
		(target, target_type, status, pipeline_id, options, tags, created_by, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = s.db.QueryRowxContext(ctx, q,
		job.Target, string(job.TargetType), string(job.Status), job.PipelineID,
		options, tags, job.CreatedBy, job.Progress, job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*aether.Job, error) {
	var row jobRow
	q := s.rebind(`SELECT * FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return row.toDomain()
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*aether.Job, error) {
	var rows []jobRow
	q := `SELECT * FROM jobs ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*aether.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ListStaleRunning returns running jobs whose started_at predates cutoff.
// Rows running with no started_at stamp are treated as stale as well.
func (s *Store) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*aether.Job, error) {
	var rows []jobRow
	q := s.rebind(`SELECT * FROM jobs
		WHERE status = 'running' AND (started_at IS NULL OR started_at < ?)
		ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, q, cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	jobs := make([]*aether.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkJobRunning transitions a job to running and stamps started_at. Redelivered
// tasks may find the row already running; that is accepted. Terminal rows are
// refused with ErrTerminal.
func (s *Store) MarkJobRunning(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.rebind(`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN ('pending', 'running')`)
	res, err := s.db.ExecContext(ctx, q, string(aether.JobRunning), now, id)
	if err != nil {
		return fmt.Errorf("mark job %d running: %w", id, err)
	}
	return s.checkTransition(ctx, res, id)
}

// FinishJob transitions a running job to completed or failed, recording the
// result summary and optional error string, and stamps completed_at. A row
// already cancelled (or otherwise terminal) is left untouched and reported
// via ErrTerminal.
func (s *Store) FinishJob(ctx context.Context, id int64, status aether.JobStatus, result map[string]any, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job %d: %q is not a terminal status", id, status)
	}
	encoded, err := encodeJSON(result, "{}")
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	var resultCol, errCol sql.NullString
	if result != nil {
		resultCol = sql.NullString{String: encoded, Valid: true}
	}
	if errMsg != nil {
		errCol = sql.NullString{String: *errMsg, Valid: true}
	}

	now := time.Now().UTC()
	q := s.rebind(`UPDATE jobs SET status = ?, result = ?, error = ?, completed_at = ?, progress = 100
		WHERE id = ? AND status IN ('pending', 'running')`)
	res, err := s.db.ExecContext(ctx, q, string(status), resultCol, errCol, now, id)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	return s.checkTransition(ctx, res, id)
}

// CancelJob flips a pending or running job to cancelled. Terminal rows return
// ErrTerminal; missing rows ErrNotFound.
func (s *Store) CancelJob(ctx context.Context, id int64) (*aether.Job, error) {
	now := time.Now().UTC()
	q := s.rebind(`UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`)
	res, err := s.db.ExecContext(ctx, q, string(aether.JobCancelled), now, id)
	if err != nil {
		return nil, fmt.Errorf("cancel job %d: %w", id, err)
	}
	if err := s.checkTransition(ctx, res, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// SetJobProgress updates the 0-100 progress gauge.
func (s *Store) SetJobProgress(ctx context.Context, id int64, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	q := s.rebind(`UPDATE jobs SET progress = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, q, progress, id); err != nil {
		return fmt.Errorf("set job %d progress: %w", id, err)
	}
	return nil
}

// DeleteJob removes a job; findings, artifacts and trace events cascade.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	q := s.rebind(`DELETE FROM jobs WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountJobsByStatus returns job counts grouped by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[aether.JobStatus]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[aether.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		counts[aether.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// AverageElapsedMS averages wall time of jobs that both started and finished.
// Returns 0 when no job qualifies.
func (s *Store) AverageElapsedMS(ctx context.Context) (float64, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT started_at, completed_at FROM jobs
		 WHERE started_at IS NOT NULL AND completed_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("average elapsed: %w", err)
	}
	defer rows.Close()

	var total float64
	var n int
	for rows.Next() {
		var started, completed time.Time
		if err := rows.Scan(&started, &completed); err != nil {
			return 0, fmt.Errorf("average elapsed: %w", err)
		}
		total += float64(completed.Sub(started).Milliseconds())
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// checkTransition distinguishes a missing row from a terminal one after a
// guarded lifecycle UPDATE affected zero rows.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job %d transition: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	var status string
	q := s.rebind(`SELECT status FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &status, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("job %d transition: %w", id, err)
	}
	return fmt.Errorf("job %d is %s: %w", id, status, ErrTerminal)
}
