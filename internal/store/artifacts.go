package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type artifactRow struct {
	ID           int64     `db:"id"`
	JobID        int64     `db:"job_id"`
	PluginID     string    `db:"plugin_id"`
	Stage        string    `db:"stage"`
	ArtifactType string    `db:"artifact_type"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	URI          string    `db:"uri"`
	SHA256       string    `db:"sha256"`
	SizeBytes    int64     `db:"size_bytes"`
	Meta         string    `db:"meta"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *artifactRow) toDomain() (*aether.Artifact, error) {
	a := &aether.Artifact{
		ID:           r.ID,
		JobID:        r.JobID,
		PluginID:     r.PluginID,
		Stage:        r.Stage,
		ArtifactType: aether.ArtifactType(r.ArtifactType),
		Name:         r.Name,
		Description:  r.Description,
		URI:          r.URI,
		SHA256:       r.SHA256,
		SizeBytes:    r.SizeBytes,
		CreatedAt:    r.CreatedAt,
	}
	if err := decodeJSON(r.Meta, &a.Meta); err != nil {
		return nil, fmt.Errorf("artifact %d meta: %w", r.ID, err)
	}
	return a, nil
}

// CreateArtifact inserts one artifact row.
func (s *Store) CreateArtifact(ctx context.Context, a *aether.Artifact) error {
	a.CreatedAt = time.Now().UTC()
	meta, err := encodeJSON(a.Meta, "{}")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}

	q := s.rebind(`INSERT INTO artifacts
		(job_id, plugin_id, stage, artifact_type, name, description, uri, sha256, size_bytes, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = s.db.QueryRowxContext(ctx, q,
		a.JobID, a.PluginID, a.Stage, string(a.ArtifactType), a.Name,
		a.Description, a.URI, a.SHA256, a.SizeBytes, meta, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("create artifact for job %d: %w", a.JobID, err)
	}
	return nil
}

// ListArtifacts returns a job's artifacts in insertion order.
func (s *Store) ListArtifacts(ctx context.Context, jobID int64) ([]*aether.Artifact, error) {
	var rows []artifactRow
	q := s.rebind(`SELECT * FROM artifacts WHERE job_id = ? ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, jobID); err != nil {
		return nil, fmt.Errorf("list artifacts for job %d: %w", jobID, err)
	}
	out := make([]*aether.Artifact, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
