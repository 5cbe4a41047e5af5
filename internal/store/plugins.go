package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
)

type pluginRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// CreatePlugin inserts a catalogue row. The row is descriptive only and is
// unrelated to loaded registry manifests.
func (s *Store) CreatePlugin(ctx context.Context, p *aether.PluginInfo) error {
	p.CreatedAt = time.Now().UTC()
	q := s.rebind(`INSERT INTO plugins (name, version, description, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, q, p.Name, p.Version, p.Description, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create plugin %q: %w", p.Name, err)
	}
	return nil
}

// ListPlugins returns all catalogue rows, newest first.
func (s *Store) ListPlugins(ctx context.Context) ([]*aether.PluginInfo, error) {
	var rows []pluginRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM plugins ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	out := make([]*aether.PluginInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, &aether.PluginInfo{
			ID:          r.ID,
			Name:        r.Name,
			Version:     r.Version,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}
