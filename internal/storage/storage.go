package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a sample id is unknown.
var ErrNotFound = errors.New("sample not found")

// Sample describes one ingested analysis target.
type Sample struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	Path        string    `json:"path"` // absolute; usable as a job target
	CreatedAt   time.Time `json:"created_at"`
}

// SampleStore holds uploaded targets until a worker analyses them.
type SampleStore interface {
	// Save ingests one sample and returns its metadata.
	Save(ctx context.Context, filename, contentType string, r io.Reader) (*Sample, error)
	// Get returns a sample's metadata and an open reader for its bytes.
	Get(ctx context.Context, id string) (*Sample, io.ReadCloser, error)
	// Delete removes a sample and its bytes.
	Delete(ctx context.Context, id string) error
	// List returns all samples, newest first.
	List(ctx context.Context) ([]Sample, error)
}
