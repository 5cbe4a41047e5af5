package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// metaSuffix names the sidecar file holding a sample's metadata.
const metaSuffix = ".meta.json"

// LocalSampleStore keeps samples on the local filesystem. Each sample
// is stored as <uuid><ext> next to a <uuid><ext>.meta.json sidecar, so
// the index survives restarts.
type LocalSampleStore struct {
	baseDir string

	mu      sync.RWMutex
	samples map[string]*Sample
}

// NewLocalSampleStore creates the base directory and rebuilds the
// index from the sidecar files already on disk.
func NewLocalSampleStore(baseDir string) (*LocalSampleStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve samples dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create samples dir: %w", err)
	}
	s := &LocalSampleStore{baseDir: abs, samples: make(map[string]*Sample)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload scans the base directory for metadata sidecars. Sidecars that
// fail to parse or whose payload file is gone are skipped.
func (s *LocalSampleStore) reload() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("read samples dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var sample Sample
		if err := json.Unmarshal(data, &sample); err != nil || sample.ID == "" {
			continue
		}
		if _, err := os.Stat(sample.Path); err != nil {
			continue
		}
		s.samples[sample.ID] = &sample
	}
	return nil
}

// Save writes the sample bytes and a metadata sidecar, hashing the
// content as it streams to disk.
func (s *LocalSampleStore) Save(_ context.Context, filename, contentType string, r io.Reader) (*Sample, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.New().String()
	storedName := id + filepath.Ext(filename)
	fullPath := filepath.Join(s.baseDir, storedName)

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("create sample file: %w", err)
	}
	h := sha256.New()
	n, err := io.Copy(f, io.TeeReader(r, h))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("write sample: %w", err)
	}

	sample := &Sample{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		Path:        fullPath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.writeMeta(sample, fullPath); err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	s.mu.Lock()
	s.samples[id] = sample
	s.mu.Unlock()

	return sample, nil
}

func (s *LocalSampleStore) writeMeta(sample *Sample, fullPath string) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample metadata: %w", err)
	}
	if err := os.WriteFile(fullPath+metaSuffix, data, 0o644); err != nil {
		return fmt.Errorf("write sample metadata: %w", err)
	}
	return nil
}

// Get returns the sample's metadata and an open reader for its bytes.
func (s *LocalSampleStore) Get(_ context.Context, id string) (*Sample, io.ReadCloser, error) {
	s.mu.RLock()
	sample, ok := s.samples[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("sample %s: %w", id, ErrNotFound)
	}
	f, err := os.Open(sample.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sample %s: %w", id, err)
	}
	copied := *sample
	return &copied, f, nil
}

// Delete removes the sample bytes and its sidecar.
func (s *LocalSampleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	sample, ok := s.samples[id]
	if ok {
		delete(s.samples, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sample %s: %w", id, ErrNotFound)
	}
	os.Remove(sample.Path + metaSuffix)
	if err := os.Remove(sample.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sample %s: %w", id, err)
	}
	return nil
}

// List returns all samples, newest first.
func (s *LocalSampleStore) List(_ context.Context) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		out = append(out, *sample)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
