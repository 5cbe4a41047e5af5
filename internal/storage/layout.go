// Package storage lays out per-job directories and finalizes artifact
// files under the artifacts base.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aetherframe/aetherframe/internal/aether"
)

// Layout owns the workspace and artifacts bases. Each job gets
// workspace_base/<id> (scratch, deleted after the run) and
// artifacts_base/<id> (preserved).
type Layout struct {
	workspaceBase string
	artifactsBase string
}

// NewLayout creates both base directories.
func NewLayout(workspaceBase, artifactsBase string) (*Layout, error) {
	for _, dir := range []string{workspaceBase, artifactsBase} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create base dir %s: %w", dir, err)
		}
	}
	return &Layout{workspaceBase: workspaceBase, artifactsBase: artifactsBase}, nil
}

// JobDirs creates and returns the job's workspace and artifacts
// directories.
func (l *Layout) JobDirs(jobID int64) (workspace, artifacts string, err error) {
	workspace = l.WorkspaceDir(jobID)
	artifacts = l.ArtifactsDir(jobID)
	for _, dir := range []string{workspace, artifacts} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create job dir %s: %w", dir, err)
		}
	}
	return workspace, artifacts, nil
}

// WorkspaceDir returns the job's scratch directory path.
func (l *Layout) WorkspaceDir(jobID int64) string {
	return filepath.Join(l.workspaceBase, strconv.FormatInt(jobID, 10))
}

// ArtifactsDir returns the job's preserved artifact directory path.
func (l *Layout) ArtifactsDir(jobID int64) string {
	return filepath.Join(l.artifactsBase, strconv.FormatInt(jobID, 10))
}

// RemoveWorkspace deletes the job's scratch directory.
func (l *Layout) RemoveWorkspace(jobID int64) error {
	return os.RemoveAll(l.WorkspaceDir(jobID))
}

// WorkspaceJobs returns the job ids that still have a workspace
// directory on disk.
func (l *Layout) WorkspaceJobs() ([]int64, error) {
	entries, err := os.ReadDir(l.workspaceBase)
	if err != nil {
		return nil, fmt.Errorf("read workspace base: %w", err)
	}
	var ids []int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FileURI returns the file:// URI for a local path.
func FileURI(path string) string { return "file://" + path }

// LocalPath extracts the filesystem path from a file:// URI. Other
// schemes return ok=false.
func LocalPath(uri string) (string, bool) {
	if strings.HasPrefix(uri, "file://") {
		return strings.TrimPrefix(uri, "file://"), true
	}
	return "", false
}

// Finalize verifies the artifact's backing file exists and fills in
// size_bytes and sha256. Values the producer already declared must
// match the file. Artifacts on non-local schemes pass through.
func Finalize(a *aether.Artifact) error {
	if a.URI == "" {
		return fmt.Errorf("artifact %s has no uri", a.Name)
	}
	path, ok := LocalPath(a.URI)
	if !ok {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", a.Name, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("hash artifact %s: %w", a.Name, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	if a.SizeBytes > 0 && a.SizeBytes != n {
		return fmt.Errorf("artifact %s: declared size %d does not match file size %d", a.Name, a.SizeBytes, n)
	}
	if a.SHA256 != "" && a.SHA256 != sum {
		return fmt.Errorf("artifact %s: checksum mismatch", a.Name)
	}
	a.SizeBytes = n
	a.SHA256 = sum
	return nil
}
