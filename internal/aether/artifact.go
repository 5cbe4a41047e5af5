package aether

import "time"

// ArtifactType identifies the shape of a produced artifact file.
type ArtifactType string

const (
	ArtifactJSON          ArtifactType = "json"
	ArtifactHTML          ArtifactType = "html"
	ArtifactDump          ArtifactType = "dump"
	ArtifactGraph         ArtifactType = "graph"
	ArtifactTimeline      ArtifactType = "timeline"
	ArtifactHeatmap       ArtifactType = "heatmap"
	ArtifactDiff          ArtifactType = "diff"
	ArtifactReport        ArtifactType = "report"
	ArtifactStrings       ArtifactType = "strings"
	ArtifactDisasm        ArtifactType = "disasm"
	ArtifactCallgraph     ArtifactType = "callgraph"
	ArtifactStateSnapshot ArtifactType = "state_snapshot"
	ArtifactRaw           ArtifactType = "raw"
)

// Artifact is a file produced by a pipeline stage, referenced by URI.
// Artifacts live under the per-job artifacts directory and survive workspace
// cleanup.
type Artifact struct {
	ID           int64          `json:"id"`
	JobID        int64          `json:"job_id"`
	PluginID     string         `json:"plugin_id"`
	Stage        string         `json:"stage"`
	ArtifactType ArtifactType   `json:"artifact_type"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	URI          string         `json:"uri"` // file://... or s3://...
	SHA256       string         `json:"sha256,omitempty"`
	SizeBytes    int64          `json:"size_bytes,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
