// Package plugin defines the analyzer contract and the registry that
// discovers plugin bundles, validates their manifests, and hands back
// configured instances.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aetherframe/aetherframe/internal/aether"
)

// Context is the value handed to a plugin for one stage execution. It
// carries the job, the resolved paths, and everything prior stages in
// this run produced.
type Context struct {
	Job               *aether.Job
	TargetPath        string
	WorkspaceDir      string
	ArtifactsDir      string
	PreviousFindings  []aether.Finding
	PreviousArtifacts []aether.Artifact
	// Pipeline is a per-stage snapshot of the accumulated key/value
	// context. Writes to it are discarded; stages signal each other
	// through Result.ContextData.
	Pipeline map[string]any
}

// ArtifactPath returns the path for an artifact file. Plugins write
// artifact files here and declare them in their result; the directory
// survives workspace cleanup.
func (c *Context) ArtifactPath(name string) string {
	return filepath.Join(c.ArtifactsDir, name)
}

// WorkspacePath returns the path for a scratch file. The workspace is
// deleted after the run.
func (c *Context) WorkspacePath(name string) string {
	return filepath.Join(c.WorkspaceDir, name)
}

// Result is what a plugin returns from Run. Ordinary analysis failure
// is reported with Success=false and Error set, not a Go error.
type Result struct {
	Success         bool
	Error           string
	Findings        []aether.Finding
	Artifacts       []aether.Artifact
	Events          []aether.TraceEvent
	RiskScore       float64
	SkipRemaining   bool
	ContextData     map[string]any
	Recommendations []string
}

// Plugin is the contract every analyzer implements.
type Plugin interface {
	ID() string
	Name() string
	Version() string
	Capabilities() []string
	SupportsCapability(capability string) bool

	// Validate reports whether the plugin can run against the given
	// context. A refusal is a *ValidationError.
	Validate(jc *Context) error

	// Run executes the analyzer. ctx carries the stage deadline.
	Run(ctx context.Context, jc *Context) (*Result, error)
}

// ValidationError is returned by Validate when a plugin refuses to run.
type ValidationError struct {
	PluginID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] validation failed: %s", e.PluginID, e.Reason)
}

// Base carries the manifest and instance config for concrete analyzers
// to embed.
type Base struct {
	manifest *Manifest
	config   map[string]any
}

// NewBase binds a manifest and config into an embeddable Base.
func NewBase(m *Manifest, config map[string]any) Base {
	if config == nil {
		config = map[string]any{}
	}
	return Base{manifest: m, config: config}
}

func (b *Base) ID() string             { return b.manifest.ID }
func (b *Base) Name() string           { return b.manifest.Name }
func (b *Base) Version() string        { return b.manifest.Version }
func (b *Base) Capabilities() []string { return b.manifest.Capabilities }
func (b *Base) Manifest() *Manifest    { return b.manifest }

func (b *Base) SupportsCapability(capability string) bool {
	return b.manifest.HasCapability(capability)
}

// ConfigString returns the string config value for key, or def.
func (b *Base) ConfigString(key, def string) string {
	if v, ok := b.config[key].(string); ok {
		return v
	}
	return def
}

// ConfigBool returns the bool config value for key, or def.
func (b *Base) ConfigBool(key string, def bool) bool {
	if v, ok := b.config[key].(bool); ok {
		return v
	}
	return def
}

// ConfigFloat returns the numeric config value for key, or def.
// JSON decoding yields float64, YAML may yield int.
func (b *Base) ConfigFloat(key string, def float64) float64 {
	switch v := b.config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// ConfigInt returns the integer config value for key, or def.
func (b *Base) ConfigInt(key string, def int) int {
	switch v := b.config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// ConfigValue returns the raw config value for key.
func (b *Base) ConfigValue(key string) (any, bool) {
	v, ok := b.config[key]
	return v, ok
}
