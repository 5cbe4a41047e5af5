package plugin

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/zeebo/blake3"

	"github.com/aetherframe/aetherframe/internal/dag"
)

// ErrNotRegistered is wrapped by registry lookups for unknown plugin ids.
var ErrNotRegistered = errors.New("plugin not registered")

// Factory builds a plugin instance from its manifest and merged config.
type Factory func(m *Manifest, config map[string]any) Plugin

// Registry turns plugin bundles into a query-able catalogue of
// instantiable analyzers. Manifests come from Discover or Register;
// implementations are attached with Bind. The instance cache is
// read-mostly and locked on miss.
type Registry struct {
	log *slog.Logger

	mu        sync.RWMutex
	manifests map[string]*Manifest
	factories map[string]Factory
	instances map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log,
		manifests: make(map[string]*Manifest),
		factories: make(map[string]Factory),
		instances: make(map[string]Plugin),
	}
}

// Discover scans the top-level directories of fsys for plugin.yaml
// manifests and records the valid ones. Directories whose names start
// with "_" are skipped. Invalid manifests are logged and skipped, not
// fatal. Returns the ids discovered in this scan.
func (r *Registry) Discover(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var discovered []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(entry.Name(), ManifestFilename))
		if err != nil {
			r.log.Warn("skipping plugin dir without manifest", "dir", entry.Name())
			continue
		}
		m, err := ParseManifest(data)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			r.log.Error("invalid plugin manifest", "dir", entry.Name(), "error", err)
			continue
		}

		r.mu.Lock()
		r.manifests[m.ID] = m
		r.mu.Unlock()
		discovered = append(discovered, m.ID)
		r.log.Info("discovered plugin", "plugin", m.ID, "version", m.Version)
	}
	return discovered, nil
}

// Bind attaches the implementation for a discovered manifest id.
func (r *Registry) Bind(id string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[id]; !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotRegistered)
	}
	r.factories[id] = f
	return nil
}

// Register adds a manifest and its implementation directly, bypassing
// disk discovery.
func (r *Registry) Register(m *Manifest, f Factory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("plugin %q: %w", m.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ID] = m
	r.factories[m.ID] = f
	return nil
}

// Manifest returns the manifest recorded for id.
func (r *Registry) Manifest(id string) (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotRegistered)
	}
	return m, nil
}

// List returns all known manifests sorted by id. A non-empty kind
// filters the result.
func (r *Registry) List(kind Kind) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Manifest
	for _, m := range r.manifests {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByCapability returns the ids of plugins declaring capability.
func (r *Registry) FindByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, m := range r.manifests {
		if m.HasCapability(capability) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetInstance returns the plugin instance bound to (id, config). Two
// calls with equal config return the same instance. Config is checked
// against the manifest's config_schema before first instantiation.
func (r *Registry) GetInstance(id string, config map[string]any) (Plugin, error) {
	m, err := r.Manifest(id)
	if err != nil {
		return nil, err
	}
	key, configJSON, err := instanceKey(id, config)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}
	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q has no implementation bound", id)
	}
	if err := validateConfig(m, configJSON); err != nil {
		return nil, fmt.Errorf("invalid config for plugin %q: %w", id, err)
	}
	inst = factory(m, config)
	r.instances[key] = inst
	return inst, nil
}

// ResolveDependencies returns the plugin and its transitive
// dependencies in topological order, dependencies first. Dependency
// ids without a recorded manifest are ignored. A cycle is an error.
func (r *Registry) ResolveDependencies(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.manifests[id]; !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotRegistered)
	}

	// Collect the subgraph reachable through dependency edges.
	nodes := map[string][]string{}
	var collect func(pid string)
	collect = func(pid string) {
		if _, seen := nodes[pid]; seen {
			return
		}
		m, ok := r.manifests[pid]
		if !ok {
			return
		}
		nodes[pid] = m.Dependencies
		for _, dep := range m.Dependencies {
			collect(dep)
		}
	}
	collect(id)

	g, err := dag.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", id, err)
	}
	return g.Order(), nil
}

// instanceKey hashes the canonical JSON encoding of config. Map keys
// are sorted by the encoder, so equal configs hash equally.
func instanceKey(id string, config map[string]any) (string, []byte, error) {
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return "", nil, fmt.Errorf("hash config for plugin %q: %w", id, err)
	}
	sum := blake3.Sum256(configJSON)
	return id + ":" + hex.EncodeToString(sum[:]), configJSON, nil
}

// validateConfig checks config against the manifest's config_schema.
func validateConfig(m *Manifest, configJSON []byte) error {
	if len(m.ConfigSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(m.ConfigSchema)
	if err != nil {
		return fmt.Errorf("encode config schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return fmt.Errorf("decode config schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var payload any
	if err := json.Unmarshal(configJSON, &payload); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return schema.Validate(payload)
}
