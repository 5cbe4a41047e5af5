package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
)

type stubPlugin struct {
	Base
}

func (p *stubPlugin) Validate(jc *Context) error { return nil }

func (p *stubPlugin) Run(ctx context.Context, jc *Context) (*Result, error) {
	return &Result{Success: true}, nil
}

func stubFactory(m *Manifest, config map[string]any) Plugin {
	return &stubPlugin{Base: NewBase(m, config)}
}

func quietRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testManifest(id string, deps ...string) *Manifest {
	return &Manifest{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Kind:         KindDetector,
		Capabilities: []string{id + ".scan"},
		Dependencies: deps,
	}
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
id: umbriel
name: Umbriel
version: 1.0.0
kind: detector
capabilities:
  - anti_analysis.scan
  - anti_analysis.report
dependencies:
  - static_analyzer
`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.ID != "umbriel" || m.Kind != KindDetector {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(m.Capabilities) != 2 || m.Capabilities[0] != "anti_analysis.scan" {
		t.Fatalf("capabilities = %v", m.Capabilities)
	}
	if len(m.Dependencies) != 1 || m.Dependencies[0] != "static_analyzer" {
		t.Fatalf("dependencies = %v", m.Dependencies)
	}
}

func TestParseManifestMissingField(t *testing.T) {
	if _, err := ParseManifest([]byte("id: x\nname: X\nkind: detector\n")); err == nil {
		t.Fatal("expected error for missing version")
	}
	if _, err := ParseManifest([]byte("id: x\nname: X\nversion: 1.0.0\nkind: wizard\n")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Manifest)
		wantFail bool
	}{
		{"valid", func(m *Manifest) {}, false},
		{"empty id", func(m *Manifest) { m.ID = "" }, true},
		{"id with spaces", func(m *Manifest) { m.ID = "bad id" }, true},
		{"id with dot", func(m *Manifest) { m.ID = "bad.id" }, true},
		{"id with hyphen and underscore", func(m *Manifest) { m.ID = "ok_id-2" }, false},
		{"empty version", func(m *Manifest) { m.Version = "" }, true},
		{"no capabilities", func(m *Manifest) { m.Capabilities = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest("umbriel")
			tt.mutate(m)
			err := m.Validate()
			if tt.wantFail && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantFail && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"umbriel/plugin.yaml": &fstest.MapFile{Data: []byte(
			"id: umbriel\nname: Umbriel\nversion: 1.0.0\nkind: detector\ncapabilities: [anti_analysis.scan]\n")},
		"valkyrie/plugin.yaml": &fstest.MapFile{Data: []byte(
			"id: valkyrie\nname: Valkyrie\nversion: 2.1.0\nkind: differ\ncapabilities: [binary.diff]\n")},
		"_disabled/plugin.yaml": &fstest.MapFile{Data: []byte(
			"id: disabled\nname: Disabled\nversion: 1.0.0\nkind: detector\ncapabilities: [x.y]\n")},
		"broken/plugin.yaml": &fstest.MapFile{Data: []byte(
			"id: broken\nname: Broken\nkind: detector\n")},
		"nomanifest/readme.txt": &fstest.MapFile{Data: []byte("not a plugin")},
	}

	r := quietRegistry()
	ids, err := r.Discover(fsys)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("discovered %v, want 2 ids", ids)
	}
	if _, err := r.Manifest("umbriel"); err != nil {
		t.Fatalf("Manifest(umbriel): %v", err)
	}
	if _, err := r.Manifest("valkyrie"); err != nil {
		t.Fatalf("Manifest(valkyrie): %v", err)
	}
	if _, err := r.Manifest("disabled"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("underscore dir was not skipped: %v", err)
	}
	if _, err := r.Manifest("broken"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("invalid manifest was not skipped: %v", err)
	}
}

func TestDiscoverEmptyDir(t *testing.T) {
	r := quietRegistry()
	ids, err := r.Discover(fstest.MapFS{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("discovered %v, want none", ids)
	}
}

func TestGetInstanceCaching(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(testManifest("umbriel"), stubFactory); err != nil {
		t.Fatalf("Register: %v", err)
	}

	a, err := r.GetInstance("umbriel", map[string]any{"mode": "fast", "depth": 2})
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	b, err := r.GetInstance("umbriel", map[string]any{"depth": 2, "mode": "fast"})
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if a != b {
		t.Fatal("equal configs must return the same instance")
	}

	c, err := r.GetInstance("umbriel", map[string]any{"mode": "thorough"})
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if a == c {
		t.Fatal("different configs must return different instances")
	}

	d, err := r.GetInstance("umbriel", nil)
	if err != nil {
		t.Fatalf("GetInstance nil config: %v", err)
	}
	e, err := r.GetInstance("umbriel", map[string]any{})
	if err != nil {
		t.Fatalf("GetInstance empty config: %v", err)
	}
	if d != e {
		t.Fatal("nil and empty config must share an instance")
	}
}

func TestGetInstanceUnknownPlugin(t *testing.T) {
	r := quietRegistry()
	if _, err := r.GetInstance("ghost", nil); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("GetInstance: %v, want ErrNotRegistered", err)
	}
}

func TestGetInstanceWithoutImplementation(t *testing.T) {
	r := quietRegistry()
	fsys := fstest.MapFS{
		"umbriel/plugin.yaml": &fstest.MapFile{Data: []byte(
			"id: umbriel\nname: Umbriel\nversion: 1.0.0\nkind: detector\ncapabilities: [anti_analysis.scan]\n")},
	}
	if _, err := r.Discover(fsys); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := r.GetInstance("umbriel", nil); err == nil {
		t.Fatal("expected error for manifest with no bound implementation")
	}
}

func TestGetInstanceConfigSchema(t *testing.T) {
	r := quietRegistry()
	m := testManifest("umbriel")
	m.ConfigSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []any{"fast", "thorough"},
			},
		},
	}
	if err := r.Register(m, stubFactory); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.GetInstance("umbriel", map[string]any{"mode": "fast"}); err != nil {
		t.Fatalf("GetInstance valid config: %v", err)
	}
	if _, err := r.GetInstance("umbriel", map[string]any{"mode": "reckless"}); err == nil {
		t.Fatal("expected schema violation for bad mode")
	}
}

func TestBindRequiresManifest(t *testing.T) {
	r := quietRegistry()
	if err := r.Bind("ghost", stubFactory); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Bind: %v, want ErrNotRegistered", err)
	}
}

func TestFindByCapability(t *testing.T) {
	r := quietRegistry()
	u := testManifest("umbriel")
	u.Capabilities = []string{"anti_analysis.scan", "entropy.profile"}
	v := testManifest("valkyrie")
	v.Capabilities = []string{"binary.diff"}
	for _, m := range []*Manifest{u, v} {
		if err := r.Register(m, stubFactory); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	if ids := r.FindByCapability("anti_analysis.scan"); len(ids) != 1 || ids[0] != "umbriel" {
		t.Fatalf("FindByCapability = %v", ids)
	}
	if ids := r.FindByCapability("nonexistent.cap"); len(ids) != 0 {
		t.Fatalf("FindByCapability = %v, want empty", ids)
	}
}

func TestResolveDependencies(t *testing.T) {
	r := quietRegistry()
	// noema depends on umbriel and valkyrie; valkyrie depends on umbriel.
	for _, m := range []*Manifest{
		testManifest("umbriel"),
		testManifest("valkyrie", "umbriel"),
		testManifest("noema", "umbriel", "valkyrie"),
	} {
		if err := r.Register(m, stubFactory); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	order, err := r.ResolveDependencies("noema")
	if err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if len(order) != 3 || order[len(order)-1] != "noema" {
		t.Fatalf("order = %v", order)
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["umbriel"] > pos["valkyrie"] || pos["valkyrie"] > pos["noema"] {
		t.Fatalf("dependencies out of order: %v", order)
	}
}

func TestResolveDependenciesIgnoresUnknown(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(testManifest("noema", "ghost"), stubFactory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	order, err := r.ResolveDependencies("noema")
	if err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if len(order) != 1 || order[0] != "noema" {
		t.Fatalf("order = %v", order)
	}
}

func TestResolveDependenciesCycle(t *testing.T) {
	r := quietRegistry()
	for _, m := range []*Manifest{
		testManifest("a", "b"),
		testManifest("b", "a"),
	} {
		if err := r.Register(m, stubFactory); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if _, err := r.ResolveDependencies("a"); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestSupportsCapability(t *testing.T) {
	p := stubFactory(testManifest("umbriel"), nil)
	if !p.SupportsCapability("umbriel.scan") {
		t.Fatal("expected declared capability to be supported")
	}
	if p.SupportsCapability("other.cap") {
		t.Fatal("undeclared capability must not be supported")
	}
}
