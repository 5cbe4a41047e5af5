package plugins

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/aetherframe/aetherframe/internal/plugin"
)

func newRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := Register(r); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return r
}

func TestRegisterDiscoversAllBuiltins(t *testing.T) {
	r := newRegistry(t)

	want := []string{"laintrace", "mnemosyne", "noema", "static_analyzer", "umbriel", "valkyrie"}
	var got []string
	for _, m := range r.List("") {
		got = append(got, m.ID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestBuiltinKinds(t *testing.T) {
	r := newRegistry(t)

	kinds := map[string]plugin.Kind{
		"umbriel":         plugin.KindDetector,
		"static_analyzer": plugin.KindAnalyzer,
		"valkyrie":        plugin.KindDiffer,
		"noema":           plugin.KindInferencer,
		"laintrace":       plugin.KindTracer,
		"mnemosyne":       plugin.KindReconstructor,
	}
	for id, want := range kinds {
		m, err := r.Manifest(id)
		if err != nil {
			t.Errorf("Manifest(%s): %v", id, err)
			continue
		}
		if m.Kind != want {
			t.Errorf("%s kind = %s, want %s", id, m.Kind, want)
		}
	}
}

func TestBuiltinCapabilities(t *testing.T) {
	r := newRegistry(t)

	caps := map[string][]string{
		"anti_analysis.scan":     {"umbriel"},
		"static.scan":            {"static_analyzer"},
		"diff.semantic":          {"valkyrie"},
		"diff.risk":              {"valkyrie"},
		"intent.infer":           {"noema"},
		"trace.dynamic":          {"laintrace"},
		"reconstruct.timeline":   {"mnemosyne"},
		"reconstruct.stategraph": {"mnemosyne"},
	}
	for capability, want := range caps {
		if got := r.FindByCapability(capability); !reflect.DeepEqual(got, want) {
			t.Errorf("FindByCapability(%s) = %v, want %v", capability, got, want)
		}
	}
}

func TestBuiltinInstantiation(t *testing.T) {
	r := newRegistry(t)

	for id := range factories {
		inst, err := r.GetInstance(id, nil)
		if err != nil {
			t.Errorf("GetInstance(%s): %v", id, err)
			continue
		}
		if inst.ID() != id {
			t.Errorf("instance id = %s, want %s", inst.ID(), id)
		}
	}
}

// The builtin pipelines pass stage configs straight through to
// GetInstance, so every key they send must clear the manifest schemas.
func TestBuiltinSchemasAcceptPipelineConfigs(t *testing.T) {
	r := newRegistry(t)

	configs := map[string]map[string]any{
		"umbriel":         {"mode": "thorough", "skip_entropy": false},
		"static_analyzer": {"extract_strings": true, "compute_entropy": true},
		"valkyrie":        {"semantic": true, "generate_heatmap": true, "compute_risk": true},
		"noema":           {"depth": "deep", "use_traces": true, "analyze_diff": true, "explain": true},
		"laintrace":       {"profile": "comprehensive", "timeout": 60, "focus_changed_functions": true},
		"mnemosyne":       {"build_timeline": true, "build_graph": true},
	}
	for id, config := range configs {
		if _, err := r.GetInstance(id, config); err != nil {
			t.Errorf("GetInstance(%s, %v): %v", id, config, err)
		}
	}
}

func TestBuiltinSchemasRejectBadConfig(t *testing.T) {
	r := newRegistry(t)

	bad := map[string]map[string]any{
		"laintrace": {"profile": "aggressive"},
		"umbriel":   {"mode": 42},
		"noema":     {"confidence_threshold": 2.0},
		"mnemosyne": {"max_events": 0},
	}
	for id, config := range bad {
		if _, err := r.GetInstance(id, config); err == nil {
			t.Errorf("GetInstance(%s, %v) accepted invalid config", id, config)
		}
	}
}
