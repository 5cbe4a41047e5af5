package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownPipeline is wrapped by catalogue lookups for unknown ids.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Catalogue holds named pipelines. It is populated at startup and
// read-only afterwards; Register exists for programmatic additions.
type Catalogue struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{pipelines: make(map[string]*Pipeline)}
}

// Register adds a pipeline, normalizing stage defaults: an empty
// condition becomes on_success and a missing timeout becomes the
// default. Stage names must be unique within the pipeline.
func (c *Catalogue) Register(p *Pipeline) error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	seen := make(map[string]bool, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Name == "" {
			return fmt.Errorf("pipeline %s: stage %d has no name", p.ID, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline %s: duplicate stage name %q", p.ID, s.Name)
		}
		seen[s.Name] = true
		if s.PluginID == "" {
			return fmt.Errorf("pipeline %s: stage %q has no plugin id", p.ID, s.Name)
		}
		if s.Condition == "" {
			s.Condition = OnSuccess
		}
		if s.TimeoutSeconds <= 0 {
			s.TimeoutSeconds = int(DefaultStageTimeout.Seconds())
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines[p.ID] = p
	return nil
}

// Get returns the pipeline registered under id.
func (c *Catalogue) Get(id string) (*Pipeline, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", id, ErrUnknownPipeline)
	}
	return p, nil
}

// List returns all registered pipelines sorted by id.
func (c *Catalogue) List() []*Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Builtin returns a catalogue seeded with the standard pipelines.
func Builtin() *Catalogue {
	c := NewCatalogue()
	for _, p := range builtinPipelines() {
		if err := c.Register(p); err != nil {
			panic(fmt.Sprintf("builtin pipeline %s: %v", p.ID, err))
		}
	}
	return c
}

func builtinPipelines() []*Pipeline {
	quicklook := (&Pipeline{
		ID:          "quicklook",
		Name:        "Quicklook",
		Description: "Fast triage: Umbriel gate, static summary, Noema intent",
		Tags:        []string{"fast", "triage"},
	}).AddStage(Stage{
		Name:      "gate",
		PluginID:  "umbriel",
		Config:    map[string]any{"mode": "fast", "skip_entropy": false},
		Condition: Always,
	}).AddStage(Stage{
		Name:     "static",
		PluginID: "static_analyzer",
		Optional: true,
	}).AddStage(Stage{
		Name:     "intent",
		PluginID: "noema",
		Config:   map[string]any{"depth": "shallow"},
	})

	deepStatic := (&Pipeline{
		ID:          "deep-static",
		Name:        "Deep Static",
		Description: "Full static: static summary, Umbriel thorough, Noema deep",
		Tags:        []string{"thorough", "static"},
	}).AddStage(Stage{
		Name:      "static",
		PluginID:  "static_analyzer",
		Config:    map[string]any{"extract_strings": true, "compute_entropy": true},
		Condition: Always,
	}).AddStage(Stage{
		Name:     "anti-analysis",
		PluginID: "umbriel",
		Config:   map[string]any{"mode": "thorough"},
	}).AddStage(Stage{
		Name:     "intent",
		PluginID: "noema",
		Config:   map[string]any{"depth": "deep", "explain": true},
	})

	dynamicFirst := (&Pipeline{
		ID:          "dynamic-first",
		Name:        "Dynamic First",
		Description: "Dynamic: Umbriel gate, LainTrace, Mnemosyne, Noema",
		Tags:        []string{"dynamic", "tracing"},
	}).AddStage(Stage{
		Name:      "gate",
		PluginID:  "umbriel",
		Config:    map[string]any{"mode": "fast"},
		Condition: Always,
	}).AddStage(Stage{
		Name:     "trace",
		PluginID: "laintrace",
		Config:   map[string]any{"profile": "strict", "timeout": 60},
	}).AddStage(Stage{
		Name:     "reconstruct",
		PluginID: "mnemosyne",
		Config:   map[string]any{"build_timeline": true, "build_graph": true},
	}).AddStage(Stage{
		Name:     "intent",
		PluginID: "noema",
		Config:   map[string]any{"depth": "deep", "use_traces": true},
	})

	releaseWatch := (&Pipeline{
		ID:          "release-watch",
		Name:        "Release Watch",
		Description: "Diff: Valkyrie, risk score, optional LainTrace, Noema",
		Tags:        []string{"diff", "evolution"},
	}).AddStage(Stage{
		Name:      "diff",
		PluginID:  "valkyrie",
		Config:    map[string]any{"semantic": true, "generate_heatmap": true},
		Condition: Always,
	}).AddStage(Stage{
		Name:      "risk-score",
		PluginID:  "valkyrie",
		Config:    map[string]any{"compute_risk": true},
		Condition: OnSuccess,
	}).AddStage(Stage{
		Name:      "trace-deltas",
		PluginID:  "laintrace",
		Config:    map[string]any{"focus_changed_functions": true},
		Condition: OnHighRisk,
		Optional:  true,
	}).AddStage(Stage{
		Name:     "intent",
		PluginID: "noema",
		Config:   map[string]any{"analyze_diff": true},
	})

	fullAudit := (&Pipeline{
		ID:          "full-audit",
		Name:        "Full Audit",
		Description: "Complete analysis with all modules",
		Tags:        []string{"complete", "audit"},
	}).AddStage(Stage{
		Name:      "gate",
		PluginID:  "umbriel",
		Config:    map[string]any{"mode": "thorough"},
		Condition: Always,
	}).AddStage(Stage{
		Name:     "static",
		PluginID: "static_analyzer",
	}).AddStage(Stage{
		Name:     "trace",
		PluginID: "laintrace",
		Config:   map[string]any{"profile": "comprehensive"},
	}).AddStage(Stage{
		Name:     "reconstruct",
		PluginID: "mnemosyne",
	}).AddStage(Stage{
		Name:     "intent",
		PluginID: "noema",
		Config:   map[string]any{"depth": "deep", "explain": true},
	})

	return []*Pipeline{quicklook, deepStatic, dynamicFirst, releaseWatch, fullAudit}
}
