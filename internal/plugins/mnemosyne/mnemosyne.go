// Package mnemosyne implements the state reconstruction plugin. It
// consumes trace events produced by earlier pipeline stages, rebuilds
// the execution timeline and the state transition graph, and flags
// memory anomalies such as heap sprays and RWX protection changes.
package mnemosyne

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/storage"
)

// Reconstructor is the mnemosyne plugin instance.
type Reconstructor struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Reconstructor{Base: plugin.NewBase(m, config)}
}

// Validate always accepts. Trace data may arrive from the pipeline
// context, from prior trace artifacts, or from the target file itself,
// and when every source is empty the run degrades to a synthetic
// trace.
func (r *Reconstructor) Validate(jc *plugin.Context) error { return nil }

// Run rebuilds the timeline and state graph from the collected events
// and scans them for anomalies.
func (r *Reconstructor) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	withTimeline := r.ConfigBool("build_timeline", true)
	withGraph := r.ConfigBool("build_graph", true)
	detectAnomalies := r.ConfigBool("detect_anomalies", true)
	maxEvents := r.ConfigInt("max_events", 10000)
	collapseLoops := r.ConfigBool("collapse_loops", true)

	res := &plugin.Result{Success: true}

	events := collectEvents(jc, maxEvents)
	if len(events) == 0 {
		res.Events = append(res.Events, aether.TraceEvent{
			JobID:     jc.Job.ID,
			TS:        time.Now().UTC(),
			Source:    aether.SourceMnemosyne,
			EventType: aether.EventWarning,
			Payload:   map[string]any{"message": "No trace events available, using static analysis"},
		})
		events = syntheticEvents()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var timeline *Timeline
	if withTimeline {
		timeline = buildTimeline(events)
		timeline.Finalize()

		artifact, err := r.writeTimeline(jc, timeline)
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, artifact)
	}

	var graph *StateGraph
	if withGraph {
		graph = buildStateGraph(events, collapseLoops)

		graphArtifact, err := r.writeStateGraph(jc, graph)
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, graphArtifact)

		dotArtifact, err := r.writeGraphviz(jc, graph)
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, dotArtifact)
	}

	if detectAnomalies {
		detector := newAnomalyDetector()
		for _, ev := range events {
			if f := detector.processEvent(ev, jc.Job.ID); f != nil {
				res.Findings = append(res.Findings, *f)
			}
		}
	}

	var durationMS int64
	var threadCount int
	if timeline != nil {
		durationMS = timeline.DurationMS
		threadCount = timeline.ThreadCount()
	}
	var stateCount, transitionCount int
	if graph != nil {
		stateCount = graph.StateCount()
		transitionCount = len(graph.Transitions)
	}

	summaryJSON, _ := json.Marshal(map[string]any{
		"events":      len(events),
		"states":      stateCount,
		"transitions": transitionCount,
		"threads":     threadCount,
	})
	res.Findings = append(res.Findings, aether.Finding{
		JobID:       jc.Job.ID,
		Severity:    aether.SeverityInfo,
		Category:    aether.CategoryStateTransition,
		Title:       fmt.Sprintf("State reconstruction complete: %d events", len(events)),
		Description: fmt.Sprintf("Timeline: %dms, States: %d", durationMS, stateCount),
		Evidence: []aether.Evidence{{
			Type:  "pattern",
			Value: string(summaryJSON),
		}},
		Confidence: 1.0,
		Tags:       []string{"mnemosyne", "summary"},
	})

	anomalies := 0
	for _, f := range res.Findings {
		if f.Severity.AtLeast(aether.SeverityHigh) {
			anomalies++
		}
	}
	res.ContextData = map[string]any{
		"timeline_duration_ms": durationMS,
		"state_count":          stateCount,
		"transition_count":     transitionCount,
		"anomaly_count":        anomalies,
	}
	return res, nil
}

// buildTimeline normalizes raw events onto the timeline.
func buildTimeline(events []map[string]any) *Timeline {
	tl := NewTimeline()
	for _, ev := range events {
		ts, raw := eventTime(ev)
		eventType := stringField(ev, "event_type", "type")
		if eventType == "" {
			eventType = "unknown"
		}
		source := stringField(ev, "source")
		if source == "" {
			source = "unknown"
		}
		tl.Add(timelineEvent{
			Timestamp: raw,
			EventType: eventType,
			Source:    source,
			Symbol:    stringField(ev, "symbol"),
			Address:   stringField(ev, "address"),
			ThreadID:  intField(ev, "thread_id"),
			Payload:   payloadOf(ev),
			ts:        ts,
		})
	}
	return tl
}

// classifyState maps an event type onto the state it drives the
// program into.
func classifyState(eventType string) StateType {
	switch {
	case strings.Contains(eventType, "syscall"):
		return StateSyscall
	case strings.Contains(eventType, "hook"), strings.Contains(eventType, "call"):
		return StateLibraryCall
	case strings.Contains(eventType, "memory"):
		return StateMemoryOp
	default:
		return StateRunning
	}
}

// buildStateGraph folds the event stream into a transition graph.
// With collapse enabled, repeated visits to the same call site merge
// into one node and repeated edges accumulate weight instead of
// multiplying.
func buildStateGraph(events []map[string]any, collapse bool) *StateGraph {
	graph := NewStateGraph()

	initial := &ProgramState{
		ID:        "state_0",
		Timestamp: time.Now().UTC(),
		Type:      StateInitial,
		Symbol:    "_start",
	}
	graph.AddState(initial)

	bySignature := map[string]*ProgramState{initial.Signature(): initial}
	edgeCache := map[string]*StateTransition{}
	current := initial
	counter := 1

	for _, ev := range events {
		eventType := stringField(ev, "event_type", "type")
		symbol := stringField(ev, "symbol")
		address := stringField(ev, "address")

		next := &ProgramState{
			ID:        fmt.Sprintf("state_%d", counter),
			Timestamp: time.Now().UTC(),
			Type:      classifyState(eventType),
			Symbol:    symbol,
			Address:   address,
			ThreadID:  intField(ev, "thread_id"),
		}

		label := symbol
		if label == "" {
			label = eventType
		}

		if collapse {
			if existing, ok := bySignature[next.Signature()]; ok {
				key := current.ID + "->" + existing.ID
				if cached, ok := edgeCache[key]; ok {
					cached.Weight++
				} else {
					edge := &StateTransition{
						From:      current.ID,
						To:        existing.ID,
						EventType: eventType,
						Label:     label,
						Weight:    1,
					}
					graph.AddTransition(edge)
					edgeCache[key] = edge
				}
				current = existing
				continue
			}
			bySignature[next.Signature()] = next
		}

		graph.AddState(next)
		graph.AddTransition(&StateTransition{
			From:      current.ID,
			To:        next.ID,
			EventType: eventType,
			Label:     label,
			Weight:    1,
		})
		current = next
		counter++
	}

	return graph
}

func (r *Reconstructor) writeTimeline(jc *plugin.Context, tl *Timeline) (aether.Artifact, error) {
	path := jc.ArtifactPath("state_timeline.json")
	if err := plugin.WriteJSON(path, tl.toMap()); err != nil {
		return aether.Artifact{}, err
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactTimeline,
		Name:         "state_timeline.json",
		Description:  "Execution timeline",
		URI:          storage.FileURI(path),
		Meta: map[string]any{
			"duration_ms": tl.DurationMS,
			"event_count": len(tl.Events),
		},
	}, nil
}

func (r *Reconstructor) writeStateGraph(jc *plugin.Context, graph *StateGraph) (aether.Artifact, error) {
	path := jc.ArtifactPath("state_graph.json")
	if err := plugin.WriteJSON(path, graph.toMap()); err != nil {
		return aether.Artifact{}, err
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactGraph,
		Name:         "state_graph.json",
		Description:  "State transition graph",
		URI:          storage.FileURI(path),
		Meta: map[string]any{
			"states":      graph.StateCount(),
			"transitions": len(graph.Transitions),
		},
	}, nil
}

func (r *Reconstructor) writeGraphviz(jc *plugin.Context, graph *StateGraph) (aether.Artifact, error) {
	path := jc.ArtifactPath("state_graph.dot")
	if err := os.WriteFile(path, []byte(graph.DOT()), 0o644); err != nil {
		return aether.Artifact{}, fmt.Errorf("write %s: %w", path, err)
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactGraph,
		Name:         "state_graph.dot",
		Description:  "State graph in GraphViz DOT format",
		URI:          storage.FileURI(path),
	}, nil
}
