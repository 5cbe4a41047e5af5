package mnemosyne

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StateType classifies a reconstructed program state.
type StateType string

const (
	StateInitial     StateType = "initial"
	StateRunning     StateType = "running"
	StateSyscall     StateType = "syscall"
	StateLibraryCall StateType = "library_call"
	StateMemoryOp    StateType = "memory_op"
	StateException   StateType = "exception"
	StateTerminal    StateType = "terminal"
)

// ProgramState is a snapshot of the traced program at one point in time.
type ProgramState struct {
	ID        string
	Timestamp time.Time
	Type      StateType
	Symbol    string
	Address   string
	ThreadID  int
}

// Signature keys states for loop collapsing. Two observations of the
// same call site fold into one node.
func (s *ProgramState) Signature() string {
	ref := s.Symbol
	if ref == "" {
		ref = s.Address
	}
	sum := md5.Sum([]byte(string(s.Type) + ":" + ref))
	return hex.EncodeToString(sum[:])[:12]
}

// StateTransition is a directed edge between two program states.
// Weight counts collapsed repeats of the same edge.
type StateTransition struct {
	From      string
	To        string
	EventType string
	Label     string
	Weight    int
}

// StateGraph is the reconstructed state transition graph. States keep
// insertion order so serialized output is stable.
type StateGraph struct {
	states      map[string]*ProgramState
	order       []string
	Transitions []*StateTransition
	Initial     string
	Terminal    []string
}

func NewStateGraph() *StateGraph {
	return &StateGraph{states: map[string]*ProgramState{}}
}

func (g *StateGraph) AddState(s *ProgramState) {
	if _, ok := g.states[s.ID]; !ok {
		g.order = append(g.order, s.ID)
	}
	g.states[s.ID] = s
	if s.Type == StateInitial && g.Initial == "" {
		g.Initial = s.ID
	}
	if s.Type == StateTerminal {
		g.Terminal = append(g.Terminal, s.ID)
	}
}

func (g *StateGraph) AddTransition(t *StateTransition) {
	g.Transitions = append(g.Transitions, t)
}

// State returns the state with the given ID, or nil.
func (g *StateGraph) State(id string) *ProgramState { return g.states[id] }

func (g *StateGraph) StateCount() int { return len(g.states) }

func (g *StateGraph) toMap() map[string]any {
	states := make(map[string]any, len(g.states))
	for _, id := range g.order {
		s := g.states[id]
		states[id] = map[string]any{
			"id":        s.ID,
			"type":      string(s.Type),
			"symbol":    s.Symbol,
			"address":   s.Address,
			"thread_id": s.ThreadID,
			"timestamp": s.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	transitions := make([]map[string]any, 0, len(g.Transitions))
	for _, t := range g.Transitions {
		transitions = append(transitions, map[string]any{
			"from":   t.From,
			"to":     t.To,
			"type":   t.EventType,
			"label":  t.Label,
			"weight": t.Weight,
		})
	}

	terminal := g.Terminal
	if terminal == nil {
		terminal = []string{}
	}
	return map[string]any{
		"states":      states,
		"transitions": transitions,
		"initial":     g.Initial,
		"terminal":    terminal,
	}
}

var stateColors = map[StateType]string{
	StateInitial:     "green",
	StateTerminal:    "red",
	StateSyscall:     "orange",
	StateLibraryCall: "blue",
	StateMemoryOp:    "purple",
}

func stateColor(t StateType) string {
	if c, ok := stateColors[t]; ok {
		return c
	}
	return "gray"
}

// DOT renders the graph in GraphViz DOT format.
func (g *StateGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph StateGraph {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box, style=rounded];\n")

	for _, id := range g.order {
		s := g.states[id]
		label := s.Symbol
		if label == "" {
			label = s.Address
		}
		if label == "" {
			label = s.ID
		}
		fmt.Fprintf(&b, "  %q [label=%q, color=%s];\n", s.ID, label, stateColor(s.Type))
	}

	for _, t := range g.Transitions {
		label := t.Label
		if label == "" {
			label = t.EventType
		}
		if t.Weight > 1 {
			label += fmt.Sprintf(" (x%d)", t.Weight)
		}
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", t.From, t.To, label)
	}

	b.WriteString("}\n")
	return b.String()
}

// timelineEvent is a trace event normalized for the timeline artifact.
type timelineEvent struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Symbol    string         `json:"symbol,omitempty"`
	Address   string         `json:"address,omitempty"`
	ThreadID  int            `json:"thread_id"`
	Payload   map[string]any `json:"payload"`

	ts time.Time
}

// Timeline is the per-job execution timeline assembled from trace
// events of any source.
type Timeline struct {
	Events     []timelineEvent
	Start      time.Time
	End        time.Time
	DurationMS int64

	threads map[int]int
}

func NewTimeline() *Timeline {
	return &Timeline{threads: map[int]int{}}
}

func (tl *Timeline) Add(ev timelineEvent) {
	tl.Events = append(tl.Events, ev)
	if !ev.ts.IsZero() {
		if tl.Start.IsZero() || ev.ts.Before(tl.Start) {
			tl.Start = ev.ts
		}
		if tl.End.IsZero() || ev.ts.After(tl.End) {
			tl.End = ev.ts
		}
	}
	tl.threads[ev.ThreadID]++
}

// Finalize computes the duration and orders events by time. Events
// without a parsable timestamp sort by their raw timestamp string.
func (tl *Timeline) Finalize() {
	if !tl.Start.IsZero() && !tl.End.IsZero() {
		tl.DurationMS = tl.End.Sub(tl.Start).Milliseconds()
	}
	sort.SliceStable(tl.Events, func(i, j int) bool {
		a, b := tl.Events[i], tl.Events[j]
		if !a.ts.IsZero() && !b.ts.IsZero() && !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		return a.Timestamp < b.Timestamp
	})
}

func (tl *Timeline) ThreadCount() int { return len(tl.threads) }

func (tl *Timeline) toMap() map[string]any {
	events := tl.Events
	if events == nil {
		events = []timelineEvent{}
	}
	m := map[string]any{
		"start_time":   nil,
		"end_time":     nil,
		"duration_ms":  tl.DurationMS,
		"event_count":  len(tl.Events),
		"thread_count": tl.ThreadCount(),
		"events":       events,
	}
	if !tl.Start.IsZero() {
		m["start_time"] = tl.Start.UTC().Format(time.RFC3339Nano)
	}
	if !tl.End.IsZero() {
		m["end_time"] = tl.End.UTC().Format(time.RFC3339Nano)
	}
	return m
}
