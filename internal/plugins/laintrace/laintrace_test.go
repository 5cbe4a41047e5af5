package laintrace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

func testManifest() *plugin.Manifest {
	return &plugin.Manifest{
		ID:           "laintrace",
		Name:         "LainTrace Dynamic Tracer",
		Version:      "1.0.0",
		Kind:         plugin.KindTracer,
		Capabilities: []string{"trace.dynamic"},
	}
}

func newContext(t *testing.T) *plugin.Context {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.exe")
	if err := os.WriteFile(target, []byte("MZ"), 0644); err != nil {
		t.Fatal(err)
	}
	artifacts := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artifacts, 0755); err != nil {
		t.Fatal(err)
	}
	return &plugin.Context{
		Job:          &aether.Job{ID: 7},
		TargetPath:   target,
		WorkspaceDir: dir,
		ArtifactsDir: artifacts,
		Pipeline:     map[string]any{},
	}
}

func TestValidate(t *testing.T) {
	tr := New(testManifest(), nil)
	jc := newContext(t)

	if err := tr.Validate(jc); err != nil {
		t.Fatalf("Validate() on file: %v", err)
	}

	// PID targets pass without a file behind them.
	jc.TargetPath = "/proc/12345"
	if err := tr.Validate(jc); err != nil {
		t.Fatalf("Validate() on PID: %v", err)
	}

	jc.TargetPath = filepath.Join(t.TempDir(), "gone.exe")
	var verr *plugin.ValidationError
	if err := tr.Validate(jc); !errors.As(err, &verr) {
		t.Fatalf("Validate() on missing target = %v, want *ValidationError", err)
	}

	jc.TargetPath = t.TempDir()
	if err := tr.Validate(jc); err == nil {
		t.Fatal("Validate() on directory should refuse")
	}
}

func TestProfiles(t *testing.T) {
	if len(hookProfiles["minimal"]) != 6 {
		t.Errorf("minimal hooks = %d, want 6", len(hookProfiles["minimal"]))
	}
	if len(hookProfiles["strict"]) != 16 {
		t.Errorf("strict hooks = %d, want 16", len(hookProfiles["strict"]))
	}
	if len(hookProfiles["comprehensive"]) != 24 {
		t.Errorf("comprehensive hooks = %d, want strict+8", len(hookProfiles["comprehensive"]))
	}
}

func TestRunEmitsPairedEvents(t *testing.T) {
	tr := New(testManifest(), map[string]any{"profile": "minimal", "timeout": 5})
	jc := newContext(t)

	res, err := tr.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Success {
		t.Fatal("Run() reported failure")
	}

	// trace_start plus four enter/exit pairs.
	if len(res.Events) != 9 {
		t.Fatalf("len(Events) = %d, want 9", len(res.Events))
	}
	start := res.Events[0]
	if start.Payload["action"] != "trace_start" || start.Payload["profile"] != "minimal" {
		t.Errorf("start event payload = %+v", start.Payload)
	}
	if start.Payload["hooks"] != 6 || start.Payload["timeout"] != 5 {
		t.Errorf("start event payload = %+v", start.Payload)
	}

	var seq int64
	for i := 1; i < len(res.Events); i++ {
		ev := res.Events[i]
		if ev.Sequence != seq {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Sequence, seq)
		}
		want := aether.EventHookEnter
		if i%2 == 0 {
			want = aether.EventHookExit
		}
		if ev.EventType != want {
			t.Errorf("event %d type = %s, want %s", i, ev.EventType, want)
		}
		if ev.Source != aether.SourceLaintrace || ev.JobID != 7 {
			t.Errorf("event %d = %+v", i, ev)
		}
		seq++
	}

	if res.Events[1].Address != "0x7ff800000000" || res.Events[2].Address != "0x7ff800010000" {
		t.Errorf("addresses = %q, %q", res.Events[1].Address, res.Events[2].Address)
	}
}

func TestRunFlagsInjectionCalls(t *testing.T) {
	tr := New(testManifest(), nil)
	jc := newContext(t)

	res, err := tr.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Title != "Suspicious API call: kernel32.VirtualAlloc" {
		t.Errorf("finding title = %q", f.Title)
	}
	if f.Category != aether.CategoryRuntimeHook || f.Severity != aether.SeverityHigh {
		t.Errorf("finding = %+v", f)
	}
	if f.Confidence != 0.85 {
		t.Errorf("confidence = %v", f.Confidence)
	}
}

func TestRunTraceLogArtifact(t *testing.T) {
	tr := New(testManifest(), map[string]any{"profile": "comprehensive"})
	jc := newContext(t)

	res, err := tr.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("len(Artifacts) = %d, want 1", len(res.Artifacts))
	}
	a := res.Artifacts[0]
	if a.Name != "trace_log.json" || a.Meta["events"] != 8 || a.Meta["profile"] != "comprehensive" {
		t.Errorf("artifact = %+v", a)
	}

	raw, err := os.ReadFile(jc.ArtifactPath("trace_log.json"))
	if err != nil {
		t.Fatalf("trace log not written: %v", err)
	}
	var log struct {
		Plugin  string `json:"plugin"`
		Profile string `json:"profile"`
		Events  []struct {
			Type   string `json:"type"`
			Symbol string `json:"symbol"`
		} `json:"events"`
	}
	if err := json.Unmarshal(raw, &log); err != nil {
		t.Fatal(err)
	}
	if log.Plugin != "laintrace" || log.Profile != "comprehensive" || len(log.Events) != 8 {
		t.Errorf("trace log = %+v", log)
	}
	if log.Events[0].Type != "hook_enter" || log.Events[0].Symbol != "kernel32.CreateFileW" {
		t.Errorf("first logged event = %+v", log.Events[0])
	}
}

func TestRunContextDataHandsOffEvents(t *testing.T) {
	tr := New(testManifest(), nil)
	jc := newContext(t)

	res, err := tr.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	events, ok := res.ContextData["trace_events"].([]map[string]any)
	if !ok {
		t.Fatalf("trace_events = %T", res.ContextData["trace_events"])
	}
	if len(events) != 8 {
		t.Fatalf("len(trace_events) = %d, want 8", len(events))
	}
	first := events[0]
	if first["event_type"] != "hook_enter" || first["symbol"] != "kernel32.CreateFileW" {
		t.Errorf("first context event = %+v", first)
	}
	if _, ok := first["timestamp"].(string); !ok {
		t.Errorf("timestamp = %T, want RFC3339 string", first["timestamp"])
	}
}

func TestIsPID(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"12345", true},
		{"0", true},
		{"", false},
		{"12a45", false},
		{"sample.exe", false},
	}
	for _, tc := range cases {
		if got := isPID(tc.in); got != tc.want {
			t.Errorf("isPID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
