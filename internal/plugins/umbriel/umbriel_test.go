package umbriel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

func testManifest() *plugin.Manifest {
	return &plugin.Manifest{
		ID:           "umbriel",
		Name:         "Umbriel Anti-Analysis Detector",
		Version:      "1.0.0",
		Kind:         plugin.KindDetector,
		Capabilities: []string{"anti_analysis.scan", "anti_analysis.entropy"},
	}
}

// newContext writes content as the target binary and prepares an
// artifacts directory.
func newContext(t *testing.T, content []byte) *plugin.Context {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.bin")
	if err := os.WriteFile(target, content, 0644); err != nil {
		t.Fatal(err)
	}
	artifacts := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artifacts, 0755); err != nil {
		t.Fatal(err)
	}
	return &plugin.Context{
		Job:          &aether.Job{ID: 1},
		TargetPath:   target,
		WorkspaceDir: dir,
		ArtifactsDir: artifacts,
		Pipeline:     map[string]any{},
	}
}

// evasivePayload carries one anti-debug, one anti-VM and one
// anti-Frida marker surrounded by pattern-free padding.
func evasivePayload() []byte {
	var buf bytes.Buffer
	pad := bytes.Repeat([]byte{0x00}, 64)
	buf.Write(pad)
	buf.WriteString("IsDebuggerPresent")
	buf.Write(pad)
	buf.WriteString("VMware")
	buf.Write(pad)
	buf.WriteString("frida-agent")
	buf.Write(pad)
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	d := New(testManifest(), nil)
	jc := newContext(t, []byte("harmless"))

	if err := d.Validate(jc); err != nil {
		t.Fatalf("Validate() on regular file: %v", err)
	}

	jc.TargetPath = filepath.Join(t.TempDir(), "missing.bin")
	err := d.Validate(jc)
	var verr *plugin.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() on missing file = %v, want *ValidationError", err)
	}

	jc.TargetPath = t.TempDir()
	if err := d.Validate(jc); err == nil {
		t.Fatal("Validate() on directory should refuse")
	}
}

func TestRunDetectsSignatures(t *testing.T) {
	d := New(testManifest(), map[string]any{"mode": "fast", "skip_entropy": true})
	jc := newContext(t, evasivePayload())

	res, err := d.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Success {
		t.Fatal("Run() reported failure")
	}
	if len(res.Findings) != 3 {
		t.Fatalf("len(Findings) = %d, want 3: %+v", len(res.Findings), res.Findings)
	}

	byCategory := map[aether.Category]aether.Finding{}
	for _, f := range res.Findings {
		byCategory[f.Category] = f
	}
	ad, ok := byCategory[aether.CategoryAntiDebug]
	if !ok {
		t.Fatal("missing anti-debug finding")
	}
	if ad.Title != "IsDebuggerPresent detected" {
		t.Errorf("anti-debug title = %q", ad.Title)
	}
	if len(ad.Evidence) != 1 || ad.Evidence[0].Type != "bytes" {
		t.Errorf("anti-debug evidence = %+v", ad.Evidence)
	}
	if ad.Evidence[0].Context != "Signature ID: AD001" {
		t.Errorf("evidence context = %q", ad.Evidence[0].Context)
	}
	if _, ok := byCategory[aether.CategoryAntiVM]; !ok {
		t.Error("missing anti-vm finding")
	}
	if _, ok := byCategory[aether.CategoryAntiFrida]; !ok {
		t.Error("missing anti-frida finding")
	}

	// Three categories: (0.7*0.9 + 0.7*0.9 + 1.0*0.9)/10 + 0.2 = 0.42.
	if math.Abs(res.RiskScore-0.42) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.42", res.RiskScore)
	}

	ctxData := res.ContextData
	if ctxData["has_anti_debug"] != true || ctxData["has_anti_vm"] != true || ctxData["has_anti_frida"] != true {
		t.Errorf("context flags = %+v", ctxData)
	}
	if ctxData["is_packed"] != false {
		t.Errorf("is_packed = %v, want false", ctxData["is_packed"])
	}
	if ctxData["detection_count"] != 3 {
		t.Errorf("detection_count = %v, want 3", ctxData["detection_count"])
	}

	if len(res.Events) != 1 || res.Events[0].Payload["action"] != "scan_start" {
		t.Errorf("events = %+v, want single scan_start", res.Events)
	}
}

func TestRunSkipVMChecks(t *testing.T) {
	d := New(testManifest(), map[string]any{"skip_entropy": true, "skip_vm_checks": true, "mode": "fast"})
	jc := newContext(t, evasivePayload())

	res, err := d.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, f := range res.Findings {
		if f.Category == aether.CategoryAntiVM {
			t.Errorf("anti-vm finding present despite skip_vm_checks: %+v", f)
		}
	}
	if len(res.Findings) != 2 {
		t.Errorf("len(Findings) = %d, want 2", len(res.Findings))
	}
}

func TestRunEntropyProfile(t *testing.T) {
	// Every byte value equally often: entropy is exactly 8.
	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	d := New(testManifest(), map[string]any{"mode": "thorough"})
	jc := newContext(t, payload)

	res, err := d.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var overall, section bool
	for _, f := range res.Findings {
		switch {
		case f.Title == "High entropy detected":
			overall = true
			if f.Severity != aether.SeverityHigh || f.Category != aether.CategoryPacking {
				t.Errorf("entropy finding = %+v", f)
			}
		case len(f.Title) > 20 && f.Title[:20] == "High entropy section":
			section = true
		}
	}
	if !overall {
		t.Error("missing overall high-entropy finding")
	}
	if !section {
		t.Error("missing section entropy finding in thorough mode")
	}

	if res.ContextData["is_packed"] != true {
		t.Error("is_packed should be true for high-entropy binary")
	}

	names := map[string]bool{}
	for _, a := range res.Artifacts {
		names[a.Name] = true
	}
	if !names["anti_analysis_report.json"] || !names["entropy_profile.json"] {
		t.Fatalf("artifacts = %v, want report and entropy profile", names)
	}
}

func TestRunFastModeSkipsSections(t *testing.T) {
	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	d := New(testManifest(), map[string]any{"mode": "fast"})
	jc := newContext(t, payload)

	res, err := d.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, a := range res.Artifacts {
		if a.Name == "entropy_profile.json" {
			t.Error("fast mode should not emit entropy_profile.json")
		}
	}
}

func TestReportArtifactContents(t *testing.T) {
	d := New(testManifest(), map[string]any{"mode": "fast", "skip_entropy": true})
	jc := newContext(t, evasivePayload())

	res, err := d.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("len(Artifacts) = %d, want 1", len(res.Artifacts))
	}
	a := res.Artifacts[0]
	if a.URI != "file://"+jc.ArtifactPath("anti_analysis_report.json") {
		t.Errorf("artifact URI = %q", a.URI)
	}

	raw, err := os.ReadFile(jc.ArtifactPath("anti_analysis_report.json"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var report struct {
		Plugin  string `json:"plugin"`
		Summary struct {
			TotalFindings int `json:"total_findings"`
		} `json:"summary"`
		Findings []json.RawMessage `json:"findings"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.Plugin != "umbriel" {
		t.Errorf("report.plugin = %q", report.Plugin)
	}
	if report.Summary.TotalFindings != 3 || len(report.Findings) != 3 {
		t.Errorf("report findings = %d/%d, want 3/3", report.Summary.TotalFindings, len(report.Findings))
	}
}

func TestRiskScore(t *testing.T) {
	if got := riskScore(nil); got != 0 {
		t.Errorf("riskScore(nil) = %v, want 0", got)
	}

	// Single medium finding: 0.4*0.5/10 = 0.02.
	one := []aether.Finding{{Severity: aether.SeverityMedium, Category: aether.CategoryPacking, Confidence: 0.5}}
	if got := riskScore(one); math.Abs(got-0.02) > 1e-9 {
		t.Errorf("riskScore(one medium) = %v, want 0.02", got)
	}

	// Many criticals cap at 1.0.
	var many []aether.Finding
	for i := 0; i < 30; i++ {
		many = append(many, aether.Finding{Severity: aether.SeverityCritical, Category: aether.CategoryAntiDebug, Confidence: 1})
	}
	if got := riskScore(many); got != 1.0 {
		t.Errorf("riskScore(many criticals) = %v, want 1.0", got)
	}
}
