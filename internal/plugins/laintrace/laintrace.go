// Package laintrace implements the dynamic tracing plugin. It hooks a
// target process with one of three instrumentation profiles and streams
// hook_enter/hook_exit trace events. The collector is currently a
// simulation: it emits a representative API call sequence instead of
// attaching a real instrumentation agent, but the event shapes, the
// trace log artifact, and the context handoff to downstream stages are
// the production contract.
package laintrace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/storage"
)

// hookProfiles map profile names to the API sets they instrument.
var hookProfiles = map[string][]string{
	"minimal": {
		"kernel32.CreateFileW",
		"kernel32.WriteFile",
		"kernel32.ReadFile",
		"ws2_32.connect",
		"ws2_32.send",
		"ws2_32.recv",
	},
	"strict": {
		// File operations
		"kernel32.CreateFileW",
		"kernel32.WriteFile",
		"kernel32.ReadFile",
		"kernel32.DeleteFileW",
		// Process operations
		"kernel32.CreateProcessW",
		"kernel32.OpenProcess",
		"kernel32.VirtualAllocEx",
		"kernel32.WriteProcessMemory",
		"ntdll.NtCreateThreadEx",
		// Registry
		"advapi32.RegOpenKeyExW",
		"advapi32.RegSetValueExW",
		// Network
		"ws2_32.connect",
		"ws2_32.send",
		"ws2_32.recv",
		"winhttp.WinHttpOpen",
		"winhttp.WinHttpConnect",
	},
}

// comprehensiveExtras extend the strict profile.
var comprehensiveExtras = []string{
	"ntdll.NtAllocateVirtualMemory",
	"ntdll.NtProtectVirtualMemory",
	"ntdll.NtWriteVirtualMemory",
	"ntdll.NtQueryInformationProcess",
	"kernel32.LoadLibraryW",
	"kernel32.GetProcAddress",
	"crypt32.CryptEncrypt",
	"crypt32.CryptDecrypt",
}

func init() {
	strict := hookProfiles["strict"]
	comprehensive := make([]string, 0, len(strict)+len(comprehensiveExtras))
	comprehensive = append(comprehensive, strict...)
	comprehensive = append(comprehensive, comprehensiveExtras...)
	hookProfiles["comprehensive"] = comprehensive
}

// injectionSymbols flag runtime calls typical for process injection.
var injectionSymbols = []string{"virtualalloc", "writeprocess", "createthread"}

// Tracer is the laintrace plugin instance.
type Tracer struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Tracer{Base: plugin.NewBase(m, config)}
}

// Validate accepts an existing file to spawn or a numeric PID to
// attach to.
func (t *Tracer) Validate(jc *plugin.Context) error {
	if isPID(filepath.Base(jc.TargetPath)) {
		return nil
	}
	info, err := os.Stat(jc.TargetPath)
	if err != nil {
		return &plugin.ValidationError{PluginID: t.ID(), Reason: fmt.Sprintf("target not found: %s", jc.TargetPath)}
	}
	if info.IsDir() {
		return &plugin.ValidationError{PluginID: t.ID(), Reason: "target must be a file or PID"}
	}
	return nil
}

func isPID(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Run collects the trace, flags suspicious runtime calls, and writes
// the trace log.
func (t *Tracer) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	profile := t.ConfigString("profile", "strict")
	timeout := t.ConfigInt("timeout", 60)

	hooks, ok := hookProfiles[profile]
	if !ok {
		hooks = hookProfiles["strict"]
	}

	res := &plugin.Result{Success: true}
	res.Events = append(res.Events, aether.TraceEvent{
		JobID:     jc.Job.ID,
		TS:        time.Now().UTC(),
		Source:    aether.SourceLaintrace,
		EventType: aether.EventInfo,
		Payload: map[string]any{
			"action":  "trace_start",
			"profile": profile,
			"hooks":   len(hooks),
			"timeout": timeout,
		},
	})

	traced := simulateTrace(jc.Job.ID)
	res.Events = append(res.Events, traced...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, ev := range traced {
		if ev.EventType != aether.EventHookEnter && ev.EventType != aether.EventSyscallEnter {
			continue
		}
		symbol := ev.Symbol
		if symbol == "" {
			symbol = "unknown"
		}
		if !suspiciousSymbol(symbol) {
			continue
		}
		payloadJSON, _ := json.Marshal(ev.Payload)
		res.Findings = append(res.Findings, aether.Finding{
			JobID:       jc.Job.ID,
			Severity:    aether.SeverityHigh,
			Category:    aether.CategoryRuntimeHook,
			Title:       fmt.Sprintf("Suspicious API call: %s", symbol),
			Description: fmt.Sprintf("Runtime call to %s detected", symbol),
			Evidence: []aether.Evidence{{
				Type:     "function",
				Location: ev.Address,
				Value:    string(payloadJSON),
			}},
			Confidence: 0.85,
			Tags:       []string{"laintrace", "runtime", "suspicious"},
		})
	}

	artifact, err := t.writeTraceLog(jc, profile, traced)
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, artifact)

	contextEvents := make([]map[string]any, 0, len(traced))
	for _, ev := range traced {
		contextEvents = append(contextEvents, map[string]any{
			"timestamp":  ev.TS.Format(time.RFC3339Nano),
			"event_type": string(ev.EventType),
			"symbol":     ev.Symbol,
			"address":    ev.Address,
			"payload":    ev.Payload,
		})
	}
	res.ContextData = map[string]any{"trace_events": contextEvents}
	return res, nil
}

func suspiciousSymbol(symbol string) bool {
	lower := strings.ToLower(symbol)
	for _, s := range injectionSymbols {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// simulatedCalls is the representative API sequence the stub collector
// replays.
var simulatedCalls = []struct {
	symbol string
	args   map[string]any
}{
	{"kernel32.CreateFileW", map[string]any{"path": `C:\Windows\System32\config.ini`}},
	{"kernel32.ReadFile", map[string]any{"handle": 0x100, "bytes": 1024}},
	{"ws2_32.connect", map[string]any{"ip": "192.168.1.1", "port": 443}},
	{"kernel32.VirtualAlloc", map[string]any{"size": 4096, "protect": "PAGE_EXECUTE_READWRITE"}},
}

// simulateTrace replays the canned call sequence as paired
// hook_enter/hook_exit events with per-job sequence numbers.
func simulateTrace(jobID int64) []aether.TraceEvent {
	events := make([]aether.TraceEvent, 0, len(simulatedCalls)*2)
	var sequence int64

	for _, call := range simulatedCalls {
		events = append(events, aether.TraceEvent{
			JobID:     jobID,
			TS:        time.Now().UTC(),
			Source:    aether.SourceLaintrace,
			EventType: aether.EventHookEnter,
			Symbol:    call.symbol,
			Address:   fmt.Sprintf("0x7ff8%04x0000", sequence),
			Payload:   map[string]any{"args": call.args},
			Sequence:  sequence,
		})
		sequence++

		events = append(events, aether.TraceEvent{
			JobID:     jobID,
			TS:        time.Now().UTC(),
			Source:    aether.SourceLaintrace,
			EventType: aether.EventHookExit,
			Symbol:    call.symbol,
			Address:   fmt.Sprintf("0x7ff8%04x0000", sequence),
			Payload:   map[string]any{"return": 0},
			Sequence:  sequence,
		})
		sequence++
	}
	return events
}

// loggedEvent is the trace log projection of an event.
type loggedEvent struct {
	TS      time.Time      `json:"ts"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Symbol  string         `json:"symbol"`
	Address string         `json:"address"`
	Payload map[string]any `json:"payload"`
}

func (t *Tracer) writeTraceLog(jc *plugin.Context, profile string, traced []aether.TraceEvent) (aether.Artifact, error) {
	logged := make([]loggedEvent, 0, len(traced))
	for _, ev := range traced {
		logged = append(logged, loggedEvent{
			TS:      ev.TS,
			Type:    string(ev.EventType),
			Source:  string(ev.Source),
			Symbol:  ev.Symbol,
			Address: ev.Address,
			Payload: ev.Payload,
		})
	}

	traceLog := map[string]any{
		"plugin":  t.ID(),
		"version": t.Version(),
		"target":  jc.TargetPath,
		"profile": profile,
		"events":  logged,
	}

	path := jc.ArtifactPath("trace_log.json")
	if err := plugin.WriteJSON(path, traceLog); err != nil {
		return aether.Artifact{}, err
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactJSON,
		Name:         "trace_log.json",
		Description:  "LainTrace execution trace",
		URI:          storage.FileURI(path),
		Meta:         map[string]any{"events": len(traced), "profile": profile},
	}, nil
}
