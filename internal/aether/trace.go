package aether

import "time"

// EventSource names the producer of a trace event.
type EventSource string

const (
	SourceLaintrace    EventSource = "laintrace"
	SourceMnemosyne    EventSource = "mnemosyne"
	SourceUmbriel      EventSource = "umbriel"
	SourceValkyrie     EventSource = "valkyrie"
	SourceNoema        EventSource = "noema"
	SourceOrchestrator EventSource = "orchestrator"
	SourcePlugin       EventSource = "plugin"
)

// EventType enumerates the trace event vocabulary shared by the executor and
// the dynamic-analysis plugins.
type EventType string

const (
	// Hooking
	EventHookEnter EventType = "hook_enter"
	EventHookExit  EventType = "hook_exit"

	// State reconstruction
	EventStateInit     EventType = "state_init"
	EventStateChange   EventType = "state_change"
	EventStateSnapshot EventType = "state_snapshot"

	// Memory
	EventMemoryRead    EventType = "memory_read"
	EventMemoryWrite   EventType = "memory_write"
	EventMemoryAlloc   EventType = "memory_alloc"
	EventMemoryFree    EventType = "memory_free"
	EventMemoryProtect EventType = "memory_protect"

	// Syscalls
	EventSyscallEnter EventType = "syscall_enter"
	EventSyscallExit  EventType = "syscall_exit"

	// Metrics
	EventMetricCounter EventType = "metric_counter"
	EventMetricGauge   EventType = "metric_gauge"

	// Pipeline lifecycle
	EventStageStart    EventType = "stage_start"
	EventStageComplete EventType = "stage_complete"
	EventStageError    EventType = "stage_error"

	// Generic
	EventInfo    EventType = "info"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
)

// TraceEvent is one time-stamped observation contributing to a job's
// execution trace. Within a job, events are totally ordered by (ts, sequence);
// sequence is assigned monotonically per job at persist time when unset.
type TraceEvent struct {
	ID        int64          `json:"id"`
	JobID     int64          `json:"job_id"`
	TS        time.Time      `json:"ts"`
	Source    EventSource    `json:"source"`
	EventType EventType      `json:"event_type"`
	Symbol    string         `json:"symbol,omitempty"`
	Address   string         `json:"address,omitempty"` // hex string
	ThreadID  int            `json:"thread_id,omitempty"`
	ProcessID int            `json:"process_id,omitempty"`
	Sequence  int64          `json:"sequence"`
	Payload   map[string]any `json:"payload,omitempty"`
}
