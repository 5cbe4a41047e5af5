package aether

import "time"

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the declared severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// severityRank orders severities for comparisons. Unknown values rank lowest.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Category classifies what a finding is about. The set is open at the store
// level but plugins stick to these declared values.
type Category string

const (
	// Anti-analysis
	CategoryAntiDebug    Category = "anti-debug"
	CategoryAntiVM       Category = "anti-vm"
	CategoryAntiFrida    Category = "anti-frida"
	CategoryAntiEmulator Category = "anti-emulator"
	CategoryPacking      Category = "packing"
	CategoryObfuscation  Category = "obfuscation"
	CategoryTimingCheck  Category = "timing-check"

	// Differential
	CategoryBinaryDiff     Category = "binary-diff"
	CategoryFunctionChange Category = "function-change"
	CategoryNewCode        Category = "new-code"
	CategoryRemovedCode    Category = "removed-code"
	CategoryRiskDelta      Category = "risk-delta"

	// Memory / state
	CategoryMemoryAnomaly   Category = "memory-anomaly"
	CategoryStateTransition Category = "state-transition"
	CategoryHeapSpray       Category = "heap-spray"
	CategoryStackPivot      Category = "stack-pivot"

	// Intent
	CategoryIntentMalicious    Category = "intent-malicious"
	CategoryIntentEvasive      Category = "intent-evasive"
	CategoryIntentPersistence  Category = "intent-persistence"
	CategoryIntentExfiltration Category = "intent-exfiltration"
	CategoryIntentExploitation Category = "intent-exploitation"

	// Runtime
	CategoryRuntimeHook    Category = "runtime-hook"
	CategorySyscallAnomaly Category = "syscall-anomaly"

	// Generic
	CategoryStatic    Category = "static"
	CategoryDynamic   Category = "dynamic"
	CategoryHeuristic Category = "heuristic"
)

// Evidence is one supporting record attached to a finding.
type Evidence struct {
	Type      string `json:"type"`
	Location  string `json:"location,omitempty"`
	Value     any    `json:"value,omitempty"`
	Context   string `json:"context,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Finding is a security-relevant observation produced by one pipeline stage.
// Findings exist only in the context of a job.
type Finding struct {
	ID          int64      `json:"id"`
	JobID       int64      `json:"job_id"`
	PluginID    string     `json:"plugin_id"`
	Stage       string     `json:"stage"`
	Severity    Severity   `json:"severity"`
	Category    Category   `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	Confidence  float64    `json:"confidence"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
