package mnemosyne

import (
	"fmt"
	"strings"

	"github.com/aetherframe/aetherframe/internal/aether"
)

// heapSprayThreshold is the same-size allocation count at which the
// spray heuristic fires.
const heapSprayThreshold = 100

// largeAllocBytes flags single allocations above 1MB.
const largeAllocBytes = 0x100000

// anomalyDetector scans trace events for memory abuse patterns. It is
// stateful across one job's event stream.
type anomalyDetector struct {
	sameSizeCounts map[int]int
}

func newAnomalyDetector() *anomalyDetector {
	return &anomalyDetector{sameSizeCounts: map[int]int{}}
}

// processEvent inspects one event and returns a finding when it
// completes an anomaly pattern.
func (d *anomalyDetector) processEvent(ev map[string]any, jobID int64) *aether.Finding {
	switch stringField(ev, "event_type", "type") {
	case string(aether.EventMemoryAlloc):
		return d.checkAllocation(ev, jobID)
	case string(aether.EventMemoryProtect):
		return d.checkProtection(ev, jobID)
	case string(aether.EventHookEnter), string(aether.EventSyscallEnter):
		return d.checkSuspiciousCall(ev, jobID)
	}
	return nil
}

// checkAllocation counts same-size allocations, a heap spray indicator.
func (d *anomalyDetector) checkAllocation(ev map[string]any, jobID int64) *aether.Finding {
	payload := payloadOf(ev)
	size := intField(payload, "size")

	d.sameSizeCounts[size]++
	if d.sameSizeCounts[size] < heapSprayThreshold {
		return nil
	}
	return &aether.Finding{
		JobID:       jobID,
		Severity:    aether.SeverityHigh,
		Category:    aether.CategoryHeapSpray,
		Title:       "Potential heap spray detected",
		Description: fmt.Sprintf("%d allocations of size %d", d.sameSizeCounts[size], size),
		Evidence: []aether.Evidence{{
			Type:  "pattern",
			Value: fmt.Sprintf("size=%d, count=%d", size, d.sameSizeCounts[size]),
		}},
		Confidence: 0.75,
		Tags:       []string{"mnemosyne", "heap-spray", "memory"},
	}
}

// checkProtection flags writable+executable protection changes.
func (d *anomalyDetector) checkProtection(ev map[string]any, jobID int64) *aether.Finding {
	payload := payloadOf(ev)
	prot := stringField(payload, "protection")
	address := intField(payload, "address")

	lower := strings.ToLower(prot)
	if !strings.Contains(lower, "rwx") && !(strings.Contains(lower, "w") && strings.Contains(lower, "x")) {
		return nil
	}
	return &aether.Finding{
		JobID:       jobID,
		Severity:    aether.SeverityHigh,
		Category:    aether.CategoryMemoryAnomaly,
		Title:       "RWX memory region detected",
		Description: fmt.Sprintf("Memory at 0x%x changed to %s", address, prot),
		Evidence: []aether.Evidence{{
			Type:     "address",
			Location: fmt.Sprintf("0x%x", address),
			Value:    prot,
		}},
		Confidence: 0.85,
		Tags:       []string{"mnemosyne", "rwx", "shellcode"},
	}
}

// checkSuspiciousCall flags oversized allocations through the known
// allocator entry points.
func (d *anomalyDetector) checkSuspiciousCall(ev map[string]any, jobID int64) *aether.Finding {
	symbol := stringField(ev, "symbol")
	switch symbol {
	case "VirtualAlloc", "VirtualAllocEx", "mmap":
	default:
		return nil
	}

	size := firstArgInt(payloadOf(ev))
	if size <= largeAllocBytes {
		return nil
	}
	return &aether.Finding{
		JobID:       jobID,
		Severity:    aether.SeverityMedium,
		Category:    aether.CategoryMemoryAnomaly,
		Title:       fmt.Sprintf("Large memory allocation: %s", symbol),
		Description: fmt.Sprintf("Allocating %d bytes via %s", size, symbol),
		Evidence: []aether.Evidence{{
			Type:     "function",
			Location: symbol,
			Value:    fmt.Sprintf("size=%d", size),
		}},
		Confidence: 0.6,
		Tags:       []string{"mnemosyne", "large-alloc"},
	}
}

// firstArgInt reads the first positional argument of a call payload.
// Payloads with named or absent argument lists yield zero.
func firstArgInt(payload map[string]any) int {
	args, ok := payload["args"].([]any)
	if !ok || len(args) == 0 {
		return 0
	}
	switch v := args[0].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
