package valkyrie

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeType classifies one function-level difference.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// highRiskAPIs maps suspicious API names to risk weights.
var highRiskAPIs = map[string]float64{
	// Process manipulation
	"CreateRemoteThread":   0.9,
	"VirtualAllocEx":       0.8,
	"WriteProcessMemory":   0.9,
	"NtUnmapViewOfSection": 0.9,
	"SetThreadContext":     0.8,
	// Code injection
	"LoadLibrary":    0.5,
	"GetProcAddress": 0.4,
	// Privilege escalation
	"AdjustTokenPrivileges": 0.7,
	"OpenProcessToken":      0.6,
	// Persistence
	"RegSetValueEx": 0.5,
	"CreateService": 0.7,
	// Network
	"WSAStartup": 0.4,
	"connect":    0.4,
	"send":       0.3,
	"recv":       0.3,
	// Crypto
	"CryptEncrypt": 0.6,
	"CryptDecrypt": 0.6,
	// File system
	"DeleteFile": 0.4,
	"MoveFile":   0.3,
}

// highRiskAPIOrder fixes the scan order for import extraction.
var highRiskAPIOrder = []string{
	"CreateRemoteThread", "VirtualAllocEx", "WriteProcessMemory",
	"NtUnmapViewOfSection", "SetThreadContext", "LoadLibrary",
	"GetProcAddress", "AdjustTokenPrivileges", "OpenProcessToken",
	"RegSetValueEx", "CreateService", "WSAStartup", "connect", "send",
	"recv", "CryptEncrypt", "CryptDecrypt", "DeleteFile", "MoveFile",
}

// highRiskStrings maps suspicious string fragments to risk weights.
var highRiskStrings = map[string]float64{
	"cmd.exe":    0.5,
	"powershell": 0.6,
	"/bin/sh":    0.5,
	"password":   0.3,
	"encrypt":    0.4,
	"decrypt":    0.4,
	"ransom":     0.9,
	"bitcoin":    0.6,
	".onion":     0.7,
}

// FunctionDiff is one function-level change between two binaries.
type FunctionDiff struct {
	Name             string     `json:"name"`
	ChangeType       ChangeType `json:"change_type"`
	OldFunction      *Function  `json:"-"`
	NewFunction      *Function  `json:"-"`
	SizeDelta        int        `json:"size_delta"`
	InstructionDelta int        `json:"instruction_delta"`
	CallChanges      []string   `json:"call_changes,omitempty"`
	RiskScore        float64    `json:"risk_score"`
	RiskReasons      []string   `json:"risk_reasons"`
}

// DiffSummary counts changes by kind.
type DiffSummary struct {
	Added          int `json:"added"`
	Removed        int `json:"removed"`
	Modified       int `json:"modified"`
	TotalChanges   int `json:"total_changes"`
	AddedImports   int `json:"added_imports"`
	RemovedImports int `json:"removed_imports"`
}

// DiffResult is the complete comparison of two binaries.
type DiffResult struct {
	OldBinary      *BinaryMetadata
	NewBinary      *BinaryMetadata
	FunctionDiffs  []FunctionDiff
	AddedImports   []string
	RemovedImports []string
	OverallRisk    float64
	Summary        DiffSummary
}

// functionRisk scores one diff: new code is inherently suspicious,
// grown or restructured code less so, removed code least. Suspicious
// APIs and strings referenced by the changed code raise the score.
func functionRisk(d *FunctionDiff) (float64, []string) {
	var risk float64
	var reasons []string

	switch d.ChangeType {
	case ChangeAdded:
		risk += 0.3
		reasons = append(reasons, "New function added")
		if d.NewFunction != nil {
			for _, call := range d.NewFunction.Calls {
				base := callBase(call)
				if w, ok := highRiskAPIs[base]; ok {
					risk += w * 0.5
					reasons = append(reasons, fmt.Sprintf("Suspicious API: %s", base))
				}
			}
			for _, s := range d.NewFunction.Strings {
				lower := strings.ToLower(s)
				for _, pattern := range riskStringOrder {
					if strings.Contains(lower, pattern) {
						risk += highRiskStrings[pattern] * 0.3
						reasons = append(reasons, fmt.Sprintf("Suspicious string: %s", pattern))
						break
					}
				}
			}
		}

	case ChangeModified:
		risk += 0.2
		reasons = append(reasons, "Function modified")
		if d.SizeDelta > 100 {
			risk += 0.2
			reasons = append(reasons, fmt.Sprintf("Size increased by %d bytes", d.SizeDelta))
		}
		if d.InstructionDelta > 20 {
			risk += 0.15
			reasons = append(reasons, fmt.Sprintf("Instructions increased by %d", d.InstructionDelta))
		}
		for _, change := range d.CallChanges {
			if !strings.HasPrefix(change, "+") {
				continue
			}
			base := callBase(change[1:])
			if w, ok := highRiskAPIs[base]; ok {
				risk += w * 0.4
				reasons = append(reasons, fmt.Sprintf("New suspicious call: %s", base))
			}
		}

	case ChangeRemoved:
		risk += 0.1
		reasons = append(reasons, "Function removed")
	}

	if risk > 1.0 {
		risk = 1.0
	}
	return risk, reasons
}

// riskStringOrder fixes the match order for suspicious strings.
var riskStringOrder = []string{
	"cmd.exe", "powershell", "/bin/sh", "password", "encrypt",
	"decrypt", "ransom", "bitcoin", ".onion",
}

// callBase strips a module prefix like "kernel32.dll!" from a call.
func callBase(call string) string {
	if i := strings.LastIndex(call, "!"); i >= 0 {
		return call[i+1:]
	}
	return call
}

// DiffBinaries compares two binaries function by function. Semantic
// mode matches by structural signature so relocated but unchanged
// functions do not count as modified; exact mode compares content
// hashes.
func DiffBinaries(oldBin, newBin *BinaryMetadata, semantic bool) *DiffResult {
	result := &DiffResult{OldBinary: oldBin, NewBinary: newBin}

	oldFuncs := make(map[string]*Function, len(oldBin.Functions))
	for i := range oldBin.Functions {
		oldFuncs[oldBin.Functions[i].Name] = &oldBin.Functions[i]
	}
	newFuncs := make(map[string]*Function, len(newBin.Functions))
	for i := range newBin.Functions {
		newFuncs[newBin.Functions[i].Name] = &newBin.Functions[i]
	}

	for name, fn := range oldFuncs {
		if _, ok := newFuncs[name]; ok {
			continue
		}
		d := FunctionDiff{Name: name, ChangeType: ChangeRemoved, OldFunction: fn}
		d.RiskScore, d.RiskReasons = functionRisk(&d)
		result.FunctionDiffs = append(result.FunctionDiffs, d)
	}

	for name, fn := range newFuncs {
		if _, ok := oldFuncs[name]; ok {
			continue
		}
		d := FunctionDiff{Name: name, ChangeType: ChangeAdded, NewFunction: fn}
		d.RiskScore, d.RiskReasons = functionRisk(&d)
		result.FunctionDiffs = append(result.FunctionDiffs, d)
	}

	for name, oldFn := range oldFuncs {
		newFn, ok := newFuncs[name]
		if !ok {
			continue
		}
		var changed bool
		if semantic {
			changed = oldFn.SignatureHash() != newFn.SignatureHash()
		} else {
			changed = oldFn.Hash != newFn.Hash
		}
		if !changed {
			continue
		}
		d := FunctionDiff{
			Name:             name,
			ChangeType:       ChangeModified,
			OldFunction:      oldFn,
			NewFunction:      newFn,
			SizeDelta:        newFn.Size - oldFn.Size,
			InstructionDelta: newFn.Instructions - oldFn.Instructions,
			CallChanges:      callChanges(oldFn.Calls, newFn.Calls),
		}
		d.RiskScore, d.RiskReasons = functionRisk(&d)
		result.FunctionDiffs = append(result.FunctionDiffs, d)
	}

	sort.Slice(result.FunctionDiffs, func(i, j int) bool {
		return result.FunctionDiffs[i].Name < result.FunctionDiffs[j].Name
	})

	result.AddedImports = setDiff(newBin.Imports, oldBin.Imports)
	result.RemovedImports = setDiff(oldBin.Imports, newBin.Imports)

	if len(result.FunctionDiffs) > 0 {
		var total float64
		for _, d := range result.FunctionDiffs {
			total += d.RiskScore
		}
		result.OverallRisk = total / float64(len(result.FunctionDiffs))
		for _, imp := range result.AddedImports {
			if _, ok := highRiskAPIs[imp]; ok {
				result.OverallRisk += 0.1
				if result.OverallRisk > 1.0 {
					result.OverallRisk = 1.0
				}
			}
		}
	}

	for _, d := range result.FunctionDiffs {
		switch d.ChangeType {
		case ChangeAdded:
			result.Summary.Added++
		case ChangeRemoved:
			result.Summary.Removed++
		case ChangeModified:
			result.Summary.Modified++
		}
	}
	result.Summary.TotalChanges = len(result.FunctionDiffs)
	result.Summary.AddedImports = len(result.AddedImports)
	result.Summary.RemovedImports = len(result.RemovedImports)

	return result
}

// setDiff returns the members of a not present in b, in a's order.
func setDiff(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := []string{}
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}

// callChanges renders added calls with a "+" prefix and removed calls
// with a "-" prefix.
func callChanges(oldCalls, newCalls []string) []string {
	var changes []string
	for _, c := range setDiff(newCalls, oldCalls) {
		changes = append(changes, "+"+c)
	}
	for _, c := range setDiff(oldCalls, newCalls) {
		changes = append(changes, "-"+c)
	}
	return changes
}
