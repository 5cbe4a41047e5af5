// Package valkyrie implements the binary diff plugin. Given a target
// and a reference binary it matches functions across the two builds,
// classifies each as added, removed, or modified, and scores how
// suspicious each change looks. Release-watch pipelines use it to track
// what changed between versions of a binary under observation. Without
// a reference it degrades to metadata extraction.
package valkyrie

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/storage"
)

// Differ is the valkyrie plugin instance.
type Differ struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Differ{Base: plugin.NewBase(m, config)}
}

// Validate refuses missing targets. The reference binary is optional;
// without one the plugin runs in single-file metadata mode.
func (d *Differ) Validate(jc *plugin.Context) error {
	if _, err := os.Stat(jc.TargetPath); err != nil {
		return &plugin.ValidationError{PluginID: d.ID(), Reason: fmt.Sprintf("target file not found: %s", jc.TargetPath)}
	}
	return nil
}

// Run diffs the target against the reference named in the job options,
// or extracts metadata when no reference is given.
func (d *Differ) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	semantic := d.ConfigBool("semantic", true)
	generateHeatmap := d.ConfigBool("generate_heatmap", true)

	res := &plugin.Result{Success: true}
	res.Events = append(res.Events, aether.TraceEvent{
		JobID:     jc.Job.ID,
		TS:        time.Now().UTC(),
		Source:    aether.SourceValkyrie,
		EventType: aether.EventInfo,
		Payload:   map[string]any{"action": "diff_start", "target": jc.TargetPath},
	})

	newMeta, err := AnalyzeBinary(jc.TargetPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	referencePath, _ := jc.Job.Options["reference_path"].(string)
	if referencePath == "" {
		artifact, err := d.writeMetadataArtifact(jc, newMeta)
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, artifact)
		res.ContextData = map[string]any{
			"binary_metadata": map[string]any{
				"sha256":    newMeta.SHA256,
				"format":    newMeta.Format,
				"arch":      newMeta.Arch,
				"functions": len(newMeta.Functions),
				"imports":   len(newMeta.Imports),
			},
		}
		return res, nil
	}

	if _, err := os.Stat(referencePath); err != nil {
		return nil, &plugin.ValidationError{PluginID: d.ID(), Reason: fmt.Sprintf("reference file not found: %s", referencePath)}
	}
	oldMeta, err := AnalyzeBinary(referencePath)
	if err != nil {
		return nil, err
	}

	diff := DiffBinaries(oldMeta, newMeta, semantic)

	res.Findings = d.diffFindings(jc, diff)
	artifacts, err := d.writeDiffArtifacts(jc, diff, generateHeatmap)
	if err != nil {
		return nil, err
	}
	res.Artifacts = artifacts

	res.RiskScore = diff.OverallRisk
	res.ContextData = map[string]any{
		"diff_summary":          diff.Summary,
		"overall_risk":          diff.OverallRisk,
		"has_high_risk_changes": hasHighRiskChange(diff),
	}
	return res, nil
}

func hasHighRiskChange(diff *DiffResult) bool {
	for _, d := range diff.FunctionDiffs {
		if d.RiskScore >= 0.7 {
			return true
		}
	}
	return false
}

// changeCategories maps change kinds to finding categories.
var changeCategories = map[ChangeType]aether.Category{
	ChangeAdded:    aether.CategoryNewCode,
	ChangeRemoved:  aether.CategoryRemovedCode,
	ChangeModified: aether.CategoryFunctionChange,
}

func (d *Differ) diffFindings(jc *plugin.Context, diff *DiffResult) []aether.Finding {
	var findings []aether.Finding

	for _, fd := range diff.FunctionDiffs {
		if fd.RiskScore < 0.5 {
			continue
		}
		severity := aether.SeverityMedium
		switch {
		case fd.RiskScore >= 0.8:
			severity = aether.SeverityCritical
		case fd.RiskScore >= 0.6:
			severity = aether.SeverityHigh
		}
		category, ok := changeCategories[fd.ChangeType]
		if !ok {
			category = aether.CategoryBinaryDiff
		}
		location := "N/A"
		if fd.NewFunction != nil {
			location = fmt.Sprintf("0x%08x", fd.NewFunction.Address)
		}
		findings = append(findings, aether.Finding{
			JobID:       jc.Job.ID,
			Severity:    severity,
			Category:    category,
			Title:       fmt.Sprintf("High-risk %s: %s", fd.ChangeType, fd.Name),
			Description: strings.Join(fd.RiskReasons, "; "),
			Evidence: []aether.Evidence{{
				Type:     "function",
				Location: location,
				Value:    fmt.Sprintf("size_delta=%d, risk=%.2f", fd.SizeDelta, fd.RiskScore),
				Context:  fmt.Sprintf("Change type: %s", fd.ChangeType),
			}},
			Confidence: 0.85,
			Tags:       []string{"valkyrie", string(fd.ChangeType)},
		})
	}

	for _, imp := range diff.AddedImports {
		weight, ok := highRiskAPIs[imp]
		if !ok {
			continue
		}
		findings = append(findings, aether.Finding{
			JobID:       jc.Job.ID,
			Severity:    aether.SeverityHigh,
			Category:    aether.CategoryBinaryDiff,
			Title:       fmt.Sprintf("New suspicious import: %s", imp),
			Description: fmt.Sprintf("Newly added import %s is associated with malicious behavior", imp),
			Evidence:    []aether.Evidence{{Type: "string", Value: imp}},
			Confidence:  weight,
			Tags:        []string{"valkyrie", "import", "new"},
		})
	}

	if len(diff.FunctionDiffs) > 0 {
		summaryJSON, _ := json.Marshal(diff.Summary)
		findings = append(findings, aether.Finding{
			JobID:    jc.Job.ID,
			Severity: aether.SeverityInfo,
			Category: aether.CategoryBinaryDiff,
			Title:    fmt.Sprintf("Binary diff summary: %d changes", diff.Summary.TotalChanges),
			Description: fmt.Sprintf("Added: %d, Removed: %d, Modified: %d",
				diff.Summary.Added, diff.Summary.Removed, diff.Summary.Modified),
			Evidence:   []aether.Evidence{{Type: "pattern", Value: string(summaryJSON)}},
			Confidence: 1.0,
			Tags:       []string{"valkyrie", "summary"},
		})
	}

	return findings
}

// binarySummary is the per-binary header of the diff report.
type binarySummary struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	Size      int    `json:"size"`
	Format    string `json:"format"`
	Functions int    `json:"functions"`
}

func summarize(meta *BinaryMetadata) binarySummary {
	return binarySummary{
		Path:      meta.Path,
		SHA256:    meta.SHA256,
		Size:      meta.Size,
		Format:    meta.Format,
		Functions: len(meta.Functions),
	}
}

func (d *Differ) writeDiffArtifacts(jc *plugin.Context, diff *DiffResult, generateHeatmap bool) ([]aether.Artifact, error) {
	report := map[string]any{
		"plugin":          d.ID(),
		"version":         d.Version(),
		"old_binary":      summarize(diff.OldBinary),
		"new_binary":      summarize(diff.NewBinary),
		"summary":         diff.Summary,
		"overall_risk":    diff.OverallRisk,
		"function_diffs":  diff.FunctionDiffs,
		"added_imports":   diff.AddedImports,
		"removed_imports": diff.RemovedImports,
	}

	reportPath := jc.ArtifactPath("diff_report.json")
	if err := plugin.WriteJSON(reportPath, report); err != nil {
		return nil, err
	}
	artifacts := []aether.Artifact{{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactDiff,
		Name:         "diff_report.json",
		Description:  "Valkyrie binary diff report",
		URI:          storage.FileURI(reportPath),
		Meta:         map[string]any{"changes": diff.Summary.TotalChanges, "risk": diff.OverallRisk},
	}}

	if generateHeatmap && len(diff.FunctionDiffs) > 0 {
		heatmap := heatmapData(diff)
		heatmapPath := jc.ArtifactPath("diff_heatmap.json")
		if err := plugin.WriteJSON(heatmapPath, heatmap); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, aether.Artifact{
			JobID:        jc.Job.ID,
			ArtifactType: aether.ArtifactHeatmap,
			Name:         "diff_heatmap.json",
			Description:  "Visual diff heatmap data",
			URI:          storage.FileURI(heatmapPath),
			Meta:         map[string]any{"cells": len(heatmap.Cells)},
		})
	}

	return artifacts, nil
}

// heatmapCell is one rectangle in the diff visualization.
type heatmapCell struct {
	Name       string     `json:"name"`
	Address    int        `json:"address"`
	Size       int        `json:"size"`
	ChangeType ChangeType `json:"change_type"`
	Risk       float64    `json:"risk"`
	Color      string     `json:"color"`
}

type heatmap struct {
	Title  string            `json:"title"`
	Cells  []heatmapCell     `json:"cells"`
	Legend map[string]string `json:"legend"`
}

func heatmapData(diff *DiffResult) *heatmap {
	cells := make([]heatmapCell, 0, len(diff.FunctionDiffs))
	for _, fd := range diff.FunctionDiffs {
		var addr, size int
		switch {
		case fd.NewFunction != nil:
			addr, size = fd.NewFunction.Address, fd.NewFunction.Size
		case fd.OldFunction != nil:
			addr, size = fd.OldFunction.Address, fd.OldFunction.Size
		}
		cells = append(cells, heatmapCell{
			Name:       fd.Name,
			Address:    addr,
			Size:       size,
			ChangeType: fd.ChangeType,
			Risk:       fd.RiskScore,
			Color:      riskToColor(fd.RiskScore, fd.ChangeType),
		})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Address < cells[j].Address })

	return &heatmap{
		Title: "Binary Diff Heatmap",
		Cells: cells,
		Legend: map[string]string{
			"added":         "#22c55e",
			"removed":       "#ef4444",
			"modified_low":  "#fbbf24",
			"modified_high": "#f97316",
		},
	}
}

func riskToColor(risk float64, change ChangeType) string {
	switch change {
	case ChangeAdded:
		if risk < 0.5 {
			return "#22c55e"
		}
		return "#16a34a"
	case ChangeRemoved:
		return "#ef4444"
	default:
		switch {
		case risk < 0.3:
			return "#fbbf24"
		case risk < 0.6:
			return "#f97316"
		default:
			return "#ef4444"
		}
	}
}

func (d *Differ) writeMetadataArtifact(jc *plugin.Context, meta *BinaryMetadata) (aether.Artifact, error) {
	data := map[string]any{
		"path":      meta.Path,
		"sha256":    meta.SHA256,
		"size":      meta.Size,
		"format":    meta.Format,
		"arch":      meta.Arch,
		"functions": len(meta.Functions),
		"imports":   meta.Imports,
		"exports":   meta.Exports,
	}

	path := jc.ArtifactPath("binary_metadata.json")
	if err := plugin.WriteJSON(path, data); err != nil {
		return aether.Artifact{}, err
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactJSON,
		Name:         "binary_metadata.json",
		Description:  "Binary metadata extraction",
		URI:          storage.FileURI(path),
	}, nil
}
