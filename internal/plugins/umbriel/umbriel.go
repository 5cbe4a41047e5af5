// Package umbriel implements the anti-analysis gate detector. It runs
// first in most pipelines and sweeps the target bytes for anti-debug,
// anti-VM, anti-Frida, timing and packer signatures, then profiles
// entropy to flag packed or encrypted regions. Later stages read its
// context data to decide how deep to go.
package umbriel

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/plugins/binutil"
	"github.com/aetherframe/aetherframe/internal/storage"
)

// MaxTargetSize bounds how large a binary the detector will load.
const MaxTargetSize = 100 << 20

const (
	defaultEntropyThreshold = 7.0
	entropyChunkSize        = 4096
	maxSectionFindings      = 5
)

// Detector is the umbriel plugin instance.
type Detector struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Detector{Base: plugin.NewBase(m, config)}
}

// Validate refuses targets that are missing, not regular files, or too
// large to load.
func (d *Detector) Validate(jc *plugin.Context) error {
	info, err := os.Stat(jc.TargetPath)
	if err != nil {
		return &plugin.ValidationError{PluginID: d.ID(), Reason: fmt.Sprintf("target file not found: %s", jc.TargetPath)}
	}
	if info.IsDir() {
		return &plugin.ValidationError{PluginID: d.ID(), Reason: fmt.Sprintf("target is not a file: %s", jc.TargetPath)}
	}
	if info.Size() > MaxTargetSize {
		return &plugin.ValidationError{PluginID: d.ID(), Reason: "target file too large (>100MB)"}
	}
	return nil
}

// Run executes the signature sweep and entropy profile.
func (d *Detector) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	data, err := os.ReadFile(jc.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}

	mode := d.ConfigString("mode", "thorough")
	skipEntropy := d.ConfigBool("skip_entropy", false)
	threshold := d.ConfigFloat("entropy_threshold", defaultEntropyThreshold)
	skipVM := d.ConfigBool("skip_vm_checks", false)
	skipFrida := d.ConfigBool("skip_frida_checks", false)

	res := &plugin.Result{Success: true}
	res.Events = append(res.Events, aether.TraceEvent{
		JobID:     jc.Job.ID,
		TS:        time.Now().UTC(),
		Source:    aether.SourceUmbriel,
		EventType: aether.EventInfo,
		Payload:   map[string]any{"action": "scan_start", "target": jc.TargetPath, "mode": mode},
	})

	signatures := make([]signature, 0,
		len(antiDebugSignatures)+len(timingSignatures)+len(packerSignatures)+
			len(antiVMSignatures)+len(antiFridaSignatures))
	signatures = append(signatures, antiDebugSignatures...)
	signatures = append(signatures, timingSignatures...)
	signatures = append(signatures, packerSignatures...)
	if !skipVM {
		signatures = append(signatures, antiVMSignatures...)
	}
	if !skipFrida {
		signatures = append(signatures, antiFridaSignatures...)
	}

	for _, sig := range signatures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, offset := range findPattern(data, sig.Pattern) {
			res.Findings = append(res.Findings, aether.Finding{
				JobID:       jc.Job.ID,
				Severity:    sig.Severity,
				Category:    sig.Category,
				Title:       fmt.Sprintf("%s detected", sig.Name),
				Description: sig.Description,
				Evidence: []aether.Evidence{{
					Type:     "bytes",
					Location: fmt.Sprintf("0x%08x", offset),
					Value:    patternHex(sig.Pattern),
					Context:  fmt.Sprintf("Signature ID: %s", sig.ID),
				}},
				Confidence: sig.Confidence,
				Tags:       append(append([]string{}, sig.Tags...), sig.ID),
			})
		}
	}

	var overallEntropy float64
	if !skipEntropy {
		overallEntropy = binutil.Entropy(data)
		if overallEntropy >= threshold {
			res.Findings = append(res.Findings, aether.Finding{
				JobID:       jc.Job.ID,
				Severity:    aether.SeverityHigh,
				Category:    aether.CategoryPacking,
				Title:       "High entropy detected",
				Description: fmt.Sprintf("Overall entropy %.2f >= %v suggests packing/encryption", overallEntropy, threshold),
				Evidence: []aether.Evidence{{
					Type:    "pattern",
					Value:   fmt.Sprintf("entropy=%.4f", overallEntropy),
					Context: "Shannon entropy of entire file",
				}},
				Confidence: 0.85,
				Tags:       []string{"entropy", "packing"},
			})
		}
	}

	var sections []binutil.Section
	if mode == "thorough" && !skipEntropy {
		sections = binutil.SectionEntropy(data, entropyChunkSize)
		emitted := 0
		for _, s := range sections {
			if s.Entropy < threshold {
				continue
			}
			if emitted == maxSectionFindings {
				break
			}
			emitted++
			res.Findings = append(res.Findings, aether.Finding{
				JobID:       jc.Job.ID,
				Severity:    aether.SeverityMedium,
				Category:    aether.CategoryPacking,
				Title:       fmt.Sprintf("High entropy section at 0x%x", s.Offset),
				Description: fmt.Sprintf("Section entropy %.2f suggests encrypted/packed data", s.Entropy),
				Evidence: []aether.Evidence{{
					Type:     "bytes",
					Location: fmt.Sprintf("0x%08x", s.Offset),
					Value:    fmt.Sprintf("size=%d, entropy=%.4f", s.Size, s.Entropy),
				}},
				Confidence: 0.75,
				Tags:       []string{"entropy", "section"},
			})
		}
	}

	res.RiskScore = riskScore(res.Findings)

	artifacts, err := d.writeArtifacts(jc, res.Findings, overallEntropy, sections)
	if err != nil {
		return nil, err
	}
	res.Artifacts = artifacts

	if res.RiskScore >= 0.7 {
		res.Recommendations = append(res.Recommendations, "Consider dynamic analysis with LainTrace due to high evasion risk")
	}
	if hasCategory(res.Findings, aether.CategoryPacking) {
		res.Recommendations = append(res.Recommendations, "Unpack binary before static analysis")
	}
	if hasCategory(res.Findings, aether.CategoryAntiDebug) {
		res.Recommendations = append(res.Recommendations, "Use anti-anti-debug patches or emulation")
	}
	if hasCategory(res.Findings, aether.CategoryAntiFrida) {
		res.Recommendations = append(res.Recommendations, "Use modified Frida build or stalker mode")
	}

	res.ContextData = map[string]any{
		"is_packed":          hasCategory(res.Findings, aether.CategoryPacking),
		"has_anti_debug":     hasCategory(res.Findings, aether.CategoryAntiDebug),
		"has_anti_vm":        hasCategory(res.Findings, aether.CategoryAntiVM),
		"has_anti_frida":     hasCategory(res.Findings, aether.CategoryAntiFrida),
		"overall_entropy":    overallEntropy,
		"detection_count":    len(res.Findings),
		"umbriel_risk_score": res.RiskScore,
	}
	return res, nil
}

// patternHex renders a signature pattern for evidence, truncating long
// patterns to their first 32 bytes.
func patternHex(pattern []byte) string {
	if len(pattern) < 32 {
		return hex.EncodeToString(pattern)
	}
	return hex.EncodeToString(pattern[:32]) + "..."
}

var severityWeights = map[aether.Severity]float64{
	aether.SeverityInfo:     0.1,
	aether.SeverityLow:      0.2,
	aether.SeverityMedium:   0.4,
	aether.SeverityHigh:     0.7,
	aether.SeverityCritical: 1.0,
}

// riskScore folds findings into a 0..1 score: severity-weighted
// confidence sum normalized by 10, with a +0.2 breadth bump when three
// or more categories fired.
func riskScore(findings []aether.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var total float64
	categories := map[aether.Category]bool{}
	for _, f := range findings {
		w, ok := severityWeights[f.Severity]
		if !ok {
			w = 0.5
		}
		total += w * f.Confidence
		categories[f.Category] = true
	}
	score := total / 10.0
	if score > 1.0 {
		score = 1.0
	}
	if len(categories) >= 3 {
		score += 0.2
		if score > 1.0 {
			score = 1.0
		}
	}
	return round2(score)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func hasCategory(findings []aether.Finding, c aether.Category) bool {
	for _, f := range findings {
		if f.Category == c {
			return true
		}
	}
	return false
}

// reportFinding is the report-file projection of a finding.
type reportFinding struct {
	Severity    aether.Severity   `json:"severity"`
	Category    aether.Category   `json:"category"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Confidence  float64           `json:"confidence"`
	Evidence    []aether.Evidence `json:"evidence"`
	Tags        []string          `json:"tags"`
}

func (d *Detector) writeArtifacts(jc *plugin.Context, findings []aether.Finding, overallEntropy float64, sections []binutil.Section) ([]aether.Artifact, error) {
	bySeverity := map[aether.Severity]int{
		aether.SeverityInfo:     0,
		aether.SeverityLow:      0,
		aether.SeverityMedium:   0,
		aether.SeverityHigh:     0,
		aether.SeverityCritical: 0,
	}
	byCategory := map[aether.Category]int{}
	reported := make([]reportFinding, 0, len(findings))
	for _, f := range findings {
		bySeverity[f.Severity]++
		byCategory[f.Category]++
		reported = append(reported, reportFinding{
			Severity:    f.Severity,
			Category:    f.Category,
			Title:       f.Title,
			Description: f.Description,
			Confidence:  f.Confidence,
			Evidence:    f.Evidence,
			Tags:        f.Tags,
		})
	}

	report := map[string]any{
		"plugin":  d.ID(),
		"version": d.Version(),
		"target":  jc.TargetPath,
		"summary": map[string]any{
			"total_findings":  len(findings),
			"by_severity":     bySeverity,
			"by_category":     byCategory,
			"overall_entropy": overallEntropy,
		},
		"findings": reported,
	}

	reportPath := jc.ArtifactPath("anti_analysis_report.json")
	if err := plugin.WriteJSON(reportPath, report); err != nil {
		return nil, err
	}
	artifacts := []aether.Artifact{{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactJSON,
		Name:         "anti_analysis_report.json",
		Description:  "Umbriel anti-analysis detection report",
		URI:          storage.FileURI(reportPath),
		Meta:         map[string]any{"findings": len(findings)},
	}}

	if len(sections) > 0 {
		profilePath := jc.ArtifactPath("entropy_profile.json")
		profile := map[string]any{
			"overall_entropy": overallEntropy,
			"sections":        sections,
		}
		if err := plugin.WriteJSON(profilePath, profile); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, aether.Artifact{
			JobID:        jc.Job.ID,
			ArtifactType: aether.ArtifactJSON,
			Name:         "entropy_profile.json",
			Description:  "Binary entropy profile by section",
			URI:          storage.FileURI(profilePath),
			Meta:         map[string]any{"overall_entropy": overallEntropy},
		})
	}
	return artifacts, nil
}
