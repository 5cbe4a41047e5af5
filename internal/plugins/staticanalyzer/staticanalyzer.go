// Package staticanalyzer implements the baseline static analysis
// plugin: file hashing, format sniffing, printable string extraction
// and whole-file entropy. Its report gives later stages a cheap
// summary of what the target is.
package staticanalyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/plugins/binutil"
	"github.com/aetherframe/aetherframe/internal/storage"
)

const (
	defaultMinStringLength = 6
	maxStrings             = 500
	sampleStrings          = 50
)

// Analyzer is the static_analyzer plugin instance.
type Analyzer struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Analyzer{Base: plugin.NewBase(m, config)}
}

// Validate refuses missing targets.
func (a *Analyzer) Validate(jc *plugin.Context) error {
	if _, err := os.Stat(jc.TargetPath); err != nil {
		return &plugin.ValidationError{PluginID: a.ID(), Reason: fmt.Sprintf("file not found: %s", jc.TargetPath)}
	}
	return nil
}

// Run hashes and profiles the target.
func (a *Analyzer) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	data, err := os.ReadFile(jc.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extractStrings := a.ConfigBool("extract_strings", true)
	computeEntropy := a.ConfigBool("compute_entropy", true)
	minLen := a.ConfigInt("min_string_length", defaultMinStringLength)

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	format := binutil.DetectFormat(data)

	var extracted []string
	if extractStrings {
		extracted = binutil.Strings(data, minLen, maxStrings)
	}

	var entropy float64
	if computeEntropy {
		entropy = binutil.Entropy(data)
	}

	sample := extracted
	if len(sample) > sampleStrings {
		sample = sample[:sampleStrings]
	}
	report := map[string]any{
		"plugin":         a.ID(),
		"file":           jc.TargetPath,
		"sha256":         digest,
		"size":           len(data),
		"format":         format,
		"entropy":        math.Round(entropy*10000) / 10000,
		"strings_count":  len(extracted),
		"strings_sample": sample,
	}

	reportPath := jc.ArtifactPath("static_report.json")
	if err := plugin.WriteJSON(reportPath, report); err != nil {
		return nil, err
	}

	res := &plugin.Result{Success: true}
	res.Artifacts = append(res.Artifacts, aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactJSON,
		Name:         "static_report.json",
		Description:  "Static analysis report",
		URI:          storage.FileURI(reportPath),
	})

	if len(extracted) > 0 {
		stringsPath := jc.ArtifactPath("strings.txt")
		if err := os.WriteFile(stringsPath, []byte(strings.Join(extracted, "\n")), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", stringsPath, err)
		}
		res.Artifacts = append(res.Artifacts, aether.Artifact{
			JobID:        jc.Job.ID,
			ArtifactType: aether.ArtifactStrings,
			Name:         "strings.txt",
			Description:  "Extracted strings",
			URI:          storage.FileURI(stringsPath),
		})
	}

	res.Findings = append(res.Findings, aether.Finding{
		JobID:       jc.Job.ID,
		Severity:    aether.SeverityInfo,
		Category:    aether.CategoryStatic,
		Title:       fmt.Sprintf("Static analysis: %s binary", strings.ToUpper(format)),
		Description: fmt.Sprintf("SHA256: %s..., Size: %d, Entropy: %.2f", digest[:16], len(data), entropy),
		Evidence:    []aether.Evidence{{Type: "pattern", Value: fmt.Sprintf("format=%s", format)}},
		Confidence:  1.0,
		Tags:        []string{"static", format},
	})

	res.ContextData = map[string]any{
		"sha256":        digest,
		"format":        format,
		"entropy":       entropy,
		"strings_count": len(extracted),
	}
	return res, nil
}
