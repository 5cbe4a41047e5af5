// Package noema implements the intent inference engine, usually the
// last stage of a pipeline. It synthesizes everything earlier stages
// reported into MITRE ATT&CK aligned intent classifications, each with
// an explainable chain of evidence. No classification is a black box:
// the report lists every indicator and observation that contributed.
package noema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/storage"
)

// Inferencer is the noema plugin instance.
type Inferencer struct {
	plugin.Base
}

// New is the plugin factory bound in the registry.
func New(m *plugin.Manifest, config map[string]any) plugin.Plugin {
	return &Inferencer{Base: plugin.NewBase(m, config)}
}

// Validate always accepts: the inferencer works from previous findings
// and pipeline context, both of which may legitimately be empty.
func (n *Inferencer) Validate(jc *plugin.Context) error {
	return nil
}

// Run extracts features, classifies intents, and writes the inference
// report.
func (n *Inferencer) Run(ctx context.Context, jc *plugin.Context) (*plugin.Result, error) {
	depth := n.ConfigString("depth", "deep")
	explain := n.ConfigBool("explain", true)
	threshold := n.ConfigFloat("confidence_threshold", 0.5)

	res := &plugin.Result{Success: true}
	res.Events = append(res.Events, aether.TraceEvent{
		JobID:     jc.Job.ID,
		TS:        time.Now().UTC(),
		Source:    aether.SourceNoema,
		EventType: aether.EventInfo,
		Payload:   map[string]any{"action": "inference_start", "depth": depth},
	})

	features := extractFeatures(jc)
	classifications := classifyIntent(features)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var significant []Classification
	for _, c := range classifications {
		if c.Confidence >= threshold {
			significant = append(significant, c)
		}
	}

	for _, c := range significant {
		description := ""
		if explain {
			description = c.Explain()
		}
		chain := c.EvidenceChain
		if len(chain) > 5 {
			chain = chain[:5]
		}
		evidence := aether.Evidence{
			Type:  "inference",
			Value: strings.Join(chain, "; "),
		}
		if len(c.MitreIDs) > 0 {
			evidence.Context = fmt.Sprintf("MITRE: %s", strings.Join(c.MitreIDs, ", "))
		}
		res.Findings = append(res.Findings, aether.Finding{
			JobID:       jc.Job.ID,
			Severity:    c.Severity,
			Category:    findingCategory(c.Category),
			Title:       fmt.Sprintf("Intent: %s", titleCase(string(c.Category))),
			Description: description,
			Evidence:    []aether.Evidence{evidence},
			Confidence:  c.Confidence,
			Tags:        append([]string{"noema", string(c.Category)}, c.MitreIDs...),
		})
	}

	threatScore := threat(significant)

	artifact, err := n.writeReport(jc, features, classifications, threatScore)
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, artifact)

	if len(significant) > 0 {
		topIntents := make([]string, 0, 3)
		for _, c := range significant {
			if len(topIntents) == 3 {
				break
			}
			topIntents = append(topIntents, string(c.Category))
		}
		summaryJSON, _ := json.Marshal(map[string]any{
			"intent_count": len(significant),
			"threat_score": threatScore,
			"top_intents":  topIntents,
		})
		res.Findings = append(res.Findings, aether.Finding{
			JobID:    jc.Job.ID,
			Severity: aether.SeverityInfo,
			Category: aether.CategoryHeuristic,
			Title:    fmt.Sprintf("Noema analysis: %d intent(s) identified", len(significant)),
			Description: fmt.Sprintf("Top intents: %s. Threat score: %.0f%%",
				strings.Join(topIntents, ", "), threatScore*100),
			Evidence:   []aether.Evidence{{Type: "pattern", Value: string(summaryJSON)}},
			Confidence: 1.0,
			Tags:       []string{"noema", "summary"},
		})
	} else {
		maxConfidence := 0.0
		for _, c := range classifications {
			if c.Confidence > maxConfidence {
				maxConfidence = c.Confidence
			}
		}
		res.Findings = append(res.Findings, aether.Finding{
			JobID:       jc.Job.ID,
			Severity:    aether.SeverityInfo,
			Category:    aether.CategoryHeuristic,
			Title:       "No significant malicious intent detected",
			Description: "Analysis did not find strong indicators of malicious intent",
			Confidence:  1.0 - maxConfidence,
			Tags:        []string{"noema", "benign"},
		})
	}

	intents := make([]string, 0, len(significant))
	var mitre []string
	for _, c := range significant {
		intents = append(intents, string(c.Category))
		mitre = append(mitre, c.MitreIDs...)
	}

	res.RiskScore = threatScore
	res.ContextData = map[string]any{
		"threat_score":     threatScore,
		"intents_detected": intents,
		"mitre_techniques": dedupe(mitre),
	}
	return res, nil
}

// severityWeights boost confident high-severity intents in the threat
// score.
var severityWeights = map[aether.Severity]float64{
	aether.SeverityInfo:     0.1,
	aether.SeverityLow:      0.3,
	aether.SeverityMedium:   0.5,
	aether.SeverityHigh:     0.8,
	aether.SeverityCritical: 1.0,
}

func threat(significant []Classification) float64 {
	if len(significant) == 0 {
		return 0
	}
	var sum float64
	for _, c := range significant {
		w, ok := severityWeights[c.Severity]
		if !ok {
			w = 0.5
		}
		sum += c.Confidence * w
	}
	score := sum / float64(len(significant))
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// findingCategory maps an intent class onto the finding taxonomy.
func findingCategory(cat IntentCategory) aether.Category {
	switch cat {
	case IntentDefenseEvasion:
		return aether.CategoryIntentEvasive
	case IntentExecution, IntentCredentialAccess, IntentImpact, IntentCommandAndControl:
		return aether.CategoryIntentMalicious
	case IntentPersistence:
		return aether.CategoryIntentPersistence
	case IntentExfiltration:
		return aether.CategoryIntentExfiltration
	}
	return aether.CategoryHeuristic
}

func threatLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	case score >= 0.2:
		return "low"
	}
	return "minimal"
}

func (n *Inferencer) writeReport(jc *plugin.Context, features *Features, classifications []Classification, threatScore float64) (aether.Artifact, error) {
	reported := make([]map[string]any, 0, len(classifications))
	var mitre []string
	for _, c := range classifications {
		reported = append(reported, map[string]any{
			"category":       c.Category,
			"confidence":     c.Confidence,
			"severity":       c.Severity,
			"evidence_chain": c.EvidenceChain,
			"indicators":     c.Indicators,
			"mitre_ids":      c.MitreIDs,
		})
		mitre = append(mitre, c.MitreIDs...)
	}

	report := map[string]any{
		"plugin":          n.ID(),
		"version":         n.Version(),
		"target":          jc.TargetPath,
		"analysis_time":   time.Now().UTC().Format(time.RFC3339),
		"threat_score":    threatScore,
		"threat_level":    threatLevel(threatScore),
		"features":        features.toMap(),
		"classifications": reported,
		"mitre_coverage":  dedupe(mitre),
		"recommendations": recommendations(classifications, threatScore),
	}

	path := jc.ArtifactPath("intent_report.json")
	if err := plugin.WriteJSON(path, report); err != nil {
		return aether.Artifact{}, err
	}
	return aether.Artifact{
		JobID:        jc.Job.ID,
		ArtifactType: aether.ArtifactReport,
		Name:         "intent_report.json",
		Description:  "Noema intent inference report",
		URI:          storage.FileURI(path),
		Meta: map[string]any{
			"threat_score":    threatScore,
			"classifications": len(classifications),
		},
	}, nil
}

func recommendations(classifications []Classification, threatScore float64) []string {
	var recs []string
	if threatScore >= 0.8 {
		recs = append(recs, "CRITICAL: Immediate isolation and forensic analysis recommended")
	}

	categories := map[IntentCategory]bool{}
	for _, c := range classifications {
		categories[c.Category] = true
	}

	if categories[IntentDefenseEvasion] {
		recs = append(recs, "Use specialized anti-evasion tools for deeper analysis")
	}
	if categories[IntentPersistence] {
		recs = append(recs, "Check system for persistence mechanisms (registry, services)")
	}
	if categories[IntentCredentialAccess] {
		recs = append(recs, "Rotate credentials on potentially compromised systems")
	}
	if categories[IntentExfiltration] {
		recs = append(recs, "Review network logs for data exfiltration attempts")
	}
	if categories[IntentCommandAndControl] {
		recs = append(recs, "Block identified C2 indicators at network perimeter")
	}
	if categories[IntentImpact] {
		recs = append(recs, "Ensure backups are available and isolated")
	}
	if len(recs) == 0 {
		recs = append(recs, "Continue standard security monitoring")
	}
	return recs
}

