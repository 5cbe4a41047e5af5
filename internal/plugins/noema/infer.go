package noema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

// Features is the vector extracted from prior stage outputs that the
// classifier scores against the indicator table.
type Features struct {
	HasAntiDebug bool
	HasAntiVM    bool
	HasAntiFrida bool
	HasPacking   bool
	HighEntropy  bool

	APICategories     map[string]int
	SuspiciousAPIs    []string
	SuspiciousStrings []string
	URLs              []string

	CreatesFiles     bool
	ModifiesRegistry bool
	NetworkActivity  bool
	ProcessInjection bool

	UmbrielRisk        float64
	ValkyrieRisk       float64
	MnemosyneAnomalies int
}

// toMap renders the feature vector for the report artifact.
func (f *Features) toMap() map[string]any {
	return map[string]any{
		"anti_debug":         f.HasAntiDebug,
		"anti_vm":            f.HasAntiVM,
		"anti_frida":         f.HasAntiFrida,
		"packing":            f.HasPacking,
		"high_entropy":       f.HighEntropy,
		"api_categories":     f.APICategories,
		"suspicious_apis":    f.SuspiciousAPIs,
		"suspicious_strings": f.SuspiciousStrings,
		"urls":               f.URLs,
		"creates_files":      f.CreatesFiles,
		"modifies_registry":  f.ModifiesRegistry,
		"network_activity":   f.NetworkActivity,
		"process_injection":  f.ProcessInjection,
	}
}

var (
	injectionAPIs   = []string{"CreateRemoteThread", "WriteProcessMemory", "VirtualAllocEx", "SetWindowsHookEx"}
	networkAPIs     = []string{"WSAStartup", "connect", "socket", "send", "recv"}
	persistenceAPIs = []string{"RegSetValueEx", "CreateService"}
)

func pipelineBool(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func pipelineFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// extractFeatures folds the pipeline context and every previous
// finding's evidence into a feature vector.
func extractFeatures(jc *plugin.Context) *Features {
	f := &Features{
		APICategories:     map[string]int{},
		SuspiciousAPIs:    []string{},
		SuspiciousStrings: []string{},
		URLs:              []string{},
	}

	f.HasAntiDebug = pipelineBool(jc.Pipeline, "has_anti_debug")
	f.HasAntiVM = pipelineBool(jc.Pipeline, "has_anti_vm")
	f.HasAntiFrida = pipelineBool(jc.Pipeline, "has_anti_frida")
	f.HasPacking = pipelineBool(jc.Pipeline, "is_packed")
	f.HighEntropy = pipelineFloat(jc.Pipeline, "overall_entropy") >= 7.0
	f.UmbrielRisk = pipelineFloat(jc.Pipeline, "umbriel_risk_score")
	f.ValkyrieRisk = pipelineFloat(jc.Pipeline, "overall_risk")

	for _, finding := range jc.PreviousFindings {
		category := string(finding.Category)
		switch {
		case strings.Contains(category, "anti-debug"):
			f.HasAntiDebug = true
		case strings.Contains(category, "anti-vm"):
			f.HasAntiVM = true
		case strings.Contains(category, "anti-frida"):
			f.HasAntiFrida = true
		case strings.Contains(category, "packing"):
			f.HasPacking = true
		}

		for _, ev := range finding.Evidence {
			value, ok := ev.Value.(string)
			if !ok || value == "" {
				continue
			}
			lower := strings.ToLower(value)
			for _, api := range injectionAPIs {
				if strings.Contains(lower, strings.ToLower(api)) {
					f.SuspiciousAPIs = append(f.SuspiciousAPIs, api)
					f.ProcessInjection = true
				}
			}
			for _, api := range networkAPIs {
				if strings.Contains(lower, strings.ToLower(api)) {
					f.NetworkActivity = true
				}
			}
			for _, api := range persistenceAPIs {
				if strings.Contains(lower, strings.ToLower(api)) {
					f.ModifiesRegistry = true
				}
			}
		}
	}

	return f
}

// Classification is one inferred intent plus the chain of evidence
// that produced it. Nothing here is a black box: every score traces
// back to named indicators.
type Classification struct {
	Category      IntentCategory
	Confidence    float64
	EvidenceChain []string
	Indicators    []string
	MitreIDs      []string
	Severity      aether.Severity
}

// Explain renders the classification for a human reviewer.
func (c *Classification) Explain() string {
	lines := []string{
		fmt.Sprintf("Intent: %s", titleCase(string(c.Category))),
		fmt.Sprintf("Confidence: %.0f%%", c.Confidence*100),
		fmt.Sprintf("Severity: %s", c.Severity),
		"",
		"Evidence Chain:",
	}
	for i, ev := range c.EvidenceChain {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, ev))
	}
	if len(c.MitreIDs) > 0 {
		lines = append(lines, "", fmt.Sprintf("MITRE ATT&CK: %s", strings.Join(c.MitreIDs, ", ")))
	}
	return strings.Join(lines, "\n")
}

// titleCase turns "defense_evasion" into "Defense Evasion".
func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type categoryScore struct {
	score      float64
	evidence   []string
	indicators []string
	mitre      []string
}

// classifyIntent scores every indicator against the features,
// aggregates per category, and normalizes against the top score so the
// strongest category reads as confidence 1.0.
func classifyIntent(f *Features) []Classification {
	scores := map[IntentCategory]*categoryScore{}
	var order []IntentCategory
	bump := func(cat IntentCategory) *categoryScore {
		cs, ok := scores[cat]
		if !ok {
			cs = &categoryScore{}
			scores[cat] = cs
			order = append(order, cat)
		}
		return cs
	}

	for _, ind := range intentIndicators {
		var triggered bool
		var evidence []string

		for _, evType := range ind.EvidenceTypes {
			switch {
			case evType == "anti-debug" && f.HasAntiDebug:
				triggered = true
				evidence = append(evidence, "Anti-debug techniques detected")
			case evType == "anti-vm" && f.HasAntiVM:
				triggered = true
				evidence = append(evidence, "Anti-VM techniques detected")
			case evType == "anti-frida" && f.HasAntiFrida:
				triggered = true
				evidence = append(evidence, "Anti-Frida techniques detected")
			case (evType == "packing" || evType == "entropy") && f.HasPacking:
				triggered = true
				evidence = append(evidence, "Packing/obfuscation detected")
			}

			for _, api := range f.SuspiciousAPIs {
				if strings.Contains(strings.ToLower(api), strings.ToLower(evType)) {
					triggered = true
					evidence = append(evidence, fmt.Sprintf("Suspicious API: %s", api))
				}
			}
			for _, s := range f.SuspiciousStrings {
				if strings.Contains(strings.ToLower(s), strings.ToLower(evType)) {
					triggered = true
					evidence = append(evidence, fmt.Sprintf("Suspicious string: %s", s))
				}
			}
		}

		if !triggered {
			continue
		}
		cs := bump(ind.Category)
		cs.score += ind.Weight
		cs.evidence = append(cs.evidence, evidence...)
		cs.indicators = append(cs.indicators, ind.Name)
		if ind.MitreID != "" {
			cs.mitre = append(cs.mitre, ind.MitreID)
		}
	}

	// Combining evasion techniques is a stronger signal than either
	// alone.
	if f.HasAntiDebug && f.HasAntiVM {
		cs := bump(IntentDefenseEvasion)
		cs.score += 0.5
		cs.evidence = append(cs.evidence, "Multiple evasion techniques combined")
	}

	maxScore := 0.0
	for _, cs := range scores {
		if cs.score > maxScore {
			maxScore = cs.score
		}
	}
	if maxScore == 0 {
		maxScore = 1.0
	}

	var classifications []Classification
	for _, cat := range order {
		cs := scores[cat]
		if cs.score <= 0 {
			continue
		}
		confidence := cs.score / maxScore
		if confidence > 1.0 {
			confidence = 1.0
		}
		severity := aether.SeverityLow
		switch {
		case confidence >= 0.8:
			severity = aether.SeverityCritical
		case confidence >= 0.6:
			severity = aether.SeverityHigh
		case confidence >= 0.4:
			severity = aether.SeverityMedium
		}
		classifications = append(classifications, Classification{
			Category:      cat,
			Confidence:    confidence,
			EvidenceChain: cs.evidence,
			Indicators:    cs.indicators,
			MitreIDs:      dedupe(cs.mitre),
			Severity:      severity,
		})
	}

	sort.SliceStable(classifications, func(i, j int) bool {
		return classifications[i].Confidence > classifications[j].Confidence
	})
	return classifications
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
