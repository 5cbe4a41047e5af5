package plugin

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ManifestFilename is the manifest every plugin bundle carries.
const ManifestFilename = "plugin.yaml"

// Kind classifies what an analyzer does.
type Kind string

const (
	KindDetector      Kind = "detector"
	KindDiffer        Kind = "differ"
	KindTracer        Kind = "tracer"
	KindReconstructor Kind = "reconstructor"
	KindInferencer    Kind = "inferencer"
	KindAnalyzer      Kind = "analyzer"
	KindReporter      Kind = "reporter"
)

var validKinds = map[Kind]bool{
	KindDetector:      true,
	KindDiffer:        true,
	KindTracer:        true,
	KindReconstructor: true,
	KindInferencer:    true,
	KindAnalyzer:      true,
	KindReporter:      true,
}

// ValidKind reports whether k is a known plugin kind.
func ValidKind(k Kind) bool { return validKinds[k] }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Manifest is a parsed plugin.yaml.
type Manifest struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Kind         Kind           `yaml:"kind"`
	Capabilities []string       `yaml:"capabilities"`
	Description  string         `yaml:"description"`
	Author       string         `yaml:"author"`
	Inputs       []string       `yaml:"inputs"`
	Outputs      []string       `yaml:"outputs"`
	Dependencies []string       `yaml:"dependencies"`
	ConfigSchema map[string]any `yaml:"config_schema"`
}

// ParseManifest decodes a plugin.yaml document and checks the required
// fields are present and the kind is known.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for field, value := range map[string]string{
		"id":      m.ID,
		"name":    m.Name,
		"version": m.Version,
		"kind":    string(m.Kind),
	} {
		if value == "" {
			return nil, fmt.Errorf("missing required manifest field: %s", field)
		}
	}
	if !ValidKind(m.Kind) {
		return nil, fmt.Errorf("unknown plugin kind %q", m.Kind)
	}
	return &m, nil
}

// Validate checks manifest field values.
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return fmt.Errorf("invalid plugin id %q", m.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}
	return nil
}

// HasCapability reports whether the manifest declares capability.
func (m *Manifest) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
