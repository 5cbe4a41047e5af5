// Package plugins ships the builtin analyzer bundles. Each bundle is
// an embedded plugin.yaml manifest plus a bound Go factory; external
// bundles discovered from disk extend the same registry.
package plugins

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/plugins/laintrace"
	"github.com/aetherframe/aetherframe/internal/plugins/mnemosyne"
	"github.com/aetherframe/aetherframe/internal/plugins/noema"
	"github.com/aetherframe/aetherframe/internal/plugins/staticanalyzer"
	"github.com/aetherframe/aetherframe/internal/plugins/umbriel"
	"github.com/aetherframe/aetherframe/internal/plugins/valkyrie"
)

//go:embed bundles
var bundleFS embed.FS

// factories maps builtin bundle ids to their implementations.
var factories = map[string]plugin.Factory{
	"umbriel":         umbriel.New,
	"static_analyzer": staticanalyzer.New,
	"valkyrie":        valkyrie.New,
	"noema":           noema.New,
	"laintrace":       laintrace.New,
	"mnemosyne":       mnemosyne.New,
}

// Register discovers the embedded builtin bundles in r and binds their
// factories. Every embedded manifest must have an implementation; a
// mismatch is a build defect, not a runtime condition to tolerate.
func Register(r *plugin.Registry) error {
	bundles, err := fs.Sub(bundleFS, "bundles")
	if err != nil {
		return fmt.Errorf("builtin bundles: %w", err)
	}
	ids, err := r.Discover(bundles)
	if err != nil {
		return fmt.Errorf("discover builtin bundles: %w", err)
	}
	if len(ids) != len(factories) {
		return fmt.Errorf("discovered %d builtin bundles, want %d", len(ids), len(factories))
	}
	for _, id := range ids {
		factory, ok := factories[id]
		if !ok {
			return fmt.Errorf("builtin bundle %q has no factory", id)
		}
		if err := r.Bind(id, factory); err != nil {
			return err
		}
	}
	return nil
}
