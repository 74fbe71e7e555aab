// Package policydoc loads the three-layer policy document (active,
// shadow, breakglass) from YAML or JSON on disk into the contracts
// types the gate binds.
package policydoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/failcore/core/pkg/contracts"
)

// Document is the on-disk shape of a policy file. Shadow and
// Breakglass are optional layers; Active is required.
type Document struct {
	Active     contracts.Policy  `yaml:"active" json:"active"`
	Shadow     *contracts.Policy `yaml:"shadow,omitempty" json:"shadow,omitempty"`
	Breakglass *contracts.Policy `yaml:"breakglass,omitempty" json:"breakglass,omitempty"`
}

// Load reads a policy document from path, dispatching on its extension
// (.yaml/.yml vs .json).
func Load(path string) (contracts.PolicyLayers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contracts.PolicyLayers{}, fmt.Errorf("policydoc: read %s: %w", path, err)
	}
	return Parse(data, formatFor(path))
}

// Format names a supported serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Parse decodes raw policy document bytes in the given format.
func Parse(data []byte, format Format) (contracts.PolicyLayers, error) {
	var doc Document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return contracts.PolicyLayers{}, fmt.Errorf("policydoc: parse: %w", err)
	}
	if doc.Active.Version == "" {
		return contracts.PolicyLayers{}, fmt.Errorf("policydoc: active policy missing a version")
	}
	if doc.Active.Validators == nil {
		doc.Active.Validators = map[string]contracts.ValidatorConfig{}
	}
	return contracts.PolicyLayers{Active: doc.Active, Shadow: doc.Shadow, Breakglass: doc.Breakglass}, nil
}

// LoadRulesRegistryPath resolves the rules registry file adjacent to a
// policy document, following the same directory-relative convention
// profile loading uses — "<policy-dir>/rules.yaml" unless overridden.
func LoadRulesRegistryPath(policyPath string) string {
	return filepath.Join(filepath.Dir(policyPath), "rules.yaml")
}
