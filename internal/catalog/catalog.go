// Package catalog holds the declarative tool catalog: every
// provisioning operation the gateway exposes, with its SOAP binding
// and input schema. Adding an operation means adding a catalog entry,
// not writing a handler.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var toolsYAML []byte

// Tool describes one provisioning operation.
type Tool struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Service     string   `yaml:"service"` // SOAP agent: pbx, billing, report, channel
	Method      string   `yaml:"method"`  // SOAP operation name
	AllowedKeys []string `yaml:"allowedKeys"`
	Required    []string `yaml:"required"`

	// Properties preserves catalog order so generated schemas and
	// documentation stay stable.
	Properties []Property `yaml:"properties"`
}

// Property is one input parameter of a tool.
type Property struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // string, integer, boolean
	Description string   `yaml:"description"`
	Enum        []string `yaml:"enum"`
	Minimum     *float64 `yaml:"minimum"`
	Default     any      `yaml:"default"`
}

// Load parses the embedded catalog.
func Load() ([]Tool, error) {
	var tools []Tool
	if err := yaml.Unmarshal(toolsYAML, &tools); err != nil {
		return nil, fmt.Errorf("parsing tool catalog: %w", err)
	}

	for _, t := range tools {
		if t.Name == "" || t.Service == "" || t.Method == "" {
			return nil, fmt.Errorf("catalog entry %q missing name, service, or method", t.Name)
		}
	}

	return tools, nil
}

// Allows reports whether the tool accepts the given argument key.
func (t Tool) Allows(key string) bool {
	for _, k := range t.AllowedKeys {
		if k == key {
			return true
		}
	}

	return false
}

// InputSchema builds the JSON schema for the tool's arguments. Unknown
// properties are rejected by the schema itself.
func (t Tool) InputSchema() (*jsonschema.Schema, error) {
	props := make(map[string]*jsonschema.Schema, len(t.Properties))

	for _, p := range t.Properties {
		s := &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
			Minimum:     p.Minimum,
		}

		for _, v := range p.Enum {
			s.Enum = append(s.Enum, v)
		}

		if p.Default != nil {
			raw, err := json.Marshal(p.Default)
			if err != nil {
				return nil, fmt.Errorf("tool %s: default for %s: %w", t.Name, p.Name, err)
			}

			s.Default = raw
		}

		props[p.Name] = s
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   t.Required,
		// additionalProperties: false
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}, nil
}
