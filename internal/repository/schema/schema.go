// Package schema loads model definitions from YAML files.
//
//	classes:
//	  - id: task
//	    extends: doc
//	    attributes:
//	      status: string
//	      tasks: array<instance<subtask>>
package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
)

type file struct {
	Classes []classDef `yaml:"classes"`
}

type classDef struct {
	ID         string    `yaml:"id"`
	Extends    string    `yaml:"extends"`
	Domain     string    `yaml:"domain"`
	Mixin      bool      `yaml:"mixin"`
	Attributes yaml.Node `yaml:"attributes"`
}

// Load reads and parses a model definition file.
func Load(path string) (*model.Model, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// Parse builds a model from YAML. Attribute types use the model.ParseType syntax.
func Parse(data []byte) (*model.Model, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("model defines no classes")
	}

	classes := make([]model.Class, 0, len(f.Classes))
	for _, def := range f.Classes {
		attrs, err := parseAttributes(def)
		if err != nil {
			return nil, err
		}
		classes = append(classes, model.Class{
			ID:         domain.ClassRef(def.ID),
			Extends:    domain.ClassRef(def.Extends),
			Domain:     domain.DomainName(def.Domain),
			Mixin:      def.Mixin,
			Attributes: attrs,
		})
	}
	return model.New(classes...)
}

// parseAttributes decodes the attribute mapping, rejecting duplicate keys which a plain
// map decode would silently collapse.
func parseAttributes(def classDef) (map[string]model.AttributeType, error) {
	node := def.Attributes
	if node.Kind == 0 {
		return map[string]model.AttributeType{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("class %q: attributes must be a mapping (line %d)", def.ID, node.Line)
	}
	attrs := make(map[string]model.AttributeType, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if _, dup := attrs[key.Value]; dup {
			return nil, fmt.Errorf("class %q: duplicate attribute %q (line %d)", def.ID, key.Value, key.Line)
		}
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("class %q: attribute %q type must be a string (line %d)", def.ID, key.Value, value.Line)
		}
		t, err := model.ParseType(value.Value)
		if err != nil {
			return nil, fmt.Errorf("class %q: attribute %q: %w", def.ID, key.Value, err)
		}
		attrs[key.Value] = t
	}
	return attrs, nil
}
