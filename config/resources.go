package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Relationship kinds
const (
	KindToOne  = "to-one"
	KindToMany = "to-many"
)

// Key strategies
const (
	KeysAuto   = "auto"
	KeysUUID   = "uuid"
	KeysClient = "client"
)

// Resources is the parsed resource definition file.
type Resources struct {
	// Migrations are SQL statements applied in order when the database is opened.
	Migrations []string `yaml:"migrations,omitempty"`

	// Resources lists the resource types in registration order.
	Resources []ResourceDefinition `yaml:"resources"`
}

// ResourceDefinition maps one resource type onto a table.
type ResourceDefinition struct {
	Type     string `yaml:"type"`
	Table    string `yaml:"table,omitempty"`
	IDColumn string `yaml:"id_column,omitempty"`

	// Keys is one of auto, uuid or client. Defaults to auto.
	Keys string `yaml:"keys,omitempty"`

	Relationships []RelationshipDefinition `yaml:"relationships,omitempty"`
}

// RelationshipDefinition describes one relationship field.
//
// A to-one relationship is stored in ForeignKey on the resource's own table.
// A to-many relationship is stored in Pivot, where LocalKey references the
// resource and ForeignKey the related resource.
type RelationshipDefinition struct {
	Field      string `yaml:"field"`
	Kind       string `yaml:"kind"`
	Type       string `yaml:"type"`
	ForeignKey string `yaml:"foreign_key"`
	Pivot      string `yaml:"pivot,omitempty"`
	LocalKey   string `yaml:"local_key,omitempty"`
}

// LoadResources reads and parses a resource definition file.
// Unknown fields are rejected.
func LoadResources(path string) (*Resources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource file: %w", err)
	}
	return ParseResources(data)
}

// ParseResources parses and validates resource definitions.
func ParseResources(data []byte) (*Resources, error) {
	var resources Resources
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	resources.applyDefaults()
	if err := resources.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resources: %w", err)
	}
	return &resources, nil
}

func (r *Resources) applyDefaults() {
	for i := range r.Resources {
		def := &r.Resources[i]
		if def.Table == "" {
			def.Table = def.Type
		}
		if def.IDColumn == "" {
			def.IDColumn = "id"
		}
		if def.Keys == "" {
			def.Keys = KeysAuto
		}
	}
}

// Validate checks the definitions for consistency.
func (r *Resources) Validate() error {
	if len(r.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}

	types := make(map[string]bool, len(r.Resources))
	for _, def := range r.Resources {
		if def.Type == "" {
			return fmt.Errorf("resource type is required")
		}
		if types[def.Type] {
			return fmt.Errorf("duplicate resource type %q", def.Type)
		}
		types[def.Type] = true

		switch def.Keys {
		case KeysAuto, KeysUUID, KeysClient:
		default:
			return fmt.Errorf("%s: unknown key strategy %q", def.Type, def.Keys)
		}
	}

	for _, def := range r.Resources {
		fields := make(map[string]bool, len(def.Relationships))
		for _, rel := range def.Relationships {
			if err := rel.validate(types); err != nil {
				return fmt.Errorf("%s: %w", def.Type, err)
			}
			if fields[rel.Field] {
				return fmt.Errorf("%s: duplicate relationship %q", def.Type, rel.Field)
			}
			fields[rel.Field] = true
		}
	}
	return nil
}

func (rel RelationshipDefinition) validate(types map[string]bool) error {
	if rel.Field == "" {
		return fmt.Errorf("relationship field is required")
	}
	if !types[rel.Type] {
		return fmt.Errorf("relationship %q references unknown type %q", rel.Field, rel.Type)
	}
	if rel.ForeignKey == "" {
		return fmt.Errorf("relationship %q requires foreign_key", rel.Field)
	}

	switch rel.Kind {
	case KindToOne:
		if rel.Pivot != "" || rel.LocalKey != "" {
			return fmt.Errorf("relationship %q: pivot and local_key only apply to to-many", rel.Field)
		}
	case KindToMany:
		if rel.Pivot == "" || rel.LocalKey == "" {
			return fmt.Errorf("relationship %q requires pivot and local_key", rel.Field)
		}
	default:
		return fmt.Errorf("relationship %q: unknown kind %q", rel.Field, rel.Kind)
	}
	return nil
}

// Lookup returns the definition of resourceType
func (r *Resources) Lookup(resourceType string) (ResourceDefinition, bool) {
	for _, def := range r.Resources {
		if def.Type == resourceType {
			return def, true
		}
	}
	return ResourceDefinition{}, false
}

// Relationship returns the definition of a relationship field
func (d ResourceDefinition) Relationship(field string) (RelationshipDefinition, bool) {
	for _, rel := range d.Relationships {
		if rel.Field == field {
			return rel, true
		}
	}
	return RelationshipDefinition{}, false
}
