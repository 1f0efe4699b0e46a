package cli

import (
	"fmt"
	"strings"

	"github.com/preslavrachev/apistore/config"
	"github.com/preslavrachev/apistore/core"
)

const nullValue = "null"

// parseAssignments turns k=v flags into an attribute map. The literal
// value null becomes nil.
func parseAssignments(values []string) (map[string]any, error) {
	attributes := make(map[string]any, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", value)
		}
		if raw == nullValue {
			attributes[name] = nil
			continue
		}
		attributes[name] = raw
	}
	return attributes, nil
}

// parseFilters turns k=v flags into filters. A key given more than once
// matches any of its values.
func parseFilters(values []string) (map[string]any, error) {
	filters := make(map[string]any, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", value)
		}

		switch existing := filters[name].(type) {
		case nil:
			if _, seen := filters[name]; seen {
				return nil, fmt.Errorf("filter %q: null cannot be combined with values", name)
			}
			if raw == nullValue {
				filters[name] = nil
			} else {
				filters[name] = raw
			}
		case string:
			filters[name] = []string{existing, raw}
		case []string:
			filters[name] = append(existing, raw)
		}
	}
	return filters, nil
}

// parseRef parses a type:id reference.
func parseRef(value string) (core.ResourceIdentifier, error) {
	resourceType, id, ok := strings.Cut(value, ":")
	if !ok {
		return core.ResourceIdentifier{}, fmt.Errorf("expected type:id, got %q", value)
	}
	return core.NewResourceIdentifier(resourceType, id)
}

// relationshipDocument builds the document for rel from references.
// A to-one field takes at most one reference; none or null clears it.
func relationshipDocument(rel config.RelationshipDefinition, refs []string) (core.RelationshipDocument, error) {
	if rel.Kind == config.KindToMany {
		identifiers := make([]core.ResourceIdentifier, 0, len(refs))
		for _, ref := range refs {
			identifier, err := parseRef(ref)
			if err != nil {
				return core.RelationshipDocument{}, err
			}
			identifiers = append(identifiers, identifier)
		}
		return core.ToMany(identifiers...), nil
	}

	switch {
	case len(refs) == 0 || (len(refs) == 1 && refs[0] == nullValue):
		return core.Null(), nil
	case len(refs) == 1:
		identifier, err := parseRef(refs[0])
		if err != nil {
			return core.RelationshipDocument{}, err
		}
		return core.ToOne(&identifier), nil
	default:
		return core.RelationshipDocument{}, fmt.Errorf("%s is a to-one relationship, got %d references", rel.Field, len(refs))
	}
}

// parseRelationships turns field=type:id,type:id flags into relationship
// documents using the cardinality declared in def.
func parseRelationships(def config.ResourceDefinition, values []string) (map[string]core.RelationshipDocument, error) {
	docs := make(map[string]core.RelationshipDocument, len(values))
	for _, value := range values {
		field, raw, ok := strings.Cut(value, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("expected field=type:id[,type:id], got %q", value)
		}
		rel, ok := def.Relationship(field)
		if !ok {
			return nil, core.MissingRelationship(def.Type, field)
		}

		var refs []string
		if raw != "" {
			refs = strings.Split(raw, ",")
		}
		doc, err := relationshipDocument(rel, refs)
		if err != nil {
			return nil, err
		}
		docs[field] = doc
	}
	return docs, nil
}

// buildPayload assembles a payload from attribute and relationship flags.
func buildPayload(def config.ResourceDefinition, id string, attrs, rels []string) (*core.ResourcePayload, error) {
	attributes, err := parseAssignments(attrs)
	if err != nil {
		return nil, err
	}
	relationships, err := parseRelationships(def, rels)
	if err != nil {
		return nil, err
	}

	payload := core.NewResourcePayload(def.Type)
	payload.ID = id
	for name, value := range attributes {
		payload.WithAttribute(name, value)
	}
	for field, doc := range relationships {
		payload.WithRelationship(field, doc)
	}
	return payload, nil
}

// lookupType resolves a resource definition or reports an unknown type.
func lookupType(resources *config.Resources, resourceType string) (config.ResourceDefinition, error) {
	def, ok := resources.Lookup(resourceType)
	if !ok {
		return config.ResourceDefinition{}, core.UnknownResourceType(resourceType)
	}
	return def, nil
}
