package core

// ResourceIdentifier addresses one domain record by resource type and id.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewResourceIdentifier validates and returns an identifier.
func NewResourceIdentifier(resourceType, id string) (ResourceIdentifier, error) {
	identifier := ResourceIdentifier{Type: resourceType, ID: id}
	if err := identifier.Validate(); err != nil {
		return ResourceIdentifier{}, err
	}
	return identifier, nil
}

// Validate checks that both type and id are non-empty.
func (ri ResourceIdentifier) Validate() error {
	if ri.Type == "" || ri.ID == "" {
		return &Error{
			Code:         CodeInvalidIdentifier,
			Message:      "resource identifier requires a type and an id",
			ResourceType: ri.Type,
			ID:           ri.ID,
		}
	}
	return nil
}

// String returns "type:id".
func (ri ResourceIdentifier) String() string {
	return ri.Type + ":" + ri.ID
}

// RelationshipDocument describes the linkage of a relationship: either a
// single identifier or null (to-one), or a possibly empty list (to-many).
// Build values with ToOne, Null or ToMany.
type RelationshipDocument struct {
	many bool
	one  *ResourceIdentifier
	list []ResourceIdentifier
}

// ToOne returns a to-one document. A nil identifier is the same as Null.
func ToOne(identifier *ResourceIdentifier) RelationshipDocument {
	if identifier == nil {
		return Null()
	}
	id := *identifier
	return RelationshipDocument{one: &id}
}

// Null returns a to-one document with null data.
func Null() RelationshipDocument {
	return RelationshipDocument{}
}

// ToMany returns a to-many document.
func ToMany(identifiers ...ResourceIdentifier) RelationshipDocument {
	list := make([]ResourceIdentifier, len(identifiers))
	copy(list, identifiers)
	return RelationshipDocument{many: true, list: list}
}

// IsToMany reports whether the document carries a list of identifiers.
func (d RelationshipDocument) IsToMany() bool {
	return d.many
}

// IsNull reports whether the document is to-one with null data.
func (d RelationshipDocument) IsNull() bool {
	return !d.many && d.one == nil
}

// Identifier returns the to-one identifier, or nil for null and to-many documents.
func (d RelationshipDocument) Identifier() *ResourceIdentifier {
	if d.many || d.one == nil {
		return nil
	}
	id := *d.one
	return &id
}

// Identifiers returns the to-many identifiers. For a to-one document it
// returns the single identifier, or an empty slice for null.
func (d RelationshipDocument) Identifiers() []ResourceIdentifier {
	if !d.many {
		if d.one == nil {
			return []ResourceIdentifier{}
		}
		return []ResourceIdentifier{*d.one}
	}
	out := make([]ResourceIdentifier, len(d.list))
	copy(out, d.list)
	return out
}

// Validate checks every identifier in the document.
func (d RelationshipDocument) Validate() error {
	for _, identifier := range d.Identifiers() {
		if err := identifier.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResourcePayload is a decoded resource document used for create and update.
type ResourcePayload struct {
	Type          string                          `json:"type"`
	ID            string                          `json:"id,omitempty"`
	Attributes    map[string]any                  `json:"attributes,omitempty"`
	Relationships map[string]RelationshipDocument `json:"-"`
}

// NewResourcePayload returns an empty payload for resourceType.
func NewResourcePayload(resourceType string) *ResourcePayload {
	return &ResourcePayload{
		Type:          resourceType,
		Attributes:    make(map[string]any),
		Relationships: make(map[string]RelationshipDocument),
	}
}

// WithAttribute sets an attribute
func (p *ResourcePayload) WithAttribute(name string, value any) *ResourcePayload {
	if p.Attributes == nil {
		p.Attributes = make(map[string]any)
	}
	p.Attributes[name] = value
	return p
}

// WithRelationship sets a relationship document
func (p *ResourcePayload) WithRelationship(field string, doc RelationshipDocument) *ResourcePayload {
	if p.Relationships == nil {
		p.Relationships = make(map[string]RelationshipDocument)
	}
	p.Relationships[field] = doc
	return p
}
