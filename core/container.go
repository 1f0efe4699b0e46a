package core

import (
	"fmt"
	"reflect"
	"sync"
)

// AdapterContainer maps resource types to their resource adapters.
//
// Adapters are constructed on first use and memoized for the lifetime of the
// container. A container may be shared by many stores.
type AdapterContainer struct {
	mu            sync.Mutex
	registrations map[string]*Registration
	instances     map[string]ResourceAdapter
	models        map[reflect.Type]string
	typeOrder     []string // Track registration order for consistent listing
}

// Registration is the registry entry for one resource type.
type Registration struct {
	container    *AdapterContainer
	resourceType string
	factory      AdapterFactory
	schema       Schema
}

// NewAdapterContainer creates an empty container
func NewAdapterContainer() *AdapterContainer {
	return &AdapterContainer{
		registrations: make(map[string]*Registration),
		instances:     make(map[string]ResourceAdapter),
		models:        make(map[reflect.Type]string),
		typeOrder:     make([]string, 0),
	}
}

// Register registers the adapter factory for a resource type. Registering a
// type again replaces its factory and discards a memoized adapter.
func (c *AdapterContainer) Register(resourceType string, factory AdapterFactory) *Registration {
	if resourceType == "" {
		panic("Register expects a non-empty resource type")
	}
	if factory == nil {
		panic(fmt.Sprintf("Register expects an adapter factory for %q", resourceType))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	registration, exists := c.registrations[resourceType]
	if !exists {
		registration = &Registration{container: c, resourceType: resourceType}
		c.registrations[resourceType] = registration
		c.typeOrder = append(c.typeOrder, resourceType)
	}
	registration.factory = factory
	delete(c.instances, resourceType)

	return registration
}

// RegisterAdapter registers an already constructed adapter.
func (c *AdapterContainer) RegisterAdapter(resourceType string, adapter ResourceAdapter) *Registration {
	if adapter == nil {
		panic(fmt.Sprintf("RegisterAdapter expects an adapter for %q", resourceType))
	}
	return c.Register(resourceType, func() ResourceAdapter { return adapter })
}

// WithSchema sets the schema used to extract ids from records of this type
func (r *Registration) WithSchema(schema Schema) *Registration {
	r.container.mu.Lock()
	defer r.container.mu.Unlock()
	r.schema = schema
	return r
}

// WithModel maps the Go type of model to this resource type, so records of
// that type can be resolved with AdapterForRecord.
func (r *Registration) WithModel(model any) *Registration {
	if model == nil {
		panic("WithModel expects a non-nil model")
	}
	r.container.mu.Lock()
	defer r.container.mu.Unlock()
	r.container.models[reflect.TypeOf(model)] = r.resourceType
	return r
}

// ResourceType returns the registered resource type
func (r *Registration) ResourceType() string {
	return r.resourceType
}

// Has reports whether an adapter is registered for resourceType
func (c *AdapterContainer) Has(resourceType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.registrations[resourceType]
	return exists
}

// Types returns the registered resource types in registration order
func (c *AdapterContainer) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, len(c.typeOrder))
	copy(types, c.typeOrder)
	return types
}

// AdapterFor returns the adapter for resourceType, constructing it on first use.
// A factory returning nil is a registration defect and panics like Register.
func (c *AdapterContainer) AdapterFor(resourceType string) (ResourceAdapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if adapter, exists := c.instances[resourceType]; exists {
		return adapter, nil
	}

	registration, exists := c.registrations[resourceType]
	if !exists {
		return nil, UnknownResourceType(resourceType)
	}

	adapter := registration.factory()
	if adapter == nil {
		panic(fmt.Sprintf("adapter factory for %q returned nil", resourceType))
	}

	c.instances[resourceType] = adapter
	return adapter, nil
}

// ResourceTypeOf determines the resource type of a record, either from the
// record itself (Typed) or from a model registered with WithModel.
func (c *AdapterContainer) ResourceTypeOf(record any) (string, error) {
	if record == nil {
		return "", &Error{Code: CodeUnknownResourceType, Message: "cannot determine the resource type of a nil record"}
	}

	if typed, ok := record.(Typed); ok && typed.ResourceType() != "" {
		return typed.ResourceType(), nil
	}

	c.mu.Lock()
	resourceType, exists := c.models[reflect.TypeOf(record)]
	c.mu.Unlock()
	if !exists {
		return "", &Error{
			Code:    CodeUnknownResourceType,
			Message: fmt.Sprintf("no resource type registered for records of type %T", record),
		}
	}
	return resourceType, nil
}

// AdapterForRecord resolves the adapter for the resource type of record.
func (c *AdapterContainer) AdapterForRecord(record any) (ResourceAdapter, error) {
	resourceType, err := c.ResourceTypeOf(record)
	if err != nil {
		return nil, err
	}
	return c.AdapterFor(resourceType)
}

// SchemaFor implements SchemaContainer.
func (c *AdapterContainer) SchemaFor(resourceType string) (Schema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	registration, exists := c.registrations[resourceType]
	if !exists || registration.schema == nil {
		return nil, false
	}
	return registration.schema, true
}
