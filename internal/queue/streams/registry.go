package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema is returned when no schema is registered for an event.
var ErrUnknownSchema = errors.New("streams: unknown event schema")

type schemaKey struct {
	eventType string
	version   string
}

// SchemaRegistry holds compiled JSON Schemas keyed by event type and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema)}
}

// Register compiles schemaBytes for eventType/version, replacing any earlier entry.
func (r *SchemaRegistry) Register(eventType, version string, schemaBytes []byte) error {
	if eventType == "" || version == "" {
		return errors.New("event type and version must be provided")
	}
	if len(schemaBytes) == 0 {
		return errors.New("schema is empty")
	}
	url := fmt.Sprintf("%s.%s.json", eventType, version)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schemaKey{eventType, version}] = compiled
	return nil
}

// Validate checks payload against the schema registered for eventType/version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownSchema, eventType, version)
	}
	if len(payload) == 0 {
		return errors.New("payload is empty")
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}
