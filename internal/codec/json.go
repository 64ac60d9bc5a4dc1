package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONBackend validates and (de)serializes JSON payloads against
// registered JSON Schema documents, keyed by schema id.
type JSONBackend struct {
	mu      sync.RWMutex
	schemas map[int]*jsonschema.Schema
}

func NewJSONBackend() *JSONBackend {
	return &JSONBackend{schemas: make(map[int]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with id. A registry
// client populates this as it resolves schema ids.
func (b *JSONBackend) Register(id int, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("mem://schema/%d", id)
	if err := compiler.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("adding json schema resource: %w", err)
	}
	sch, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compiling json schema %d: %w", id, err)
	}
	b.mu.Lock()
	b.schemas[id] = sch
	b.mu.Unlock()
	return nil
}

func (b *JSONBackend) Encode(schemaID int, v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}
	if err := b.validate(schemaID, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *JSONBackend) Decode(schemaID int, payload []byte) (interface{}, error) {
	if err := b.validate(schemaID, payload); err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return v, nil
}

func (b *JSONBackend) validate(schemaID int, raw []byte) error {
	b.mu.RLock()
	sch, ok := b.schemas[schemaID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no json schema registered for id %d", schemaID)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshaling for validation: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("json schema validation failed: %w", err)
	}
	return nil
}
