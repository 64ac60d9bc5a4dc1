package codec

import (
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// AvroBackend binary-encodes and decodes against registered writer
// schemas, keyed by schema id. Decode resolves against the same schema as
// writer and reader; the registry is expected to have already done
// schema-compatibility resolution before assigning an id.
type AvroBackend struct {
	mu      sync.RWMutex
	schemas map[int]avro.Schema
}

func NewAvroBackend() *AvroBackend {
	return &AvroBackend{schemas: make(map[int]avro.Schema)}
}

// Register parses schemaText (Avro schema JSON) and associates it with id.
func (b *AvroBackend) Register(id int, schemaText string) error {
	sch, err := avro.Parse(schemaText)
	if err != nil {
		return fmt.Errorf("parsing avro schema %d: %w", id, err)
	}
	b.mu.Lock()
	b.schemas[id] = sch
	b.mu.Unlock()
	return nil
}

func (b *AvroBackend) schemaFor(id int) (avro.Schema, error) {
	b.mu.RLock()
	sch, ok := b.schemas[id]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no avro schema registered for id %d", id)
	}
	return sch, nil
}

func (b *AvroBackend) Encode(schemaID int, v interface{}) ([]byte, error) {
	sch, err := b.schemaFor(schemaID)
	if err != nil {
		return nil, err
	}
	out, err := avro.Marshal(sch, v)
	if err != nil {
		return nil, fmt.Errorf("avro marshal schema %d: %w", schemaID, err)
	}
	return out, nil
}

func (b *AvroBackend) Decode(schemaID int, payload []byte) (interface{}, error) {
	sch, err := b.schemaFor(schemaID)
	if err != nil {
		return nil, err
	}
	var v map[string]interface{}
	if err := avro.Unmarshal(sch, payload, &v); err != nil {
		return nil, fmt.Errorf("avro unmarshal schema %d: %w", schemaID, err)
	}
	return v, nil
}
