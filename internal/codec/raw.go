package codec

import "encoding/json"

// RawJSONBackend treats every schema id as "plain JSON, no registry
// lookup": Encode marshals v directly and Decode unmarshals into a
// map[string]interface{}. Used where a Producer/Consumer pair in tests
// wants wire framing without standing up a full schema registry.
type RawJSONBackend struct{}

func NewRawJSONBackend() *RawJSONBackend { return &RawJSONBackend{} }

func (RawJSONBackend) Encode(schemaID int, v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (RawJSONBackend) Decode(schemaID int, payload []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// StaticLookup is a SchemaLookup that always returns the same id,
// appropriate when paired with RawJSONBackend.
type StaticLookup struct{ ID int }

func (s StaticLookup) SchemaID(subject string) (int, error) { return s.ID, nil }
