// Package codec implements the schema-registry wire framing of spec §4.6
// and §6 ("Broker wire framing"): a 0x00 magic byte, a 4-byte big-endian
// schema id, an optional Protobuf message-index array, then the payload.
// Concrete encodings (JSON/Avro/Protobuf) are pluggable backends behind a
// single Codec type, so the vendor schema-registry client never leaks
// into the core (spec §9 Design Notes).
package codec

import (
	"encoding/binary"
	"fmt"
)

const magicByte = 0x00

// Backend encodes and decodes the payload portion of the wire format for
// one schema. It does not know about framing; Codec handles that.
type Backend interface {
	// Encode serializes v against the schema identified by schemaID.
	Encode(schemaID int, v interface{}) ([]byte, error)
	// Decode deserializes payload (post-framing) against schemaID into a
	// new value of the backend's record type.
	Decode(schemaID int, payload []byte) (interface{}, error)
}

// SchemaLookup resolves a subject (spec §4.6: "<topic>-<RecordName>") to
// the schema id the registry currently has registered for it.
type SchemaLookup interface {
	SchemaID(subject string) (int, error)
}

// Codec frames and unframes messages for one backend.
type Codec struct {
	backend Backend
	lookup  SchemaLookup
}

func New(backend Backend, lookup SchemaLookup) *Codec {
	return &Codec{backend: backend, lookup: lookup}
}

// Encode looks up the schema id for subject, encodes v with the backend,
// and returns the fully framed wire bytes.
func (c *Codec) Encode(subject string, v interface{}) ([]byte, error) {
	id, err := c.lookup.SchemaID(subject)
	if err != nil {
		return nil, fmt.Errorf("resolving schema for subject %q: %w", subject, err)
	}
	payload, err := c.backend.Encode(id, v)
	if err != nil {
		return nil, fmt.Errorf("encoding subject %q schema %d: %w", subject, id, err)
	}

	out := make([]byte, 5+len(payload))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(id))
	copy(out[5:], payload)
	return out, nil
}

// Decode unframes wire bytes and decodes the payload with the backend.
func (c *Codec) Decode(wire []byte) (interface{}, error) {
	id, payload, err := Unframe(wire)
	if err != nil {
		return nil, err
	}
	v, err := c.backend.Decode(id, payload)
	if err != nil {
		return nil, fmt.Errorf("decoding schema %d: %w", id, err)
	}
	return v, nil
}

// Unframe splits wire bytes into their schema id and payload, validating
// the magic byte and minimum length. Exported so the Protobuf backend can
// additionally parse the message-index array that precedes its payload.
func Unframe(wire []byte) (schemaID int, payload []byte, err error) {
	if len(wire) < 5 {
		return 0, nil, fmt.Errorf("wire message too short: %d bytes", len(wire))
	}
	if wire[0] != magicByte {
		return 0, nil, fmt.Errorf("unexpected magic byte 0x%02x", wire[0])
	}
	id := binary.BigEndian.Uint32(wire[1:5])
	return int(id), wire[5:], nil
}

// Frame reassembles schema id and payload into wire bytes. Exposed for
// backends (Protobuf) that need to prepend their own message-index bytes
// to the payload before framing.
func Frame(schemaID int, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	copy(out[5:], payload)
	return out
}

// Subject returns the registry subject name for a topic and record name,
// per spec §4.6: "<topic>-<RecordName>", independently for key and value
// with no -key/-value suffix.
func Subject(topic, recordName string) string {
	return topic + "-" + recordName
}
