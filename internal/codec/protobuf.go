package codec

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ProtobufBackend (de)serializes messages using the schema-registry
// Protobuf convention: a message-index array precedes the proto bytes,
// identifying which nested message type within the registered .proto file
// is in use. A single top-level message is encoded as the one-byte index
// array [0], matching the registry's own optimization.
type ProtobufBackend struct {
	mu       sync.RWMutex
	messages map[int]protoreflect.MessageType
	indexes  map[int][]int
}

func NewProtobufBackend() *ProtobufBackend {
	return &ProtobufBackend{
		messages: make(map[int]protoreflect.MessageType),
		indexes:  make(map[int][]int),
	}
}

// Register associates schema id with the message type produced when
// decoding, and the message-index path to use when encoding (nil or
// []int{0} for the common single-top-level-message case).
func (b *ProtobufBackend) Register(id int, msg proto.Message, messageIndex []int) {
	if messageIndex == nil {
		messageIndex = []int{0}
	}
	b.mu.Lock()
	b.messages[id] = msg.ProtoReflect().Type()
	b.indexes[id] = messageIndex
	b.mu.Unlock()
}

func (b *ProtobufBackend) Encode(schemaID int, v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("value for schema %d is not a proto.Message", schemaID)
	}
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("proto marshal schema %d: %w", schemaID, err)
	}
	b.mu.RLock()
	idx := b.indexes[schemaID]
	b.mu.RUnlock()
	if idx == nil {
		idx = []int{0}
	}
	return append(encodeMessageIndexes(idx), raw...), nil
}

func (b *ProtobufBackend) Decode(schemaID int, payload []byte) (interface{}, error) {
	_, rest, err := decodeMessageIndexes(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding message index for schema %d: %w", schemaID, err)
	}
	b.mu.RLock()
	mt, ok := b.messages[schemaID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no proto message type registered for schema %d", schemaID)
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(rest, msg); err != nil {
		return nil, fmt.Errorf("proto unmarshal schema %d: %w", schemaID, err)
	}
	return msg, nil
}

// encodeMessageIndexes encodes a message-index path as the registry does:
// [0] collapses to the single byte 0x00; otherwise a varint count followed
// by a varint per index.
func encodeMessageIndexes(idx []int) []byte {
	if len(idx) == 1 && idx[0] == 0 {
		return []byte{0x00}
	}
	out := appendVarint(nil, uint64(len(idx)))
	for _, i := range idx {
		out = appendVarint(out, uint64(i))
	}
	return out
}

// decodeMessageIndexes parses the leading message-index array and returns
// the indexes plus the remaining bytes (the proto payload).
func decodeMessageIndexes(b []byte) ([]int, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("empty payload")
	}
	count, rest, err := readVarint(b)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return []int{0}, rest, nil
	}
	idx := make([]int, 0, count)
	for i := uint64(0); i < count; i++ {
		v, r, err := readVarint(rest)
		if err != nil {
			return nil, nil, err
		}
		idx = append(idx, int(v))
		rest = r
	}
	return idx, rest, nil
}

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func readVarint(b []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, fmt.Errorf("truncated varint")
}
