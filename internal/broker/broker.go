// Package broker defines the thin seam between the core's stream actors
// and a concrete broker client library, per spec §9 Design Notes
// ("keep the wire framing explicit in-repo; the vendor client is injected
// through a thin trait"). ProducerClient/ConsumerClient never leak a
// vendor type signature into the Execution FSM or Scheduler.
package broker

import (
	"context"

	"github.com/estuary/test-probe/internal/model"
)

// ProducerClient publishes one Envelope at a time to a single topic.
type ProducerClient interface {
	Write(ctx context.Context, env model.Envelope) error
	// Flush blocks until in-flight writes are acknowledged, up to the
	// context deadline.
	Flush(ctx context.Context) error
	Close() error
}

// ConsumedMessage is one polled record plus its broker-assigned partition
// and offset, used by the Consumer Stream to batch commits per partition.
type ConsumedMessage struct {
	Envelope  model.Envelope
	Partition int
	Offset    int64
}

// ConsumerClient polls one topic under a single consumer group.
type ConsumerClient interface {
	// Poll blocks until a message is available or ctx is done.
	Poll(ctx context.Context) (ConsumedMessage, error)
	// CommitOffsets commits, per partition, up to and including the given
	// offset. At-least-once.
	CommitOffsets(ctx context.Context, offsets map[int]int64) error
	// Close stops the client immediately without draining (spec §4.5).
	Close() error
}

// Factory constructs broker clients for a topic, given its effective
// bootstrap servers and credentials (spec §4.3 phase 3).
type Factory interface {
	NewProducer(ctx context.Context, topic, bootstrapServers string, creds model.Credentials) (ProducerClient, error)
	NewConsumer(ctx context.Context, topic, bootstrapServers, groupID string, creds model.Credentials) (ConsumerClient, error)
}
