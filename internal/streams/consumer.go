package streams

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
	"github.com/estuary/test-probe/internal/metrics"
	"github.com/estuary/test-probe/internal/model"
)

// FetchOutcome is the Ack/Nack reply to a Fetch request (spec §4.5).
type FetchOutcome struct {
	Found bool
	Value model.ConsumedRecord
}

type fetchCmd struct {
	eventId string
	reply   chan FetchOutcome
}

// Consumer is one Consumer Stream: owns a single broker consumer client
// for Topic under one consumer group, decodes polled records, applies the
// topic's event filter, and indexes matches into a registry by eventId.
type Consumer struct {
	Topic           string
	client          broker.ConsumerClient
	codec           *codec.Codec
	filters         []model.EventFilter
	commitBatchSize int
	commitInterval  time.Duration
	keyRecordName   string
	eventIdFromKey  func(decoded interface{}) (eventType, payloadVersion, eventId string, ok bool)

	registry map[string]model.ConsumedRecord
	fetchIn  chan fetchCmd
	stop     chan chan struct{}

	DecodeErrors int

	log *log.Entry
}

// NewConsumer constructs a Consumer Stream bound to an already-started
// broker client. eventIdFromKey extracts the decoded key's event type,
// payload version, and eventId so the registry and event filter can
// operate without depending on a concrete schema; nil selects a default
// treating the decoded key as a map[string]interface{} with
// "eventType"/"payloadVersion"/"eventId" fields.
func NewConsumer(
	topic string,
	client broker.ConsumerClient,
	c *codec.Codec,
	filters []model.EventFilter,
	commitBatchSize int,
	commitInterval time.Duration,
	eventIdFromKey func(interface{}) (string, string, string, bool),
) *Consumer {
	if eventIdFromKey == nil {
		eventIdFromKey = defaultEventIdFromKey
	}
	return &Consumer{
		Topic:           topic,
		client:          client,
		codec:           c,
		filters:         filters,
		commitBatchSize: commitBatchSize,
		commitInterval:  commitInterval,
		eventIdFromKey:  eventIdFromKey,
		registry:        make(map[string]model.ConsumedRecord),
		fetchIn:         make(chan fetchCmd),
		stop:            make(chan chan struct{}),
		log:             log.WithFields(log.Fields{"component": "consumer", "topic": topic}),
	}
}

func defaultEventIdFromKey(decoded interface{}) (string, string, string, bool) {
	m, ok := decoded.(map[string]interface{})
	if !ok {
		return "", "", "", false
	}
	eventType, _ := m["eventType"].(string)
	payloadVersion, _ := m["payloadVersion"].(string)
	eventId, _ := m["eventId"].(string)
	if eventId == "" {
		return "", "", "", false
	}
	return eventType, payloadVersion, eventId, true
}

// Start launches the polling goroutine and the actor's serial handler
// loop, which is the sole mutator of the registry (spec §5).
func (c *Consumer) Start(ctx context.Context) {
	polled := make(chan broker.ConsumedMessage, 64)
	pollErrs := make(chan error, 1)

	go func() {
		for {
			msg, err := c.client.Poll(ctx)
			if err != nil {
				select {
				case pollErrs <- err:
				default:
				}
				return
			}
			select {
			case polled <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go c.run(ctx, polled, pollErrs)
}

func (c *Consumer) run(ctx context.Context, polled <-chan broker.ConsumedMessage, pollErrs <-chan error) {
	ticker := time.NewTicker(c.commitInterval)
	defer ticker.Stop()

	pending := make(map[int]int64)
	var uncommitted int

	commit := func() {
		if uncommitted == 0 {
			return
		}
		commitCtx, cancel := context.WithTimeout(context.Background(), c.commitInterval)
		if err := c.client.CommitOffsets(commitCtx, pending); err != nil {
			c.log.WithError(err).Warn("commit offsets failed")
		}
		cancel()
		metrics.CommitBatchSize.WithLabelValues(c.Topic).Observe(float64(uncommitted))
		pending = make(map[int]int64)
		uncommitted = 0
	}

	for {
		select {
		case <-ctx.Done():
			commit()
			return

		case <-pollErrs:
			// The broker client's read loop ended (closed or fatal); the
			// actor keeps serving Fetch against whatever the registry
			// already holds until Stop is called.

		case msg, ok := <-polled:
			if !ok {
				continue
			}
			c.ingest(msg)
			pending[msg.Partition] = msg.Offset
			uncommitted++
			if uncommitted >= c.commitBatchSize {
				commit()
			}

		case <-ticker.C:
			commit()

		case cmd := <-c.fetchIn:
			rec, found := c.registry[cmd.eventId]
			cmd.reply <- FetchOutcome{Found: found, Value: rec}

		case done := <-c.stop:
			// Stop immediately without attempting a final offset flush
			// (spec §4.3/§4.5): uncommitted records up to commitBatchSize
			// may be redelivered on the next run. Deliberate, per §5/§9.
			if err := c.client.Close(); err != nil {
				c.log.WithError(err).Warn("closing consumer client")
			}
			close(done)
			return
		}
	}
}

func (c *Consumer) ingest(msg broker.ConsumedMessage) {
	decodedKey, err := c.codec.Decode(msg.Envelope.Key)
	if err != nil {
		c.DecodeErrors++
		metrics.DecodeErrorsTotal.WithLabelValues(c.Topic).Inc()
		c.log.WithError(err).Debug("decode error, skipping record")
		return
	}
	eventType, payloadVersion, eventId, ok := c.eventIdFromKey(decodedKey)
	if !ok {
		c.DecodeErrors++
		metrics.DecodeErrorsTotal.WithLabelValues(c.Topic).Inc()
		c.log.Debug("decoded key missing eventId, skipping record")
		return
	}
	if !c.matchesFilter(eventType, payloadVersion) {
		return
	}
	// Idempotent insert: re-inserting the same eventId replaces, never
	// duplicates (spec §3 ConsumedRecord, §8 P8).
	c.registry[eventId] = model.ConsumedRecord{
		EventId: eventId,
		Key:     msg.Envelope.Key,
		Value:   msg.Envelope.Value,
		Headers: msg.Envelope.Headers,
	}
}

func (c *Consumer) matchesFilter(eventType, payloadVersion string) bool {
	if len(c.filters) == 0 {
		return true
	}
	for _, f := range c.filters {
		if f.EventType == eventType && f.PayloadVersion == payloadVersion {
			return true
		}
	}
	return false
}

// Fetch asks the consumer actor to look up eventId in its registry.
func (c *Consumer) Fetch(ctx context.Context, eventId string) (FetchOutcome, error) {
	reply := make(chan FetchOutcome, 1)
	select {
	case c.fetchIn <- fetchCmd{eventId: eventId, reply: reply}:
	case <-ctx.Done():
		return FetchOutcome{}, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return FetchOutcome{}, ctx.Err()
	}
}

// Stop stops the broker client immediately without draining.
func (c *Consumer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.stop <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegistrySnapshot returns a stable-ordered copy of the registry. Callers
// must only use this after Stop has returned: the run loop is the
// registry's sole mutator while the actor is live, so reading it from
// another goroutine beforehand would race.
func (c *Consumer) RegistrySnapshot() []model.ConsumedRecord {
	out := make([]model.ConsumedRecord, 0, len(c.registry))
	for _, rec := range c.registry {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventId < out[j].EventId })
	return out
}
