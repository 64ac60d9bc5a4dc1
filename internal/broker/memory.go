package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/estuary/test-probe/internal/model"
)

// MemoryFactory is an in-process Factory used by tests. Every topic gets a
// shared, ordered queue; producers append to it and consumers poll from it
// independently of any real broker.
type MemoryFactory struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	// FailProducers/FailConsumers, when set, cause NewProducer/NewConsumer
	// for the named topic to fail, exercising spec §4.3 phase 3's
	// StreamStartupError path.
	FailProducers map[string]bool
	FailConsumers map[string]bool
}

type memoryTopic struct {
	mu       sync.Mutex
	messages []model.Envelope
	cond     *sync.Cond
	closed   bool
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{topics: make(map[string]*memoryTopic)}
}

func (f *MemoryFactory) topic(name string) *memoryTopic {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[name]
	if !ok {
		t = &memoryTopic{}
		t.cond = sync.NewCond(&t.mu)
		f.topics[name] = t
	}
	return t
}

// Inject appends a raw envelope directly to topic's queue, as if produced
// by an out-of-band system (spec scenario 5: malformed record injection).
func (f *MemoryFactory) Inject(topic string, env model.Envelope) {
	t := f.topic(topic)
	t.mu.Lock()
	t.messages = append(t.messages, env)
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (f *MemoryFactory) NewProducer(ctx context.Context, topic, bootstrapServers string, creds model.Credentials) (ProducerClient, error) {
	if f.FailProducers[topic] {
		return nil, fmt.Errorf("%w: injected producer failure for %q", model.ErrStreamStartup, topic)
	}
	return &memoryProducer{topic: f.topic(topic)}, nil
}

func (f *MemoryFactory) NewConsumer(ctx context.Context, topic, bootstrapServers, groupID string, creds model.Credentials) (ConsumerClient, error) {
	if f.FailConsumers[topic] {
		return nil, fmt.Errorf("%w: injected consumer failure for %q", model.ErrStreamStartup, topic)
	}
	return &memoryConsumer{topic: f.topic(topic)}, nil
}

type memoryProducer struct {
	topic *memoryTopic
}

func (p *memoryProducer) Write(ctx context.Context, env model.Envelope) error {
	p.topic.mu.Lock()
	defer p.topic.mu.Unlock()
	if p.topic.closed {
		return fmt.Errorf("producer closed")
	}
	p.topic.messages = append(p.topic.messages, env)
	p.topic.cond.Broadcast()
	return nil
}

func (p *memoryProducer) Flush(ctx context.Context) error { return nil }
func (p *memoryProducer) Close() error                    { return nil }

type memoryConsumer struct {
	topic  *memoryTopic
	cursor int
	closed bool
}

func (c *memoryConsumer) Poll(ctx context.Context) (ConsumedMessage, error) {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	for c.cursor >= len(c.topic.messages) {
		if c.closed {
			return ConsumedMessage{}, fmt.Errorf("consumer closed")
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.topic.cond.Broadcast()
			case <-done:
			}
		}()
		c.topic.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			return ConsumedMessage{}, err
		}
	}
	env := c.topic.messages[c.cursor]
	offset := int64(c.cursor)
	c.cursor++
	return ConsumedMessage{Envelope: env, Partition: 0, Offset: offset}, nil
}

func (c *memoryConsumer) CommitOffsets(ctx context.Context, offsets map[int]int64) error {
	return nil
}

func (c *memoryConsumer) Close() error {
	c.topic.mu.Lock()
	c.closed = true
	c.topic.cond.Broadcast()
	c.topic.mu.Unlock()
	return nil
}
