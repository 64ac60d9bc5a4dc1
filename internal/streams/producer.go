// Package streams implements the per-topic Producer Stream and Consumer
// Stream actors of spec §4.4/§4.5: each owns one broker client, has a
// serial inbox, and is driven entirely by messages sent from the
// Execution FSM (spec §5: "each actor has a serial inbox, a single
// threaded handler, and no shared mutable state across actors").
package streams

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
	"github.com/estuary/test-probe/internal/metrics"
	"github.com/estuary/test-probe/internal/model"
)

// ProduceOutcome is the Ack/Nack reply to a Produce request (spec §4.4).
type ProduceOutcome struct {
	Acked bool
	Cause error
}

type produceCmd struct {
	keyRecord, valueRecord string
	key, value             interface{}
	headers                map[string]string
	reply                  chan ProduceOutcome
}

// Producer is one Producer Stream: owns a single broker producer client
// for Topic, serializes every Produce through Codec.
type Producer struct {
	Topic   string
	client  broker.ProducerClient
	codec   *codec.Codec
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker

	inbox chan produceCmd
	stop  chan chan struct{}
	log   *log.Entry
}

// NewProducer constructs a Producer Stream bound to an already-started
// broker client. Start must be called to begin serving requests.
func NewProducer(topic string, client broker.ProducerClient, c *codec.Codec, askTimeout time.Duration) *Producer {
	return &Producer{
		Topic:   topic,
		client:  client,
		codec:   c,
		timeout: askTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "producer-" + topic,
			MaxRequests: 1,
			Timeout:     askTimeout * 10,
		}),
		inbox: make(chan produceCmd, 16),
		stop:  make(chan chan struct{}),
		log:   log.WithFields(log.Fields{"component": "producer", "topic": topic}),
	}
}

// Start runs the actor's serial handler loop until Stop is called or ctx
// is cancelled.
func (p *Producer) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Producer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.inbox:
			p.handle(ctx, cmd)
		case done := <-p.stop:
			// Flush outstanding in-flight records up to a bounded
			// timeout, then close the client (spec §4.4 Stop).
			flushCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := p.client.Flush(flushCtx); err != nil {
				p.log.WithError(err).Warn("flush on stop returned an error")
			}
			cancel()
			if err := p.client.Close(); err != nil {
				p.log.WithError(err).Warn("closing producer client")
			}
			close(done)
			return
		}
	}
}

func (p *Producer) handle(ctx context.Context, cmd produceCmd) {
	env, err := p.encode(cmd)
	if err != nil {
		cmd.reply <- ProduceOutcome{Acked: false, Cause: err}
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.client.Write(writeCtx, env)
	})
	if err != nil {
		p.log.WithError(err).Debug("produce nacked")
		metrics.ProduceOutcomesTotal.WithLabelValues(p.Topic, "nack").Inc()
		cmd.reply <- ProduceOutcome{Acked: false, Cause: err}
		return
	}
	metrics.ProduceOutcomesTotal.WithLabelValues(p.Topic, "ack").Inc()
	cmd.reply <- ProduceOutcome{Acked: true}
}

func (p *Producer) encode(cmd produceCmd) (model.Envelope, error) {
	if p.codec == nil {
		key, _ := cmd.key.([]byte)
		value, _ := cmd.value.([]byte)
		return model.Envelope{Key: key, Value: value, Headers: cmd.headers}, nil
	}
	key, err := p.codec.Encode(codec.Subject(p.Topic, cmd.keyRecord), cmd.key)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encoding key: %w", err)
	}
	value, err := p.codec.Encode(codec.Subject(p.Topic, cmd.valueRecord), cmd.value)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encoding value: %w", err)
	}
	return model.Envelope{Key: key, Value: value, Headers: cmd.headers}, nil
}

// Produce asks the producer actor to publish one record and blocks for the
// Ack/Nack reply or ctx cancellation (spec §5: "bounded ask with timeout").
func (p *Producer) Produce(ctx context.Context, keyRecord string, key interface{}, valueRecord string, value interface{}, headers map[string]string) ProduceOutcome {
	reply := make(chan ProduceOutcome, 1)
	cmd := produceCmd{keyRecord: keyRecord, valueRecord: valueRecord, key: key, value: value, headers: headers, reply: reply}

	select {
	case p.inbox <- cmd:
	case <-ctx.Done():
		return ProduceOutcome{Acked: false, Cause: ctx.Err()}
	}

	select {
	case out := <-reply:
		return out
	case <-ctx.Done():
		return ProduceOutcome{Acked: false, Cause: ctx.Err()}
	}
}

// Stop flushes and closes the underlying client, blocking until done.
func (p *Producer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.stop <- done:
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
