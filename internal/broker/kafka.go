package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/estuary/test-probe/internal/model"
)

// KafkaFactory builds broker clients backed by segmentio/kafka-go.
type KafkaFactory struct{}

func NewKafkaFactory() *KafkaFactory { return &KafkaFactory{} }

func dialer(creds model.Credentials) *kafka.Dialer {
	d := kafka.DefaultDialer
	if user, pass := creds["username"], creds["password"]; user != "" && pass != "" {
		d = &kafka.Dialer{
			SASLMechanism: plain.Mechanism{Username: user, Password: pass},
			TLS:           &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return d
}

func (f *KafkaFactory) NewProducer(ctx context.Context, topic, bootstrapServers string, creds model.Credentials) (ProducerClient, error) {
	brokers := splitServers(bootstrapServers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no bootstrap servers for topic %q", model.ErrStreamStartup, topic)
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
	if user, pass := creds["username"], creds["password"]; user != "" && pass != "" {
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: user, Password: pass},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &kafkaProducer{w: w}, nil
}

func (f *KafkaFactory) NewConsumer(ctx context.Context, topic, bootstrapServers, groupID string, creds model.Credentials) (ConsumerClient, error) {
	brokers := splitServers(bootstrapServers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no bootstrap servers for topic %q", model.ErrStreamStartup, topic)
	}
	cfg := kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}
	if user, pass := creds["username"], creds["password"]; user != "" && pass != "" {
		cfg.Dialer = dialer(creds)
	}
	return &kafkaConsumer{r: kafka.NewReader(cfg), topic: topic}, nil
}

func splitServers(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type kafkaProducer struct {
	w *kafka.Writer
}

func (p *kafkaProducer) Write(ctx context.Context, env model.Envelope) error {
	headers := make([]kafka.Header, 0, len(env.Headers))
	for k, v := range env.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     env.Key,
		Value:   env.Value,
		Headers: headers,
	})
}

func (p *kafkaProducer) Flush(ctx context.Context) error {
	// kafka-go's Writer has no explicit flush; WriteMessages already blocks
	// until the broker acks (or the context's deadline fires), so closing
	// the underlying client is itself the flush point.
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.w.Close()
}

type kafkaConsumer struct {
	r     *kafka.Reader
	topic string
}

func (c *kafkaConsumer) Poll(ctx context.Context) (ConsumedMessage, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return ConsumedMessage{}, err
	}
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return ConsumedMessage{
		Envelope:  model.Envelope{Key: m.Key, Value: m.Value, Headers: headers},
		Partition: m.Partition,
		Offset:    m.Offset,
	}, nil
}

// CommitOffsets commits the highest offset seen per partition. kafka-go's
// Reader.CommitMessages commits offset+1 for each message's topic and
// partition, so both must be set for the commit to land against the
// right partition rather than silently no-op'ing.
func (c *kafkaConsumer) CommitOffsets(ctx context.Context, offsets map[int]int64) error {
	msgs := make([]kafka.Message, 0, len(offsets))
	for partition, offset := range offsets {
		msgs = append(msgs, kafka.Message{Topic: c.topic, Partition: partition, Offset: offset})
	}
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *kafkaConsumer) Close() error {
	return c.r.Close()
}
