package streams

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
)

func newTestCodec() *codec.Codec {
	return codec.New(codec.NewRawJSONBackend(), codec.StaticLookup{ID: 1})
}

func TestProducerOrdersWritesByArrival(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewProducer(context.Background(), "cmds", "", nil)
	require.NoError(t, err)

	p := NewProducer("cmds", client, newTestCodec(), time.Second)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	for i := 0; i < 5; i++ {
		out := p.Produce(context.Background(), "Key", map[string]interface{}{"i": i}, "Value", map[string]interface{}{"i": i}, nil)
		require.True(t, out.Acked, out.Cause)
	}

	consumer, err := factory.NewConsumer(context.Background(), "cmds", "", "g1", nil)
	require.NoError(t, err)
	c := newTestCodec()
	for i := 0; i < 5; i++ {
		msg, err := consumer.Poll(context.Background())
		require.NoError(t, err)
		decoded, err := c.Decode(msg.Envelope.Value)
		require.NoError(t, err)
		require.Equal(t, float64(i), decoded.(map[string]interface{})["i"])
	}
}

func TestProducerFactoryFailsOnInjectedStartupFailure(t *testing.T) {
	factory := broker.NewMemoryFactory()
	factory.FailProducers = map[string]bool{"cmds": true}
	_, err := factory.NewProducer(context.Background(), "cmds", "", nil)
	require.Error(t, err)
}

func TestProducerStopClosesClient(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewProducer(context.Background(), "cmds", "", nil)
	require.NoError(t, err)

	p := NewProducer("cmds", client, newTestCodec(), time.Second)
	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))
}
