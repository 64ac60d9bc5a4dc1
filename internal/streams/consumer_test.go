package streams

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/model"
)

func injectKeyed(t *testing.T, factory *broker.MemoryFactory, topic, eventType, payloadVersion, eventId string, value map[string]interface{}) {
	t.Helper()
	c := newTestCodec()
	key, err := c.Encode(topic+"-Key", map[string]interface{}{
		"eventType":      eventType,
		"payloadVersion": payloadVersion,
		"eventId":        eventId,
	})
	require.NoError(t, err)
	val, err := c.Encode(topic+"-Value", value)
	require.NoError(t, err)
	factory.Inject(topic, model.Envelope{Key: key, Value: val})
}

func TestConsumerFetchAfterFilterMatch(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewConsumer(context.Background(), "orders", "", "g1", nil)
	require.NoError(t, err)

	filters := []model.EventFilter{{EventType: "OrderCreated", PayloadVersion: "v1"}}
	cons := NewConsumer("orders", client, newTestCodec(), filters, 20, time.Minute, nil)
	cons.Start(context.Background())
	defer cons.Stop(context.Background())

	injectKeyed(t, factory, "orders", "OrderCreated", "v1", "evt-1", map[string]interface{}{"total": 10})

	require.Eventually(t, func() bool {
		out, err := cons.Fetch(context.Background(), "evt-1")
		return err == nil && out.Found
	}, time.Second, 5*time.Millisecond)
}

func TestConsumerSkipsNonMatchingEventTypes(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewConsumer(context.Background(), "orders", "", "g1", nil)
	require.NoError(t, err)

	filters := []model.EventFilter{{EventType: "OrderCreated", PayloadVersion: "v1"}}
	cons := NewConsumer("orders", client, newTestCodec(), filters, 20, time.Minute, nil)
	cons.Start(context.Background())
	defer cons.Stop(context.Background())

	injectKeyed(t, factory, "orders", "OrderCancelled", "v1", "evt-2", map[string]interface{}{})

	time.Sleep(50 * time.Millisecond)
	out, err := cons.Fetch(context.Background(), "evt-2")
	require.NoError(t, err)
	require.False(t, out.Found)
}

func TestConsumerSkipsNonMatchingPayloadVersions(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewConsumer(context.Background(), "orders", "", "g1", nil)
	require.NoError(t, err)

	filters := []model.EventFilter{{EventType: "OrderCreated", PayloadVersion: "v1"}}
	cons := NewConsumer("orders", client, newTestCodec(), filters, 20, time.Minute, nil)
	cons.Start(context.Background())
	defer cons.Stop(context.Background())

	injectKeyed(t, factory, "orders", "OrderCreated", "v2", "evt-2b", map[string]interface{}{})

	time.Sleep(50 * time.Millisecond)
	out, err := cons.Fetch(context.Background(), "evt-2b")
	require.NoError(t, err)
	require.False(t, out.Found)
}

func TestConsumerLastWriteWinsOnReinsert(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewConsumer(context.Background(), "orders", "", "g1", nil)
	require.NoError(t, err)

	cons := NewConsumer("orders", client, newTestCodec(), nil, 20, time.Minute, nil)
	cons.Start(context.Background())

	injectKeyed(t, factory, "orders", "OrderCreated", "v1", "evt-3", map[string]interface{}{"total": 1})
	injectKeyed(t, factory, "orders", "OrderCreated", "v1", "evt-3", map[string]interface{}{"total": 2})

	require.Eventually(t, func() bool {
		out, err := cons.Fetch(context.Background(), "evt-3")
		if err != nil || !out.Found {
			return false
		}
		decoded, err := newTestCodec().Decode(out.Value.Value)
		return err == nil && decoded.(map[string]interface{})["total"] == float64(2)
	}, time.Second, 5*time.Millisecond)

	out, err := cons.Fetch(context.Background(), "evt-3")
	require.NoError(t, err)
	require.True(t, out.Found)

	require.NoError(t, cons.Stop(context.Background()))
	snapshot := cons.RegistrySnapshot()
	count := 0
	for _, rec := range snapshot {
		if rec.EventId == "evt-3" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestConsumerDecodeFailureIsNonFatal(t *testing.T) {
	factory := broker.NewMemoryFactory()
	client, err := factory.NewConsumer(context.Background(), "orders", "", "g1", nil)
	require.NoError(t, err)

	cons := NewConsumer("orders", client, newTestCodec(), nil, 20, time.Minute, nil)
	cons.Start(context.Background())
	defer cons.Stop(context.Background())

	factory.Inject("orders", model.Envelope{Key: []byte("not a valid frame")})
	injectKeyed(t, factory, "orders", "OrderCreated", "v1", "evt-4", map[string]interface{}{})

	require.Eventually(t, func() bool {
		out, err := cons.Fetch(context.Background(), "evt-4")
		return err == nil && out.Found
	}, time.Second, 5*time.Millisecond)
}
