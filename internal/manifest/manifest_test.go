package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/model"
)

func TestParseHappyPath(t *testing.T) {
	raw := []byte(`
topics:
  - topic: orders
    role: Consumer
    eventFilters:
      - key: OrderCreated
        value: v1
  - topic: cmds
    role: Producer
`)
	directives, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, directives, 2)
	require.Equal(t, "orders", directives[0].Topic)
	require.Equal(t, model.RoleConsumer, directives[0].Role)
	require.Equal(t, []model.EventFilter{{EventType: "OrderCreated", PayloadVersion: "v1"}}, directives[0].EventFilters)
	require.Equal(t, "cmds", directives[1].Topic)
	require.Equal(t, model.RoleProducer, directives[1].Role)
}

func TestParseRejectsDuplicateTopics(t *testing.T) {
	raw := []byte(`
topics:
  - topic: orders
    role: Producer
  - topic: orders
    role: Consumer
`)
	_, err := Parse(raw)
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrBucket))
}

func TestParseRejectsEmptyBootstrapServers(t *testing.T) {
	raw := []byte(`
topics:
  - topic: orders
    role: Producer
    bootstrapServers: ""
`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseAllowsOmittedBootstrapServers(t *testing.T) {
	raw := []byte(`
topics:
  - topic: orders
    role: Producer
`)
	directives, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "", directives[0].BootstrapServers)
	require.Equal(t, "default:9092", directives[0].EffectiveBootstrapServers("default:9092"))
}

func TestParseRejectsEmptyManifest(t *testing.T) {
	_, err := Parse([]byte(`topics: []`))
	require.Error(t, err)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	raw := []byte(`
topics:
  - topic: orders
    role: Weird
`)
	_, err := Parse(raw)
	require.Error(t, err)
}
