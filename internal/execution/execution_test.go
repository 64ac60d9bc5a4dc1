package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/ports"
	"github.com/estuary/test-probe/internal/storage"
	"github.com/estuary/test-probe/internal/vaultport"
)

const manifestYAML = `
topics:
  - topic: cmds
    role: Producer
  - topic: orders
    role: Consumer
    eventFilters:
      - key: OrderCreated
        value: v1
`

const featureFile = `Feature: checkout

  Scenario: order completes
    Given a customer
    When they check out
    Then an order is created
`

func newTestPorts(t *testing.T) (*ports.Ports, *storage.Memory, *broker.MemoryFactory) {
	t.Helper()
	mem := storage.NewMemory()
	mem.ScratchBase = t.TempDir()
	mem.Buckets["b://ok"] = map[string]string{
		"features/checkout.feature": featureFile,
		"topic-directives.yaml":     manifestYAML,
	}

	factory := broker.NewMemoryFactory()
	c := codec.New(codec.NewRawJSONBackend(), codec.StaticLookup{ID: 1})
	v := vaultport.WithRequiredFields(vaultport.NewLocal(map[string]model.Credentials{
		"cmds":   {"username": "u", "password": "p"},
		"orders": {"username": "u", "password": "p"},
	}), []string{"username", "password"})

	return &ports.Ports{
		Storage:       mem,
		Vault:         v,
		BrokerFactory: factory,
		Codec:         c,
	}, mem, factory
}

func testConfig() Config {
	return Config{
		ManifestRelativePath:    "topic-directives.yaml",
		FeaturesRelativePath:    "features",
		DefaultBootstrapServers: "localhost:9092",
		AskTimeout:              2 * time.Second,
		StartupDeadline:         2 * time.Second,
		CommitBatchSize:         20,
		CommitInterval:          time.Second,
	}
}

func collectEvents(t *testing.T, ex *Execution) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ex.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for execution events")
		}
	}
}

func TestExecutionHappyPathReachesResultReadyPassed(t *testing.T) {
	p, _, _ := newTestPorts(t)
	ex := New(model.NewTestId(), "b://ok", "integration", p, testConfig(), nil)
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.Len(t, events, 3)
	require.Equal(t, EventLoaded, events[0].Kind)
	require.Equal(t, EventInitialized, events[1].Kind)
	require.Equal(t, EventResultReady, events[2].Kind)
	require.True(t, events[2].Result.Passed)
	require.NoError(t, events[2].UploadErr)
}

func TestExecutionMissingFeaturesFailsAtArtifactFetch(t *testing.T) {
	p, mem, _ := newTestPorts(t)
	mem.Buckets["b://nofeatures"] = map[string]string{
		"topic-directives.yaml": manifestYAML,
	}

	ex := New(model.NewTestId(), "b://nofeatures", "integration", p, testConfig(), nil)
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.Len(t, events, 1)
	require.Equal(t, EventFailedWith, events[0].Kind)
	require.True(t, errors.Is(events[0].Err, model.ErrBucket))
}

func TestExecutionVaultTopicNotConfiguredFailsBeforeTesting(t *testing.T) {
	p, _, _ := newTestPorts(t)
	p.Vault = vaultport.NewLocal(map[string]model.Credentials{
		"cmds": {"username": "u", "password": "p"},
		// "orders" deliberately missing.
	})

	ex := New(model.NewTestId(), "b://ok", "integration", p, testConfig(), nil)
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.Len(t, events, 1)
	require.Equal(t, EventFailedWith, events[0].Kind)
	require.True(t, errors.Is(events[0].Err, model.ErrVault))
}

// TestExecutionVaultMissingRequiredFieldFailsBeforeTesting covers spec §8
// scenario 4: the topic has credentials, but the map is missing a field
// the vault's configuration declares required. Distinct from the
// topic-not-configured case above, which never produces a credential map
// at all.
func TestExecutionVaultMissingRequiredFieldFailsBeforeTesting(t *testing.T) {
	p, _, _ := newTestPorts(t)
	p.Vault = vaultport.WithRequiredFields(vaultport.NewLocal(map[string]model.Credentials{
		"cmds":   {"username": "u", "password": "p"},
		"orders": {"username": "u"}, // "password" deliberately missing.
	}), []string{"username", "password"})

	ex := New(model.NewTestId(), "b://ok", "integration", p, testConfig(), nil)
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.Len(t, events, 1)
	require.Equal(t, EventFailedWith, events[0].Kind)
	require.True(t, errors.Is(events[0].Err, model.ErrVault))
}

func TestExecutionStreamStartupFailureIsReportedBeforeInitialized(t *testing.T) {
	p, _, factory := newTestPorts(t)
	factory.FailProducers = map[string]bool{"cmds": true}

	ex := New(model.NewTestId(), "b://ok", "integration", p, testConfig(), nil)
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.Len(t, events, 2)
	require.Equal(t, EventLoaded, events[0].Kind)
	require.Equal(t, EventFailedWith, events[1].Kind)
	require.True(t, errors.Is(events[1].Err, model.ErrStreamStartup))
}

func TestExecutionCancelBeforeRunningEndsInCancelAck(t *testing.T) {
	p, _, factory := newTestPorts(t)
	_ = factory

	ex := New(model.NewTestId(), "b://ok", "integration", p, testConfig(), nil)

	// Cancel immediately; the run loop should still observe it at the
	// first phase boundary after Loaded.
	ex.Cancel()
	ex.Start(context.Background())

	events := collectEvents(t, ex)
	require.NotEmpty(t, events)
	require.Equal(t, EventCancelAck, events[len(events)-1].Kind)
}
