package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/broker"
	"github.com/estuary/test-probe/internal/codec"
	"github.com/estuary/test-probe/internal/execution"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/ports"
	"github.com/estuary/test-probe/internal/scenario"
	"github.com/estuary/test-probe/internal/storage"
	"github.com/estuary/test-probe/internal/vaultport"
)

// blockingRuntime holds Run open until release is closed, so tests can
// pin a slot in the admission semaphore deterministically instead of
// racing the in-memory scenario's real completion.
type blockingRuntime struct {
	release chan struct{}
}

func (r *blockingRuntime) Run(ctx context.Context, workspaceRoot, featuresRelative, testType string, handles scenario.Handles) (model.Result, error) {
	select {
	case <-r.release:
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
	return model.Result{Scenarios: 1, Steps: 1, Passed: true}, nil
}

const oneProducerManifest = `
topics:
  - topic: cmds
    role: Producer
`

const oneFeature = `Feature: smoke

  Scenario: it runs
    Given a thing
    When it happens
    Then it is recorded
`

func newHarness(t *testing.T, maxConcurrent int, runtime scenario.Runtime) (*Scheduler, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	mem.ScratchBase = t.TempDir()
	mem.Buckets["b://ok"] = map[string]string{
		"features/smoke.feature": oneFeature,
		"topic-directives.yaml":  oneProducerManifest,
	}

	p := &ports.Ports{
		Storage:       mem,
		Vault:         vaultport.NewLocal(map[string]model.Credentials{"cmds": {"username": "u"}}),
		BrokerFactory: broker.NewMemoryFactory(),
		Codec:         codec.New(codec.NewRawJSONBackend(), codec.StaticLookup{ID: 1}),
	}
	cfg := execution.Config{
		ManifestRelativePath:    "topic-directives.yaml",
		FeaturesRelativePath:    "features",
		DefaultBootstrapServers: "localhost:9092",
		AskTimeout:              2 * time.Second,
		StartupDeadline:         2 * time.Second,
		CommitBatchSize:         20,
		CommitInterval:          time.Second,
	}
	s := New(maxConcurrent, p, cfg, runtime, 2*time.Second)
	return s, mem
}

func waitForState(t *testing.T, s *Scheduler, id model.TestId, want model.State) model.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Status(context.Background(), id)
		require.NoError(t, err)
		if st.State == want {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for test %s to reach state %s", id, want)
	return model.Status{}
}

func TestSchedulerHappyPathReachesCompleted(t *testing.T) {
	s, _ := newHarness(t, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, err := s.Initialize(ctx)
	require.NoError(t, err)

	out, err := s.StartTest(ctx, id, "b://ok", "integration")
	require.NoError(t, err)
	require.True(t, out.Accepted)

	st := waitForState(t, s, id, model.StateCompleted)
	require.NotNil(t, st.Success)
	require.True(t, *st.Success)
	require.NotNil(t, st.EndedAt)
}

func TestSchedulerStartRejectsUnknownId(t *testing.T) {
	s, _ := newHarness(t, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	out, err := s.StartTest(ctx, model.NewTestId(), "b://ok", "integration")
	require.NoError(t, err)
	require.False(t, out.Accepted)
}

func TestSchedulerStatusNotFound(t *testing.T) {
	s, _ := newHarness(t, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := s.Status(ctx, model.NewTestId())
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestSchedulerAdmissionBackpressureHoldsSecondTestInLoading(t *testing.T) {
	rt := &blockingRuntime{release: make(chan struct{})}
	s, _ := newHarness(t, 1, rt)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id1, err := s.Initialize(ctx)
	require.NoError(t, err)
	id2, err := s.Initialize(ctx)
	require.NoError(t, err)

	_, err = s.StartTest(ctx, id1, "b://ok", "integration")
	require.NoError(t, err)
	waitForState(t, s, id1, model.StateTesting)

	_, err = s.StartTest(ctx, id2, "b://ok", "integration")
	require.NoError(t, err)

	// id2 must still be Loading: the admission semaphore has capacity 1
	// and id1 holds it blocked inside its scenario run.
	st2, err := s.Status(ctx, id2)
	require.NoError(t, err)
	require.Equal(t, model.StateLoading, st2.State)

	close(rt.release)
	waitForState(t, s, id1, model.StateCompleted)
	waitForState(t, s, id2, model.StateCompleted)
}

func TestSchedulerCancelIsIdempotentOnTerminalState(t *testing.T) {
	s, _ := newHarness(t, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, err := s.Initialize(ctx)
	require.NoError(t, err)
	_, err = s.StartTest(ctx, id, "b://ok", "integration")
	require.NoError(t, err)
	waitForState(t, s, id, model.StateCompleted)

	out1, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	require.True(t, out1.NoOp)

	out2, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	require.True(t, out2.NoOp)
	require.Equal(t, out1.State, out2.State)
}

func TestSchedulerCancelBeforeAdmissionIsSynchronous(t *testing.T) {
	s, _ := newHarness(t, 0, nil) // no slots ever free
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, err := s.Initialize(ctx)
	require.NoError(t, err)
	_, err = s.StartTest(ctx, id, "b://ok", "integration")
	require.NoError(t, err)

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateLoading, st.State)

	out, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	require.True(t, out.Cancelled)

	st = waitForState(t, s, id, model.StateCancelled)
	require.NotNil(t, st.EndedAt)
}
