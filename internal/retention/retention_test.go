package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEvictor struct {
	calls     int32
	evictions int
}

func (e *countingEvictor) EvictExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	atomic.AddInt32(&e.calls, 1)
	return e.evictions, nil
}

func TestSweeperInvokesEvictorOnSchedule(t *testing.T) {
	ev := &countingEvictor{evictions: 3}
	s, err := New(ev, "@every 20ms", time.Hour, time.Second)
	require.NoError(t, err)

	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ev.calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperRejectsInvalidSchedule(t *testing.T) {
	ev := &countingEvictor{}
	_, err := New(ev, "not a valid cron expression", time.Hour, time.Second)
	require.Error(t, err)
}
