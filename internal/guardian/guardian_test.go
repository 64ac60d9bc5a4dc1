package guardian

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/model"
)

// flakyRunnable returns immediately failCount times (simulating an
// abnormal scheduler exit), then blocks until ctx is cancelled.
type flakyRunnable struct {
	failCount int32
	runs      int32
}

func (f *flakyRunnable) Run(ctx context.Context) {
	atomic.AddInt32(&f.runs, 1)
	if atomic.AddInt32(&f.failCount, -1) >= 0 {
		return
	}
	<-ctx.Done()
}

func TestGuardianRestartsWithinBudget(t *testing.T) {
	target := &flakyRunnable{failCount: 2}
	g := New(target, 5, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.Initialize(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&target.runs), int32(3))
	select {
	case err := <-g.Done():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestGuardianSurfacesFatalWhenBudgetExceeded(t *testing.T) {
	target := &flakyRunnable{failCount: 1000}
	g := New(target, 2, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Initialize(ctx)

	select {
	case err := <-g.Done():
		require.True(t, errors.Is(err, model.ErrSupervisionFatal))
	default:
		t.Fatal("expected a fatal error on Done()")
	}
}
