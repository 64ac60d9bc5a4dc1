// Package guardian implements the root supervisor of spec §4.1: it owns
// the Queue Scheduler, watches it, and restarts it under a budget before
// surfacing a fatal failure. Guardian holds no per-test state; it is the
// error kernel atop the actor hierarchy.
package guardian

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/test-probe/internal/model"
)

// Runnable is the subset of scheduler.Scheduler Guardian depends on,
// kept narrow so tests can supervise a fake that fails on command.
type Runnable interface {
	Run(ctx context.Context)
}

// Guardian restarts Target up to MaxRestarts times within Window before
// giving up and reporting a SupervisionFatal error on Done().
type Guardian struct {
	Target      Runnable
	MaxRestarts int
	Window      time.Duration

	fatal chan error
	log   *log.Entry
}

func New(target Runnable, maxRestarts int, window time.Duration) *Guardian {
	return &Guardian{
		Target:      target,
		MaxRestarts: maxRestarts,
		Window:      window,
		fatal:       make(chan error, 1),
		log:         log.WithField("component", "guardian"),
	}
}

// Initialize spawns Target and begins watching it, restarting on every
// abnormal return until the restart budget within Window is exceeded.
// It returns once Target exits without requiring a restart (ctx done)
// or once the restart budget is exceeded, in which case Done() carries
// ErrSupervisionFatal.
func (g *Guardian) Initialize(ctx context.Context) {
	var restarts []time.Time

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			g.Target.Run(runCtx)
			close(done)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-done:
			cancel()
		}

		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		restarts = append(restarts, now)
		restarts = withinWindow(restarts, now, g.Window)

		if len(restarts) > g.MaxRestarts {
			g.log.WithFields(log.Fields{"restarts": len(restarts), "window": g.Window}).
				Error("restart budget exceeded, surfacing fatal failure")
			g.fatal <- fmt.Errorf("%w: %d restarts within %s exceeds budget of %d",
				model.ErrSupervisionFatal, len(restarts), g.Window, g.MaxRestarts)
			return
		}

		g.log.WithField("restart_count", len(restarts)).Warn("scheduler exited, restarting")
	}
}

// Done reports ErrSupervisionFatal if Initialize gave up, or is never
// sent to if Initialize returned because ctx was cancelled.
func (g *Guardian) Done() <-chan error { return g.fatal }

func withinWindow(restarts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := restarts[:0]
	for _, t := range restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
