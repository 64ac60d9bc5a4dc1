// Package retention runs the periodic sweep that evicts terminal test
// records past their retention window, keeping the Queue Scheduler's
// in-memory record table bounded (spec §4.9/§9).
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Evictor is satisfied by *scheduler.Scheduler.
type Evictor interface {
	EvictExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper drives Evictor.EvictExpired on a cron schedule.
type Sweeper struct {
	evictor    Evictor
	retention  time.Duration
	askTimeout time.Duration
	cron       *cron.Cron
	log        *log.Entry
}

// New builds a Sweeper. schedule is a robfig/cron expression, e.g.
// "@every 5m"; retention is how long a terminal record survives before
// it becomes eligible for eviction.
func New(evictor Evictor, schedule string, retention, askTimeout time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		evictor:    evictor,
		retention:  retention,
		askTimeout: askTimeout,
		cron:       cron.New(),
		log:        log.WithField("component", "retention"),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the sweep on its schedule. Non-blocking.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for any in-flight sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("retention sweeper stop timed out")
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.askTimeout)
	defer cancel()

	n, err := s.evictor.EvictExpired(ctx, s.retention)
	if err != nil {
		s.log.WithError(err).Warn("retention sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("evicted", n).Info("retention sweep evicted terminal records")
	}
}
