// Package scheduler implements the Queue Scheduler (spec §4.2/§4.9): the
// admission queue and state index in front of a bounded set of Test
// Execution FSMs. Like the streams and execution actors, it is a single
// goroutine serially draining one inbox; every field below this comment
// is mutated only from that goroutine.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/test-probe/internal/execution"
	"github.com/estuary/test-probe/internal/metrics"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/ports"
	"github.com/estuary/test-probe/internal/scenario"
)

// StartOutcome is the reply to a StartTest request.
type StartOutcome struct {
	Accepted bool
	Reason   string
}

// CancelOutcome is the reply to a Cancel request.
type CancelOutcome struct {
	Cancelled bool // true when cancellation was requested or completed; false for NoOp
	NoOp      bool
	State     model.State
}

type initializeCmd struct {
	reply chan model.TestId
}

type startCmd struct {
	id       model.TestId
	bucket   string
	testType string
	reply    chan StartOutcome
}

type statusCmd struct {
	id    model.TestId
	reply chan statusReply
}

type statusReply struct {
	status model.Status
	err    error
}

type queueStatusCmd struct {
	id    *model.TestId
	reply chan queueStatusReply
}

type queueStatusReply struct {
	status model.QueueStatus
	err    error
}

type cancelCmd struct {
	id    model.TestId
	reply chan CancelOutcome
}

type evictCmd struct {
	olderThan time.Duration
	reply     chan int
}

type execEvent struct {
	id model.TestId
	ev execution.Event
}

// Scheduler is the admission queue and state index described by spec
// §4.2. Construct with New, then call Run to start serving requests.
type Scheduler struct {
	maxConcurrent int
	ports         *ports.Ports
	execConfig    execution.Config
	runtime       scenario.Runtime
	askTimeout    time.Duration

	inbox      chan interface{}
	execEvents chan execEvent
	stop       chan chan struct{}

	records      map[model.TestId]*model.Record
	loadingQueue []model.TestId
	running      map[model.TestId]*execution.Execution

	log *log.Entry
}

func New(maxConcurrent int, p *ports.Ports, execConfig execution.Config, runtime scenario.Runtime, askTimeout time.Duration) *Scheduler {
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		ports:         p,
		execConfig:    execConfig,
		runtime:       runtime,
		askTimeout:    askTimeout,
		inbox:         make(chan interface{}, 32),
		execEvents:    make(chan execEvent, 64),
		stop:          make(chan chan struct{}),
		records:       make(map[model.TestId]*model.Record),
		running:       make(map[model.TestId]*execution.Execution),
		log:           log.WithField("component", "scheduler"),
	}
}

// Run starts the scheduler's serial handler loop. It returns only after
// Stop is called or ctx is done; callers (Guardian) typically run this
// in its own goroutine and watch for its return to drive restarts.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			s.handleCmd(ctx, cmd)
		case ee := <-s.execEvents:
			s.handleExecEvent(ee)
			// A terminal event may have freed a slot; admit the next
			// queued test, if any.
			s.tryAdmit(ctx)
		case done := <-s.stop:
			close(done)
			return
		}
	}
}

// Stop requests the run loop to exit, blocking until it does.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.stop <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) handleCmd(ctx context.Context, cmd interface{}) {
	switch c := cmd.(type) {
	case initializeCmd:
		id := model.NewTestId()
		s.records[id] = &model.Record{Id: id, State: model.StateSetup}
		c.reply <- id

	case startCmd:
		c.reply <- s.handleStart(ctx, c.id, c.bucket, c.testType)

	case statusCmd:
		rec, ok := s.records[c.id]
		if !ok {
			c.reply <- statusReply{err: model.ErrNotFound}
			return
		}
		c.reply <- statusReply{status: rec.Snapshot()}

	case queueStatusCmd:
		c.reply <- s.handleQueueStatus(c.id)

	case cancelCmd:
		c.reply <- s.handleCancel(c.id)

	case evictCmd:
		c.reply <- s.handleEvict(c.olderThan)
	}

	s.refreshQueueDepthMetrics()
}

// handleEvict drops terminal records whose endedAt is older than
// olderThan. Non-terminal records are never evicted regardless of age.
func (s *Scheduler) handleEvict(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	evicted := 0
	for id, rec := range s.records {
		if !rec.State.Terminal() || rec.EndedAt == nil {
			continue
		}
		if rec.EndedAt.Before(cutoff) {
			delete(s.records, id)
			evicted++
		}
	}
	return evicted
}

func (s *Scheduler) handleStart(ctx context.Context, id model.TestId, bucket, testType string) StartOutcome {
	rec, ok := s.records[id]
	if !ok {
		return StartOutcome{Accepted: false, Reason: "unknown test id"}
	}
	if rec.State != model.StateSetup {
		return StartOutcome{Accepted: false, Reason: fmt.Sprintf("test is in state %s, expected Setup", rec.State)}
	}
	if bucket == "" {
		return StartOutcome{Accepted: false, Reason: "bucket must not be empty"}
	}

	now := time.Now()
	rec.State = model.StateLoading
	rec.Bucket = bucket
	rec.TestType = testType
	rec.StartedAt = &now

	s.loadingQueue = append(s.loadingQueue, id)
	s.tryAdmit(ctx)

	return StartOutcome{Accepted: true}
}

// tryAdmit spawns executions for records at the front of the FIFO
// loading queue while a concurrency slot (spec I5, §4.2 admission
// semaphore) is free.
func (s *Scheduler) tryAdmit(ctx context.Context) {
	for len(s.running) < s.maxConcurrent && len(s.loadingQueue) > 0 {
		id := s.loadingQueue[0]
		s.loadingQueue = s.loadingQueue[1:]

		rec, ok := s.records[id]
		if !ok || rec.State != model.StateLoading {
			continue
		}

		ex := execution.New(id, rec.Bucket, rec.TestType, s.ports, s.execConfig, s.runtime)
		s.running[id] = ex
		rec.ExecHandle = ex

		ex.Start(ctx)
		go s.forward(id, ex)
	}
}

// forward relays one execution's events into the scheduler's single
// inbox-equivalent channel, preserving the single-mutator discipline:
// only Run's goroutine ever touches s.records or s.running.
func (s *Scheduler) forward(id model.TestId, ex *execution.Execution) {
	for ev := range ex.Events() {
		s.execEvents <- execEvent{id: id, ev: ev}
	}
}

func (s *Scheduler) handleExecEvent(ee execEvent) {
	rec, ok := s.records[ee.id]
	if !ok {
		return
	}

	switch ee.ev.Kind {
	case execution.EventLoaded:
		rec.State = model.StateLoaded

	case execution.EventInitialized:
		rec.State = model.StateTesting

	case execution.EventResultReady:
		now := time.Now()
		rec.EndedAt = &now
		result := ee.ev.Result
		rec.Result = &result
		if result.Passed {
			rec.State = model.StateCompleted
		} else {
			rec.State = model.StateException
			rec.Error = result.Error
		}
		s.attachUploadErr(rec, ee.ev.UploadErr)
		metrics.TerminalTransitionsTotal.WithLabelValues(string(rec.State)).Inc()
		s.release(ee.id)

	case execution.EventFailedWith:
		now := time.Now()
		rec.EndedAt = &now
		rec.State = model.StateException
		if ee.ev.Err != nil {
			rec.Error = ee.ev.Err.Error()
		}
		s.attachUploadErr(rec, ee.ev.UploadErr)
		metrics.TerminalTransitionsTotal.WithLabelValues(string(rec.State)).Inc()
		s.release(ee.id)

	case execution.EventCancelAck:
		now := time.Now()
		rec.EndedAt = &now
		rec.State = model.StateCancelled
		s.attachUploadErr(rec, ee.ev.UploadErr)
		metrics.TerminalTransitionsTotal.WithLabelValues(string(rec.State)).Inc()
		s.release(ee.id)
	}

	s.refreshQueueDepthMetrics()
}

func (s *Scheduler) refreshQueueDepthMetrics() {
	counts := make(map[model.State]int, 7)
	for _, rec := range s.records {
		counts[rec.State]++
	}
	for _, state := range []model.State{
		model.StateSetup, model.StateLoading, model.StateLoaded,
		model.StateTesting, model.StateCompleted, model.StateException, model.StateCancelled,
	} {
		metrics.QueueDepth.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	metrics.AdmittedConcurrency.Set(float64(len(s.running)))
}

func (s *Scheduler) attachUploadErr(rec *model.Record, uploadErr error) {
	if uploadErr == nil {
		return
	}
	if rec.Error == "" {
		rec.Error = uploadErr.Error()
	} else {
		rec.Error = rec.Error + "; " + uploadErr.Error()
	}
}

// release frees the concurrency slot held by id (spec §5: "released when
// the Execution sends its terminal event"); Run then admits the next
// queued test, if any.
func (s *Scheduler) release(id model.TestId) {
	delete(s.running, id)
	if rec, ok := s.records[id]; ok {
		rec.ExecHandle = nil
	}
}

func (s *Scheduler) handleCancel(id model.TestId) CancelOutcome {
	rec, ok := s.records[id]
	if !ok {
		return CancelOutcome{Cancelled: false, NoOp: true}
	}
	if rec.State.Terminal() {
		return CancelOutcome{Cancelled: false, NoOp: true, State: rec.State}
	}

	if ex, running := s.running[id]; running {
		ex.Cancel()
		return CancelOutcome{Cancelled: true, State: rec.State}
	}

	// Not yet admitted (Setup or Loading-unadmitted): nothing to wait on,
	// so cancel completes synchronously.
	now := time.Now()
	rec.State = model.StateCancelled
	rec.EndedAt = &now
	s.removeFromLoadingQueue(id)
	return CancelOutcome{Cancelled: true, State: model.StateCancelled}
}

func (s *Scheduler) removeFromLoadingQueue(id model.TestId) {
	for i, qid := range s.loadingQueue {
		if qid == id {
			s.loadingQueue = append(s.loadingQueue[:i], s.loadingQueue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) handleQueueStatus(want *model.TestId) queueStatusReply {
	counts := make(map[model.State]int, 7)
	var testing []model.TestId
	for id, rec := range s.records {
		counts[rec.State]++
		if rec.State == model.StateTesting {
			testing = append(testing, id)
		}
	}
	sort.Slice(testing, func(i, j int) bool {
		ri, rj := s.records[testing[i]], s.records[testing[j]]
		if ri.StartedAt == nil || rj.StartedAt == nil {
			return testing[i].String() < testing[j].String()
		}
		return ri.StartedAt.Before(*rj.StartedAt)
	})

	qs := model.QueueStatus{Counts: counts, CurrentlyTesting: testing}
	if want != nil {
		rec, ok := s.records[*want]
		if !ok {
			return queueStatusReply{err: model.ErrNotFound}
		}
		snap := rec.Snapshot()
		qs.Requested = &snap
	}
	return queueStatusReply{status: qs}
}

// --- Public ask-pattern API -------------------------------------------------

var errAskTimedOut = fmt.Errorf("%w: scheduler did not reply within the configured ask timeout", model.ErrAdmissionUnavailable)

func (s *Scheduler) ask(ctx context.Context, cmd interface{}) error {
	deadline, cancel := context.WithTimeout(ctx, s.askTimeout)
	defer cancel()
	select {
	case s.inbox <- cmd:
		return nil
	case <-deadline.Done():
		return errAskTimedOut
	}
}

// Initialize creates a fresh TestRecord in state Setup and returns its id.
// Creating the record never fails; an error is returned only when the ask
// times out or ctx is done before the reply arrives.
func (s *Scheduler) Initialize(ctx context.Context) (model.TestId, error) {
	reply := make(chan model.TestId, 1)
	if err := s.ask(ctx, initializeCmd{reply: reply}); err != nil {
		return model.TestId{}, err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return model.TestId{}, ctx.Err()
	}
}

// StartTest transitions id from Setup to Loading, admitting immediately
// if a concurrency slot is free.
func (s *Scheduler) StartTest(ctx context.Context, id model.TestId, bucket, testType string) (StartOutcome, error) {
	reply := make(chan StartOutcome, 1)
	if err := s.ask(ctx, startCmd{id: id, bucket: bucket, testType: testType, reply: reply}); err != nil {
		return StartOutcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return StartOutcome{}, ctx.Err()
	}
}

// Status returns a snapshot of one TestRecord.
func (s *Scheduler) Status(ctx context.Context, id model.TestId) (model.Status, error) {
	reply := make(chan statusReply, 1)
	if err := s.ask(ctx, statusCmd{id: id, reply: reply}); err != nil {
		return model.Status{}, err
	}
	select {
	case out := <-reply:
		return out.status, out.err
	case <-ctx.Done():
		return model.Status{}, ctx.Err()
	}
}

// QueueStatus returns per-state counts and, when id is non-nil, that
// record's own snapshot alongside them.
func (s *Scheduler) QueueStatus(ctx context.Context, id *model.TestId) (model.QueueStatus, error) {
	reply := make(chan queueStatusReply, 1)
	if err := s.ask(ctx, queueStatusCmd{id: id, reply: reply}); err != nil {
		return model.QueueStatus{}, err
	}
	select {
	case out := <-reply:
		return out.status, out.err
	case <-ctx.Done():
		return model.QueueStatus{}, ctx.Err()
	}
}

// Cancel requests cancellation of id. Idempotent: cancelling an already
// terminal test is a NoOp (spec P5).
func (s *Scheduler) Cancel(ctx context.Context, id model.TestId) (CancelOutcome, error) {
	reply := make(chan CancelOutcome, 1)
	if err := s.ask(ctx, cancelCmd{id: id, reply: reply}); err != nil {
		return CancelOutcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return CancelOutcome{}, ctx.Err()
	}
}

// EvictExpired drops terminal records that ended more than olderThan ago,
// returning the number evicted. Called periodically by the retention
// sweep.
func (s *Scheduler) EvictExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	reply := make(chan int, 1)
	if err := s.ask(ctx, evictCmd{olderThan: olderThan, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
