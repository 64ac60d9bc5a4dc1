// Package execution implements the Test Execution FSM (spec §4.3): the
// per-test orchestrator driving artifact fetch, credential fetch, topic
// actor startup, scenario execution, and evidence upload through to a
// terminal event. One Execution is spawned per admitted test by the
// Queue Scheduler and reports progress back over a channel rather than
// a direct callback, keeping it a plain shared-nothing actor like the
// producer/consumer streams it owns.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/estuary/test-probe/internal/manifest"
	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/ports"
	"github.com/estuary/test-probe/internal/scenario"
	"github.com/estuary/test-probe/internal/streams"
	"github.com/estuary/test-probe/internal/workspace"
)

// EventKind distinguishes the progress events an Execution reports to
// its owner, mirroring spec §4.3's enumerated set.
type EventKind string

const (
	EventLoaded      EventKind = "Loaded"
	EventInitialized EventKind = "Initialized"
	EventResultReady EventKind = "ResultReady"
	EventFailedWith  EventKind = "FailedWith"
	EventCancelAck   EventKind = "CancelAck"
)

// Event is one message on the Events() channel. Err is set for
// FailedWith; Result is set for ResultReady; UploadErr may be set
// alongside either, since an upload failure is non-fatal to the result
// (spec §4.3 phase 5).
type Event struct {
	Kind      EventKind
	Result    model.Result
	Err       error
	UploadErr error
}

// Config carries the per-execution knobs sourced from config.Config.
type Config struct {
	ManifestRelativePath    string
	FeaturesRelativePath    string
	DefaultBootstrapServers string
	AskTimeout              time.Duration
	StartupDeadline         time.Duration
	CommitBatchSize         int
	CommitInterval          time.Duration
}

// Execution is one per-test orchestrator. It is not safe for concurrent
// use from multiple goroutines beyond Cancel and reading Events(): the
// run loop is the only mutator of its own state, matching the serial
// single-threaded-handler discipline the streams actors follow.
type Execution struct {
	Id       model.TestId
	Bucket   string
	TestType string

	ports   *ports.Ports
	cfg     Config
	runtime scenario.Runtime

	events chan Event

	cancelOnce sync.Once
	cancelCh   chan struct{}

	log *log.Entry
}

// New constructs an Execution. Start must be called once to begin the
// FSM; Events() yields progress events until the run ends with a
// terminal event and the channel is closed.
func New(id model.TestId, bucket, testType string, p *ports.Ports, cfg Config, runtime scenario.Runtime) *Execution {
	if runtime == nil {
		runtime = scenario.NewDiscoveryRuntime()
	}
	return &Execution{
		Id:       id,
		Bucket:   bucket,
		TestType: testType,
		ports:    p,
		cfg:      cfg,
		runtime:  runtime,
		events:   make(chan Event, 4),
		cancelCh: make(chan struct{}),
		log:      log.WithFields(log.Fields{"component": "execution", "testId": id.String()}),
	}
}

// Events returns the channel of progress/terminal events. It is closed
// exactly once, after the terminal event, when Start's goroutine exits.
func (e *Execution) Events() <-chan Event { return e.events }

// Cancel requests cooperative cancellation (spec §5): observed at phase
// boundaries, never a forced interrupt of in-flight I/O. Idempotent.
func (e *Execution) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

func (e *Execution) cancelRequested() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// Start runs the FSM to completion on its own goroutine.
func (e *Execution) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Execution) emit(ev Event) {
	e.events <- ev
}

func (e *Execution) run(ctx context.Context) {
	defer close(e.events)

	// Phase 1: FetchingArtifacts.
	ws, directives, err := e.fetchArtifacts(ctx)
	if err != nil {
		e.emit(Event{Kind: EventFailedWith, Err: err})
		return
	}

	// Phase 2: FetchingCredentials.
	creds, err := e.fetchCredentials(ctx, ws, directives)
	if err != nil {
		_ = ws.Delete()
		e.emit(Event{Kind: EventFailedWith, Err: err})
		return
	}
	e.emit(Event{Kind: EventLoaded})

	if e.cancelRequested() {
		e.terminateCancelled(ctx, ws, nil, nil)
		return
	}

	// Phase 3: StartingStreams.
	producers, consumers, err := e.startStreams(ctx, directives, creds)
	if err != nil {
		stopAll(ctx, producers, consumers)
		_ = ws.Delete()
		e.emit(Event{Kind: EventFailedWith, Err: err})
		return
	}
	e.emit(Event{Kind: EventInitialized})

	if e.cancelRequested() {
		e.terminateCancelled(ctx, ws, producers, consumers)
		return
	}

	// Phase 4: Running. Cancel is observed but does not interrupt the
	// in-flight scenario run; only the phase boundary after it reacts.
	result, runErr := e.runScenario(ctx, ws, producers, consumers)

	stopAll(ctx, producers, consumers)

	// Phase 5/6: UploadingEvidence, Terminating.
	evidenceDir, evErr := ws.EvidenceDir()
	var uploadErr error
	if evErr == nil {
		if runErr == nil {
			if werr := scenario.WriteEvidence(evidenceDir, result); werr != nil {
				e.log.WithError(werr).Warn("writing evidence report")
			}
		}
		if uerr := e.ports.Storage.Upload(ctx, e.Id, e.Bucket, evidenceDir); uerr != nil {
			uploadErr = fmt.Errorf("%w: %v", model.ErrUpload, uerr)
			e.log.WithError(uploadErr).Warn("evidence upload failed, non-fatal")
		}
	}
	_ = ws.Delete()

	if e.cancelRequested() {
		e.emit(Event{Kind: EventCancelAck, UploadErr: uploadErr})
		return
	}
	if runErr != nil {
		e.emit(Event{Kind: EventFailedWith, Err: runErr, UploadErr: uploadErr})
		return
	}
	e.emit(Event{Kind: EventResultReady, Result: result, UploadErr: uploadErr})
}

// terminateCancelled handles the skip-to-Cancelled path taken when the
// cancel flag is observed at a phase boundary before Running starts:
// no evidence exists yet, so there is nothing to upload.
func (e *Execution) terminateCancelled(ctx context.Context, ws workspace.Workspace, producers map[string]*streams.Producer, consumers map[string]*streams.Consumer) {
	stopAll(ctx, producers, consumers)
	_ = ws.Delete()
	e.emit(Event{Kind: EventCancelAck})
}

func (e *Execution) fetchArtifacts(ctx context.Context) (workspace.Workspace, []model.TopicDirective, error) {
	ws, err := e.ports.Storage.Fetch(ctx, e.Id, e.Bucket)
	if err != nil {
		return nil, nil, err
	}
	if err := workspace.Validate(ws, e.cfg.ManifestRelativePath, e.cfg.FeaturesRelativePath); err != nil {
		_ = ws.Delete()
		return nil, nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}
	directives, err := manifest.Load(ws.ManifestPath(e.cfg.ManifestRelativePath))
	if err != nil {
		_ = ws.Delete()
		return nil, nil, err
	}
	return ws, directives, nil
}

func (e *Execution) fetchCredentials(ctx context.Context, ws workspace.Workspace, directives []model.TopicDirective) ([]model.Credentials, error) {
	creds, err := e.ports.Vault.FetchCredentials(ctx, e.Id, directives)
	if err != nil {
		return nil, err
	}
	if len(creds) != len(directives) {
		return nil, fmt.Errorf("%w: vault returned %d credential sets for %d directives", model.ErrVault, len(creds), len(directives))
	}
	return creds, nil
}

func (e *Execution) startStreams(ctx context.Context, directives []model.TopicDirective, creds []model.Credentials) (map[string]*streams.Producer, map[string]*streams.Consumer, error) {
	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartupDeadline)
	defer cancel()

	var mu sync.Mutex
	producers := make(map[string]*streams.Producer)
	consumers := make(map[string]*streams.Consumer)

	g, gctx := errgroup.WithContext(startCtx)
	for i, d := range directives {
		d := d
		c := creds[i]
		bootstrap := d.EffectiveBootstrapServers(e.cfg.DefaultBootstrapServers)
		g.Go(func() error {
			switch d.Role {
			case model.RoleProducer:
				client, err := e.ports.BrokerFactory.NewProducer(gctx, d.Topic, bootstrap, c)
				if err != nil {
					return fmt.Errorf("%w: starting producer for %q: %v", model.ErrStreamStartup, d.Topic, err)
				}
				p := streams.NewProducer(d.Topic, client, e.ports.Codec, e.cfg.AskTimeout)
				p.Start(ctx)
				mu.Lock()
				producers[d.Topic] = p
				mu.Unlock()
			case model.RoleConsumer:
				groupID := e.Id.String() + "/" + d.Topic
				client, err := e.ports.BrokerFactory.NewConsumer(gctx, d.Topic, bootstrap, groupID, c)
				if err != nil {
					return fmt.Errorf("%w: starting consumer for %q: %v", model.ErrStreamStartup, d.Topic, err)
				}
				cs := streams.NewConsumer(d.Topic, client, e.ports.Codec, d.EventFilters, e.cfg.CommitBatchSize, e.cfg.CommitInterval, nil)
				cs.Start(ctx)
				mu.Lock()
				consumers[d.Topic] = cs
				mu.Unlock()
			default:
				return fmt.Errorf("%w: topic %q has unknown role %q", model.ErrStreamStartup, d.Topic, d.Role)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		stopAll(ctx, producers, consumers)
		return nil, nil, err
	}
	return producers, consumers, nil
}

// runScenarioResult is piped back through a channel so the blocking
// runtime call never runs on the FSM's own goroutine directly, matching
// spec §5's "blocking I/O ... on a dedicated blocking worker pool;
// completions are re-entered as messages".
type runScenarioResult struct {
	result model.Result
	err    error
}

func (e *Execution) runScenario(ctx context.Context, ws workspace.Workspace, producers map[string]*streams.Producer, consumers map[string]*streams.Consumer) (model.Result, error) {
	handles := scenario.Handles{
		Producers: make(map[string]interface{}, len(producers)),
		Consumers: make(map[string]interface{}, len(consumers)),
	}
	for topic, p := range producers {
		handles.Producers[topic] = p
	}
	for topic, c := range consumers {
		handles.Consumers[topic] = c
	}

	done := make(chan runScenarioResult, 1)
	go func() {
		result, err := e.runtime.Run(ctx, ws.Root(), e.cfg.FeaturesRelativePath, e.TestType, handles)
		done <- runScenarioResult{result: result, err: err}
	}()

	// watchCancel is nilled out after it fires once, so the select below
	// never re-reads a closed channel on a later iteration; e.cancelCh
	// itself is never reassigned, since Cancel() may close it concurrently.
	watchCancel := e.cancelCh
	for {
		select {
		case out := <-done:
			// out.err set only means the runtime itself threw
			// (ErrScenarioRuntime); a completed run with failing
			// scenarios is a valid Result with Passed=false, reported
			// as ResultReady rather than FailedWith (spec §4.9).
			return out.result, out.err
		case <-watchCancel:
			// Cancel is acknowledged but does not interrupt the
			// in-flight run; keep waiting for it to finish.
			watchCancel = nil
		}
	}
}

func stopAll(ctx context.Context, producers map[string]*streams.Producer, consumers map[string]*streams.Consumer) {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(p *streams.Producer) {
			defer wg.Done()
			_ = p.Stop(stopCtx)
		}(p)
	}
	for _, c := range consumers {
		wg.Add(1)
		go func(c *streams.Consumer) {
			defer wg.Done()
			_ = c.Stop(stopCtx)
		}(c)
	}
	wg.Wait()
}
