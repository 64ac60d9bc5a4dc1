// Package model holds the data types shared by the scheduler, the
// execution FSM, and the stream actors. Nothing in this package performs
// I/O; it is pure state.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TestId is a stable 128-bit identifier, assigned once on Initialize and
// never reassigned.
type TestId uuid.UUID

// NewTestId generates a fresh, random TestId.
func NewTestId() TestId {
	return TestId(uuid.New())
}

func (id TestId) String() string {
	return uuid.UUID(id).String()
}

// ParseTestId parses a canonical UUID string into a TestId.
func ParseTestId(s string) (TestId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TestId{}, err
	}
	return TestId(u), nil
}

// State is one node of the queue state machine described in spec §4.9.
type State string

const (
	StateSetup     State = "Setup"
	StateLoading   State = "Loading"
	StateLoaded    State = "Loaded"
	StateTesting   State = "Testing"
	StateCompleted State = "Completed"
	StateException State = "Exception"
	StateCancelled State = "Cancelled"
)

// Terminal reports whether s is one of {Completed, Exception, Cancelled}.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateException, StateCancelled:
		return true
	default:
		return false
	}
}

// Role distinguishes producer and consumer topic directives.
type Role string

const (
	RoleProducer Role = "Producer"
	RoleConsumer Role = "Consumer"
)

// EventFilter pairs a decoded event's type with its payload schema
// version; only consumer directives carry these.
type EventFilter struct {
	EventType      string
	PayloadVersion string
}

// TopicDirective is one entry of the bucket manifest.
type TopicDirective struct {
	Topic            string
	Role             Role
	BootstrapServers string // empty means "use the configured default"
	EventFilters     []EventFilter
	Principal        string
}

// EffectiveBootstrapServers returns the directive's own override, or def
// if none was supplied.
func (d TopicDirective) EffectiveBootstrapServers(def string) string {
	if d.BootstrapServers != "" {
		return d.BootstrapServers
	}
	return def
}

// Credentials is an opaque per-topic field map. The core never interprets
// its contents; it is handed verbatim to the broker client.
type Credentials map[string]string

// Result summarizes a completed scenario run.
type Result struct {
	Scenarios int
	Steps     int
	Passed    bool
	Error     string
}

// Record is the Queue Scheduler's owned, mutable per-test state. All
// mutation happens on the scheduler actor's goroutine.
type Record struct {
	Id        TestId
	State     State
	Bucket    string
	TestType  string
	StartedAt *time.Time
	EndedAt   *time.Time
	Result    *Result
	Error     string

	// execHandle is opaque to callers outside the scheduler package; it is
	// exposed here only so the scheduler can stash it without a second map.
	ExecHandle interface{}
}

// Status is the read-only snapshot returned by Queue Scheduler.status.
type Status struct {
	Id        TestId
	State     State
	Bucket    string
	TestType  string
	StartedAt *time.Time
	EndedAt   *time.Time
	Success   *bool
	Error     string
}

func (r *Record) Snapshot() Status {
	var success *bool
	if r.Result != nil {
		p := r.Result.Passed
		success = &p
	}
	return Status{
		Id:        r.Id,
		State:     r.State,
		Bucket:    r.Bucket,
		TestType:  r.TestType,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Success:   success,
		Error:     r.Error,
	}
}

// QueueStatus is the aggregate view returned by Queue Scheduler.queueStatus.
type QueueStatus struct {
	Counts           map[State]int
	CurrentlyTesting []TestId
	Requested        *Status // set only when a specific id was requested
}

// Envelope is one event in flight between the core and the broker.
type Envelope struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ConsumedRecord is a decoded event stored in a Consumer Stream's registry.
type ConsumedRecord struct {
	EventId string
	Key     []byte
	Value   []byte
	Headers map[string]string
}
