package model

import "errors"

// Error kinds from spec §7. Callers use errors.Is against these sentinels;
// adapters wrap them with fmt.Errorf("...: %w", ErrX) to keep the kind
// while adding context.
var (
	// ErrValidation covers bad request inputs; no state change results.
	ErrValidation = errors.New("validation error")

	// ErrNotFound means the TestId is unknown to the scheduler.
	ErrNotFound = errors.New("test not found")

	// ErrAdmissionUnavailable means the scheduler cannot admit right now;
	// translated to a transient-unavailable response at the REST boundary.
	ErrAdmissionUnavailable = errors.New("admission unavailable")

	// ErrBucket covers artifact fetch/parse failures. Terminal Exception.
	ErrBucket = errors.New("bucket error")

	// ErrVault covers credential fetch failures. Terminal Exception.
	ErrVault = errors.New("vault error")

	// ErrStreamStartup covers broker client setup failures. Terminal Exception.
	ErrStreamStartup = errors.New("stream startup error")

	// ErrScenarioRuntime covers the scenario runtime throwing. Terminal Exception.
	ErrScenarioRuntime = errors.New("scenario runtime error")

	// ErrScenarioResultFail means the run completed with failing scenarios.
	// Terminal Exception with success=false.
	ErrScenarioResultFail = errors.New("scenario result failed")

	// ErrUpload is non-fatal: attached to the record but never changes the
	// terminal state that the result already determined.
	ErrUpload = errors.New("upload error")

	// ErrCancelled marks a user-initiated terminal Cancelled transition.
	ErrCancelled = errors.New("cancelled")

	// ErrSupervisionFatal means Guardian exceeded its restart budget.
	ErrSupervisionFatal = errors.New("supervision fatal")
)
