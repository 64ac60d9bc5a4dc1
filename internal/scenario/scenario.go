// Package scenario defines the Scenario Runtime contract (spec §4.3 phase
// 4, §6 "Evidence layout"). The runner itself is out of scope per spec
// §1 ("treated as a blocking external routine producing a result
// record"); this package is the boundary the Execution FSM calls through,
// plus a default discovery-only implementation good enough to drive the
// evidence-file contract end to end in tests.
package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/estuary/test-probe/internal/model"
)

// Handles bundles whatever the Execution FSM has stood up by the time it
// invokes the Scenario Runtime: one Producer/Consumer per topic, keyed by
// topic name. The runtime package only needs enough of their shape to
// exercise them from feature steps; the concrete types live in streams.
type Handles struct {
	Producers map[string]interface{}
	Consumers map[string]interface{}
}

// Runtime runs the scenarios discovered under workspaceRoot's
// featuresRelative directory and returns a result record, or an error if
// the run could not start at all (spec ErrScenarioRuntime) as distinct
// from running to completion with failures, which is a returned Result
// with Passed=false and a nil error.
type Runtime interface {
	Run(ctx context.Context, workspaceRoot, featuresRelative, testType string, handles Handles) (model.Result, error)
}

// report is the evidence/ JSON shape from spec §6: "a machine-readable
// scenario-result file (JSON report of passed/failed/skipped counts)".
type report struct {
	Scenarios int    `json:"scenarios"`
	Steps     int    `json:"steps"`
	Passed    bool   `json:"passed"`
	Error     string `json:"error,omitempty"`
}

// DiscoveryRuntime discovers .feature files under <root>/<featuresRelative>
// and produces a trivially-passing result for each scenario heading it
// finds (a "Scenario:" or "Scenario Outline:" line), without executing
// steps. It exists so the FSM→evidence path can be exercised without a
// Gherkin engine; production deployments inject a real BDD runtime here
// instead.
type DiscoveryRuntime struct{}

func NewDiscoveryRuntime() *DiscoveryRuntime { return &DiscoveryRuntime{} }

func (DiscoveryRuntime) Run(ctx context.Context, workspaceRoot, featuresRelative, testType string, handles Handles) (model.Result, error) {
	featuresDir := filepath.Join(workspaceRoot, featuresRelative)
	entries, err := os.ReadDir(featuresDir)
	if err != nil {
		return model.Result{}, fmt.Errorf("%w: reading features dir: %v", model.ErrScenarioRuntime, err)
	}

	var scenarios, steps int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(featuresDir, e.Name()))
		if err != nil {
			return model.Result{}, fmt.Errorf("%w: reading %s: %v", model.ErrScenarioRuntime, e.Name(), err)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "Scenario:"), strings.HasPrefix(trimmed, "Scenario Outline:"):
				scenarios++
			case strings.HasPrefix(trimmed, "Given "), strings.HasPrefix(trimmed, "When "), strings.HasPrefix(trimmed, "Then "), strings.HasPrefix(trimmed, "And "):
				steps++
			}
		}
	}

	if scenarios == 0 {
		return model.Result{}, fmt.Errorf("%w: no scenarios discovered under %s", model.ErrScenarioRuntime, featuresDir)
	}

	return model.Result{Scenarios: scenarios, Steps: steps, Passed: true}, nil
}

// WriteEvidence writes the scenario-result report into evidenceDir,
// fulfilling the "at minimum a machine-readable scenario-result file"
// requirement of spec §6.
func WriteEvidence(evidenceDir string, result model.Result) error {
	rpt := report{Scenarios: result.Scenarios, Steps: result.Steps, Passed: result.Passed, Error: result.Error}
	raw, err := json.MarshalIndent(rpt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling scenario result: %w", err)
	}
	path := filepath.Join(evidenceDir, "result.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
