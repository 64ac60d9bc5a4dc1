package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/estuary/test-probe/internal/model"
)

const sampleFeature = `Feature: order placement

  Scenario: a valid order is accepted
    Given a customer with valid credentials
    When they place an order
    Then an order-placed event is produced

  Scenario: an invalid order is rejected
    Given a customer with an empty cart
    When they place an order
    Then the order is rejected
`

func writeFeatures(t *testing.T, root string) {
	t.Helper()
	featuresDir := filepath.Join(root, "features")
	require.NoError(t, os.MkdirAll(featuresDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(featuresDir, "orders.feature"), []byte(sampleFeature), 0o644))
}

func TestDiscoveryRuntimeCountsScenariosAndSteps(t *testing.T) {
	root := t.TempDir()
	writeFeatures(t, root)

	rt := NewDiscoveryRuntime()
	result, err := rt.Run(context.Background(), root, "features", "integration", Handles{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Scenarios)
	require.Equal(t, 6, result.Steps)
	require.True(t, result.Passed)
}

func TestDiscoveryRuntimeErrorsWithNoScenarios(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "features"), 0o755))

	rt := NewDiscoveryRuntime()
	_, err := rt.Run(context.Background(), root, "features", "integration", Handles{})
	require.ErrorIs(t, err, model.ErrScenarioRuntime)
}

// TestWriteEvidenceReportShape snapshots the evidence JSON report so an
// unintentional change to its shape (field names, nesting) fails the
// build rather than silently breaking whatever reads evidence/result.json
// downstream (spec §6).
func TestWriteEvidenceReportShape(t *testing.T) {
	dir := t.TempDir()
	result := model.Result{Scenarios: 2, Steps: 6, Passed: false, Error: "step 3 timed out"}
	require.NoError(t, WriteEvidence(dir, result))

	raw, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
	cupaloy.SnapshotT(t, string(raw))
}
