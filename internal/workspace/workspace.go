// Package workspace implements the per-test scratch filesystem (spec §3
// "Workspace", §9 "Scratch FS"). Production and tests both use the
// filesystem-backed implementation below, rooted under a configured base
// directory (the OS temp directory when none is given); there is no
// in-memory implementation. Cleanup is guaranteed by scoped acquisition
// across every Execution exit path.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/estuary/test-probe/internal/model"
)

// Workspace is a per-test root directory containing features/, the
// manifest, and evidence/.
type Workspace interface {
	// Root returns the absolute path to the workspace root.
	Root() string
	// FeaturesDir returns the absolute path to the bucket-relative
	// features directory.
	FeaturesDir(relative string) string
	// ManifestPath returns the absolute path to the manifest file.
	ManifestPath(relative string) string
	// EvidenceDir returns the absolute path to the evidence directory,
	// creating it if absent.
	EvidenceDir() (string, error)
	// Delete removes the workspace root and everything under it.
	Delete() error
}

// osWorkspace is the filesystem-backed implementation, rooted at
// <base>/test-probe/<testId>.
type osWorkspace struct {
	root string
}

// New creates a scratch root for id under base (os.TempDir() if base is
// empty) and returns a handle to it. The directory is created empty; the
// caller (Storage Port) populates it.
func New(base string, id model.TestId) (Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	root := filepath.Join(base, "test-probe", id.String())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root %q: %w", root, err)
	}
	return &osWorkspace{root: root}, nil
}

func (w *osWorkspace) Root() string { return w.root }

func (w *osWorkspace) FeaturesDir(relative string) string {
	return filepath.Join(w.root, relative)
}

func (w *osWorkspace) ManifestPath(relative string) string {
	return filepath.Join(w.root, relative)
}

func (w *osWorkspace) EvidenceDir() (string, error) {
	dir := filepath.Join(w.root, "evidence")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating evidence dir %q: %w", dir, err)
	}
	return dir, nil
}

func (w *osWorkspace) Delete() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("deleting workspace root %q: %w", w.root, err)
	}
	return nil
}

// Validate enforces the Workspace invariants of spec §3/§4.3 phase 1:
// featuresRelative exists and is non-empty, and the manifest exists. It
// does not parse the manifest; that is the caller's job.
func Validate(w Workspace, manifestRelative, featuresRelative string) error {
	entries, err := os.ReadDir(w.FeaturesDir(featuresRelative))
	if err != nil {
		return fmt.Errorf("reading features dir: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("features directory is empty")
	}
	if _, err := os.Stat(w.ManifestPath(manifestRelative)); err != nil {
		return fmt.Errorf("manifest %q: %w", manifestRelative, err)
	}
	return nil
}
