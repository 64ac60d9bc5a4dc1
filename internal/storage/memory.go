package storage

import (
	"context"
	"fmt"

	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/workspace"
)

// Memory is an in-process Storage Port used by tests. Buckets are
// pre-populated file trees keyed by name; Fetch copies one into a real
// scratch workspace so downstream manifest/feature validation runs
// unchanged, and Upload records what would have been sent.
type Memory struct {
	Buckets     map[string]map[string]string // bucket -> relative path -> contents
	ScratchBase string
	Uploaded    map[model.TestId]map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		Buckets:  make(map[string]map[string]string),
		Uploaded: make(map[model.TestId]map[string]string),
	}
}

func (m *Memory) Fetch(ctx context.Context, id model.TestId, bucket string) (workspace.Workspace, error) {
	files, ok := m.Buckets[bucket]
	if !ok || len(files) == 0 {
		return nil, fmt.Errorf("%w: unknown or empty bucket %q", model.ErrBucket, bucket)
	}
	ws, err := workspace.New(m.ScratchBase, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}
	for rel, contents := range files {
		if err := writeRel(ws.Root(), rel, contents); err != nil {
			_ = ws.Delete()
			return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
		}
	}
	return ws, nil
}

func (m *Memory) Upload(ctx context.Context, id model.TestId, bucket, evidenceDir string) error {
	files, err := readTree(evidenceDir)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrUpload, err)
	}
	m.Uploaded[id] = files
	return nil
}
