// Package storage provides Storage Port adapters (spec §4.7). Local is a
// dev/test adapter that treats bucket as a filesystem path to copy from;
// GCS and S3 are the production cloud adapters.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/workspace"
)

// Local fetches/uploads against the local filesystem. bucket is a
// "local://" prefixed path, or a bare path.
type Local struct {
	ScratchBase string
}

func NewLocal(scratchBase string) *Local {
	return &Local{ScratchBase: scratchBase}
}

func localPath(bucket string) string {
	return strings.TrimPrefix(bucket, "local://")
}

func (l *Local) Fetch(ctx context.Context, id model.TestId, bucket string) (workspace.Workspace, error) {
	src := localPath(bucket)
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("%w: bucket path %q: %v", model.ErrBucket, src, err)
	}

	ws, err := workspace.New(l.ScratchBase, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}
	if err := copyTree(src, ws.Root()); err != nil {
		_ = ws.Delete()
		return nil, fmt.Errorf("%w: copying bucket %q: %v", model.ErrBucket, src, err)
	}
	return ws, nil
}

func (l *Local) Upload(ctx context.Context, id model.TestId, bucket, evidenceDir string) error {
	dst := filepath.Join(localPath(bucket), "evidence")
	if err := copyTree(evidenceDir, dst); err != nil {
		return fmt.Errorf("%w: uploading evidence to %q: %v", model.ErrUpload, dst, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// writeRel writes contents to root/rel, creating parent directories as
// needed. Used by the in-memory adapter to materialize a fake bucket.
func writeRel(root, rel, contents string) error {
	dst := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(contents), 0o644)
}

// readTree reads every regular file under dir into a map keyed by its
// path relative to dir. Used by the in-memory adapter to record uploads.
func readTree(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = string(contents)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
