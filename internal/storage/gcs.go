package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/workspace"
)

// GCS fetches/uploads against Google Cloud Storage, reusing the teacher's
// own direct dependency on cloud.google.com/go/storage (originally used
// to fetch Flow catalog builds; repurposed here for test buckets and
// evidence trees).
type GCS struct {
	client      *storage.Client
	ScratchBase string
}

func NewGCS(client *storage.Client, scratchBase string) *GCS {
	return &GCS{client: client, ScratchBase: scratchBase}
}

// parseGSURI splits "gs://bucket/prefix" into its parts.
func parseGSURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}

func (g *GCS) Fetch(ctx context.Context, id model.TestId, bucketURI string) (workspace.Workspace, error) {
	bucketName, prefix, err := parseGSURI(bucketURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}

	ws, err := workspace.New(g.ScratchBase, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}

	it := g.client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	any := false
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			_ = ws.Delete()
			return nil, fmt.Errorf("%w: listing gs://%s/%s: %v", model.ErrBucket, bucketName, prefix, err)
		}
		any = true
		rel := strings.TrimPrefix(attrs.Name, prefix)
		rel = strings.TrimPrefix(rel, "/")
		dst := filepath.Join(ws.Root(), rel)
		if err := g.downloadOne(ctx, bucketName, attrs.Name, dst); err != nil {
			_ = ws.Delete()
			return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
		}
	}
	if !any {
		_ = ws.Delete()
		return nil, fmt.Errorf("%w: bucket gs://%s/%s is empty", model.ErrBucket, bucketName, prefix)
	}
	return ws, nil
}

func (g *GCS) downloadOne(ctx context.Context, bucketName, object, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	r, err := g.client.Bucket(bucketName).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("opening gs://%s/%s: %w", bucketName, object, err)
	}
	defer r.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (g *GCS) Upload(ctx context.Context, id model.TestId, bucketURI, evidenceDir string) error {
	bucketName, prefix, err := parseGSURI(bucketURI)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrUpload, err)
	}
	return filepath.Walk(evidenceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(evidenceDir, path)
		if err != nil {
			return err
		}
		object := strings.TrimSuffix(prefix, "/") + "/evidence/" + rel
		w := g.client.Bucket(bucketName).Object(object).NewWriter(ctx)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("%w: uploading %s: %v", model.ErrUpload, object, err)
		}
		return w.Close()
	})
}
