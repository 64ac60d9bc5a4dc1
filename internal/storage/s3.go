package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/estuary/test-probe/internal/model"
	"github.com/estuary/test-probe/internal/workspace"
)

// S3 fetches/uploads against AWS S3, grounded on the aws-sdk-go-v2 stack
// used directly by emergent-company-emergent/apps/server-go and
// grpc-test-infra in the retrieval pack.
type S3 struct {
	client      *s3.Client
	ScratchBase string
}

func NewS3(client *s3.Client, scratchBase string) *S3 {
	return &S3{client: client, ScratchBase: scratchBase}
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("not an s3:// uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}

func (s *S3) Fetch(ctx context.Context, id model.TestId, bucketURI string) (workspace.Workspace, error) {
	bucketName, prefix, err := parseS3URI(bucketURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}

	ws, err := workspace.New(s.ScratchBase, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
	}

	var continuationToken *string
	any := false
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			_ = ws.Delete()
			return nil, fmt.Errorf("%w: listing s3://%s/%s: %v", model.ErrBucket, bucketName, prefix, err)
		}
		for _, obj := range out.Contents {
			any = true
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				continue
			}
			dst := filepath.Join(ws.Root(), rel)
			if err := s.downloadOne(ctx, bucketName, aws.ToString(obj.Key), dst); err != nil {
				_ = ws.Delete()
				return nil, fmt.Errorf("%w: %v", model.ErrBucket, err)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	if !any {
		_ = ws.Delete()
		return nil, fmt.Errorf("%w: bucket s3://%s/%s is empty", model.ErrBucket, bucketName, prefix)
	}
	return ws, nil
}

func (s *S3) downloadOne(ctx context.Context, bucket, key, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, out.Body)
	return err
}

func (s *S3) Upload(ctx context.Context, id model.TestId, bucketURI, evidenceDir string) error {
	bucketName, prefix, err := parseS3URI(bucketURI)
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
		key := strings.TrimSuffix(prefix, "/") + "/evidence/" + rel
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("%w: uploading %s: %v", model.ErrUpload, key, err)
		}
		return nil
	})
}
