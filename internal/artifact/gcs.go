package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// NewFromConfig selects the artifact backend from the archive destination:
// a gs:// destination selects GCS with its bucket as archive target, anything
// else the local filesystem.
func NewFromConfig(ctx context.Context, archiveDir string) (Store, error) {
	if strings.HasPrefix(archiveDir, "gs://") {
		bucket, _, _ := strings.Cut(strings.TrimPrefix(archiveDir, "gs://"), "/")
		if bucket == "" {
			return nil, fmt.Errorf("archive destination %s names no bucket", archiveDir)
		}
		return NewGCS(ctx, bucket)
	}
	return NewLocal(archiveDir), nil
}

// GCS manages artifacts addressed as gs://bucket/object, archiving them
// under an archive bucket keyed by document id.
type GCS struct {
	client        *storage.Client
	archiveBucket string
}

func NewGCS(ctx context.Context, archiveBucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &GCS{client: client, archiveBucket: archiveBucket}, nil
}

// Remove deletes the object. An already-missing object is treated as done.
func (g *GCS) Remove(ctx context.Context, path string) error {
	bucket, object, err := splitURI(path)
	if err != nil {
		return err
	}
	err = g.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// Archive copies the object into the archive bucket under the document id,
// then deletes the source. The copy is conditional on the destination not
// existing, so a re-run after a partial failure skips instead of failing.
func (g *GCS) Archive(ctx context.Context, path, documentID string) error {
	bucket, object, err := splitURI(path)
	if err != nil {
		return err
	}
	src := g.client.Bucket(bucket).Object(object)
	destName := fmt.Sprintf("%s/%s", documentID, object[strings.LastIndex(object, "/")+1:])
	dest := g.client.Bucket(g.archiveBucket).Object(destName).If(storage.Conditions{DoesNotExist: true})

	if _, err := dest.CopierFrom(src).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Archive object already exists; skipping copy.", "object", destName)
		} else {
			return fmt.Errorf("failed to archive gs://%s/%s: %w", bucket, object, err)
		}
	}
	return g.Remove(ctx, path)
}

func (g *GCS) Close() error { return g.client.Close() }

func splitURI(path string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(path, "gs://")
	if trimmed == path {
		return "", "", fmt.Errorf("artifact path %s is not a gs:// URI", path)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("artifact path %s is malformed", path)
	}
	return parts[0], parts[1], nil
}

var _ Store = (*GCS)(nil)
