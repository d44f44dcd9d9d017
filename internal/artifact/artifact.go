// Package artifact reclaims stored page and document images on behalf of
// the retention engine: physical delete or move into an archive namespaced
// by document id. Only retention mutates artifacts after ingestion.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store removes or archives one artifact path.
type Store interface {
	Remove(ctx context.Context, path string) error
	Archive(ctx context.Context, path, documentID string) error
}

// Local manages artifacts on the local filesystem.
type Local struct {
	ArchiveRoot string
}

func NewLocal(archiveRoot string) *Local {
	return &Local{ArchiveRoot: archiveRoot}
}

// Remove deletes the file. A missing file is fine: reclamation re-entry
// after a partial run must not fail.
func (l *Local) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact %s: %w", path, err)
	}
	return nil
}

// Archive moves the file under <archive_root>/<document_id>/.
func (l *Local) Archive(_ context.Context, path, documentID string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	destDir := filepath.Join(l.ArchiveRoot, documentID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems; fall back to copy-and-remove.
		if err := copyFile(path, dest); err != nil {
			return fmt.Errorf("failed to archive artifact %s: %w", path, err)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove archived source %s: %w", path, err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var _ Store = (*Local)(nil)
