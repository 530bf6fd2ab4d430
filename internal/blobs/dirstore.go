package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// DirStore keeps objects as files beneath Dir.
type DirStore struct {
	Dir string
}

var _ Store = (*DirStore)(nil)

func (d *DirStore) path(key string) string {
	return filepath.Join(d.Dir, filepath.FromSlash(key))
}

func (d *DirStore) URL(key string) string {
	return d.path(key)
}

func (d *DirStore) Upload(ctx context.Context, sourcePath string, key string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	dest := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", dest, err)
	}
	n, err := writeToFile(ctx, src, dest)
	if err != nil {
		return fmt.Errorf("copying to %q: %w", dest, err)
	}
	klog.FromContext(ctx).V(2).Info("stored blob", "source", sourcePath, "destination", dest, "bytes", n)
	return nil
}

func (d *DirStore) Download(ctx context.Context, key string, destPath string) error {
	src, err := os.Open(d.path(key))
	if err != nil {
		return fmt.Errorf("opening blob %q: %w", key, err)
	}
	defer src.Close()

	if _, err := writeToFile(ctx, src, destPath); err != nil {
		return fmt.Errorf("copying blob %q: %w", key, err)
	}
	return nil
}

// writeToFile streams src into destinationPath through a temp file in the
// same directory, so readers never observe a partial file.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "blob")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("copying from source: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
