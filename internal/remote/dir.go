package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirStore copies recordings into a directory, typically a mounted network
// share.
type DirStore struct {
	baseDir string
}

// NewDirStore creates a DirStore, creating baseDir if needed.
func NewDirStore(baseDir string) (*DirStore, error) {
	if baseDir == "" {
		return nil, errors.New("destination directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	return &DirStore{baseDir: baseDir}, nil
}

// Upload copies obj to baseDir/Name unless the file exists.
func (s *DirStore) Upload(ctx context.Context, obj Object) (Result, error) {
	target, err := s.resolve(obj.Name)
	if err != nil {
		return Result{}, err
	}

	if _, err := os.Stat(target); err == nil {
		return Result{Skipped: true, Location: target}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	src, err := os.Open(obj.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open staged recording: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.baseDir, "."+obj.Name+".part-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, readerWithContext(ctx, src)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("failed to write recording: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("failed to sync recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("failed to close recording: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("failed to move recording into place: %w", err)
	}
	return Result{Location: target}, nil
}

// Close implements Store.
func (s *DirStore) Close() error { return nil }

// resolve validates that name stays within baseDir.
func (s *DirStore) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid recording name: %q", name)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, name))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid recording name: path traversal detected")
	}
	return absPath, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
