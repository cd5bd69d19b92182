// Package staging holds recordings on local disk between the camera and
// the remote store. Each recording is a pair: the content file and a JSON
// sidecar. A pair is visible to readers only once its sidecar exists. A
// cursor file records the name of the last recording that was fully staged.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// CursorFile holds the name of the last staged recording.
	CursorFile = ".fetch_history"

	// MetaSuffix is appended to a recording name to form its sidecar name.
	MetaSuffix = ".meta"

	// DefaultLimit is the number of pairs held before staging refuses more.
	DefaultLimit = 100

	tempPrefix = ".tmp-"
)

// Source is a recording that can be staged.
type Source interface {
	Name() string
	RemotePath() string
	Timestamp() time.Time
	Open(ctx context.Context) (io.ReadCloser, string, error)
}

// Stats summarizes the staging area.
type Stats struct {
	Pairs  int    `json:"pairs"`
	Bytes  int64  `json:"bytes"`
	Cursor string `json:"cursor"`
}

// Store is a staging directory.
type Store struct {
	dir   string
	limit int
	log   *slog.Logger

	// mu serializes StoreVideo so the cursor read and advance are atomic.
	mu sync.Mutex
}

// NewStore creates the staging directory if needed and returns a Store.
// A limit of zero or less means DefaultLimit.
func NewStore(dir string, limit int, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("staging directory is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}
	return &Store{dir: dir, limit: limit, log: logger}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Cursor returns the last staged recording name, or "" before the first.
func (s *Store) Cursor() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CursorFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "read cursor", Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

// StoreVideo stages src unless its name is at or below the cursor, in
// which case it reports false without writing. On any failure both files of
// the pair are removed and the cursor is left unchanged.
func (s *Store) StoreVideo(ctx context.Context, src Source) (bool, error) {
	name := src.Name()
	contentPath, err := s.path(name)
	if err != nil {
		return false, &Error{Op: "store", Name: name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, err := s.Cursor()
	if err != nil {
		return false, err
	}
	if name <= cursor {
		return false, nil
	}

	videos, err := s.LoadVideos()
	if err != nil {
		return false, err
	}
	if len(videos) >= s.limit {
		return false, &Error{Op: "store", Name: name, Err: ErrStagingFull}
	}

	body, mimeType, err := src.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", name, err)
	}
	defer body.Close()

	metaPath := contentPath + MetaSuffix
	cleanup := func() {
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove partial sidecar", "recording", name, "error", err)
		}
		if err := os.Remove(contentPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove partial recording", "recording", name, "error", err)
		}
	}

	// A sidecar left by an earlier attempt must not pair with new content.
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &Error{Op: "remove stale metadata", Name: name, Err: err}
	}

	sum, size, err := writeContent(s.dir, name, body)
	if err != nil {
		cleanup()
		return false, &Error{Op: "write content", Name: name, Err: err}
	}

	meta := Metadata{
		Name:       name,
		Timestamp:  src.Timestamp(),
		OriginPath: src.RemotePath(),
		MimeType:   mimeType,
		SHA256:     sum,
		Size:       size,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		cleanup()
		return false, &Error{Op: "encode metadata", Name: name, Err: err}
	}
	if err := writeFileAtomic(s.dir, name+MetaSuffix, data); err != nil {
		cleanup()
		return false, &Error{Op: "write metadata", Name: name, Err: err}
	}

	if err := writeFileAtomic(s.dir, CursorFile, []byte(name)); err != nil {
		cleanup()
		return false, &Error{Op: "advance cursor", Name: name, Err: err}
	}

	s.log.Info("recording staged", "recording", name, "size", size, "sha256", sum)
	return true, nil
}

// LoadVideos returns every complete pair, sorted by name. Hidden entries,
// directories, sidecars and content without a sidecar are skipped.
func (s *Store) LoadVideos() ([]Video, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}

	var videos []Video
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, MetaSuffix) {
			continue
		}
		contentPath := filepath.Join(s.dir, name)
		meta, err := readMetadata(contentPath + MetaSuffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.Warn("skipping recording with unreadable sidecar", "recording", name, "error", err)
			continue
		}
		videos = append(videos, Video{Metadata: meta, Path: contentPath})
	}
	return videos, nil
}

// DeleteVideo removes both files of a pair. The sidecar goes first so
// readers never see a pair without content.
func (s *Store) DeleteVideo(name string) error {
	contentPath, err := s.path(name)
	if err != nil {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	if err := os.Remove(contentPath + MetaSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	if err := os.Remove(contentPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Op: "delete", Name: name, Err: err}
	}
	return nil
}

// Sweep removes what an interrupted write leaves behind: temp files,
// content without a sidecar and sidecars without content. It returns the
// number of files removed.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, &Error{Op: "sweep", Err: err}
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name()] = true
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == CursorFile {
			continue
		}

		var orphan bool
		switch {
		case strings.HasPrefix(name, tempPrefix):
			orphan = true
		case strings.HasPrefix(name, "."):
		case strings.HasSuffix(name, MetaSuffix):
			orphan = !present[strings.TrimSuffix(name, MetaSuffix)]
		default:
			orphan = !present[name+MetaSuffix]
		}
		if !orphan {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove orphaned file", "file", name, "error", err)
			continue
		}
		s.log.Info("removed orphaned file", "file", name)
		removed++
	}
	return removed, nil
}

// Stats reports the number and size of staged pairs and the cursor.
func (s *Store) Stats() (Stats, error) {
	videos, err := s.LoadVideos()
	if err != nil {
		return Stats{}, err
	}
	cursor, err := s.Cursor()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Pairs: len(videos), Cursor: cursor}
	for _, v := range videos {
		st.Bytes += v.Size
	}
	return st, nil
}

// CheckWritable creates and removes a temp file in the staging directory.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(s.dir, tempPrefix+"probe-*")
	if err != nil {
		return &Error{Op: "probe", Err: err}
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// path resolves name inside the staging directory, rejecting anything that
// is not a plain visible file name.
func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, MetaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Validate path stays within the staging dir
	absBase, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("invalid staging dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected: %q", ErrInvalidName, name)
	}
	return absPath, nil
}

// writeContent streams r into dir/name through a temp file and rename,
// returning the hex SHA-256 and size.
func writeContent(dir, name string, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(dir, tempPrefix+name+"-*")
	if err != nil {
		return "", 0, err
	}
	tmpName := tmp.Name()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// writeFileAtomic writes data to dir/name through a temp file and rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+name+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes directory entries; failures are ignored since not every
// filesystem supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
