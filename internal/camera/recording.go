package camera

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// TimestampLayout is the fixed-width prefix of every recording name.
const TimestampLayout = "20060102150405"

// Recording is a handle to one file on the camera. Handles are created by
// ListLockedVideos and live for one fetch pass.
type Recording struct {
	name       string
	remotePath string
	timestamp  time.Time
	client     *Client

	mu      sync.Mutex
	content *Content // fetched at most once
}

// Content is a fully downloaded recording.
type Content struct {
	Body     []byte
	MimeType string
}

// Name is the canonical filename; its order equals chronological order.
func (r *Recording) Name() string { return r.name }

// RemotePath is the path of the file on the camera.
func (r *Recording) RemotePath() string { return r.remotePath }

// Timestamp is the capture time encoded in the name.
func (r *Recording) Timestamp() time.Time { return r.timestamp }

// Content downloads the whole recording into memory on first use and
// caches it for the lifetime of the handle. It is for callers that need the
// complete body at once; staging streams through Open instead, which reuses
// the cache only when Content was called first.
func (r *Recording) Content(ctx context.Context) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.content != nil {
		return r.content, nil
	}

	body, mimeType, err := r.client.FetchStream(ctx, r)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &NetworkError{Op: "fetch", URL: r.remotePath, Err: err}
	}
	r.content = &Content{Body: data, MimeType: mimeType}
	return r.content, nil
}

// Open returns the recording's bytes. A cached download is reused;
// otherwise the body is streamed from the camera without caching.
func (r *Recording) Open(ctx context.Context) (io.ReadCloser, string, error) {
	r.mu.Lock()
	cached := r.content
	r.mu.Unlock()
	if cached != nil {
		return io.NopCloser(bytes.NewReader(cached.Body)), cached.MimeType, nil
	}
	return r.client.FetchStream(ctx, r)
}
