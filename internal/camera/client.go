// Package camera talks to the dashcam's embedded web server. It lists the
// recordings held in the protected (locked) folders, streams them and
// deletes them once they are safely staged.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultAttempts       = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultTimeout        = 30 * time.Second
	defaultExtension      = ".TS"
	defaultMimeType       = "video/mp2t"
)

// DefaultFolders are the locked folders of FITCAMX-style firmware.
var DefaultFolders = []string{"/CARDV/EMR/", "/CARDV/EMR_E/"}

// MPEGTSSignature is the sync byte every MPEG transport stream starts with.
var MPEGTSSignature = []byte{0x47}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Folders   []string
	Extension string

	// Attempts is the total number of tries per request.
	Attempts       int
	InitialBackoff time.Duration

	// Timeout bounds each request. It is ignored when HTTPClient is set.
	Timeout time.Duration

	// Rate is the maximum requests per second; 0 disables pacing.
	Rate float64

	// Signature is the expected leading bytes of a recording.
	Signature []byte

	// Location is the time zone of the camera clock.
	Location *time.Location

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is an HTTP client for the camera.
type Client struct {
	base    *url.URL
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a camera client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid camera base URL %q", opts.BaseURL)
	}
	if len(opts.Folders) == 0 {
		opts.Folders = DefaultFolders
	}
	if opts.Extension == "" {
		opts.Extension = defaultExtension
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Signature == nil {
		opts.Signature = MPEGTSSignature
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	} else {
		copied := *httpClient
		httpClient = &copied
	}
	// Redirects come back as 3xx responses and fail as StatusError.
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:    base,
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
	}, nil
}

// ListLockedVideos lists every recording in the locked folders, sorted
// ascending by name. A folder that does not exist contributes nothing.
func (c *Client) ListLockedVideos(ctx context.Context) ([]*Recording, error) {
	seen := make(map[string]bool)
	var all []*Recording

	for _, folder := range c.opts.Folders {
		folderURL := c.base.ResolveReference(&url.URL{Path: folder})

		resp, err := c.get(ctx, "list", folderURL.String(), http.StatusNotFound)
		if err != nil {
			return nil, &ListingError{Folder: folder, Err: err}
		}
		if resp.StatusCode == http.StatusNotFound {
			drain(resp)
			c.log.Debug("locked folder not present", "folder", folder)
			continue
		}

		recordings, err := c.parseListing(resp.Body, folderURL)
		drain(resp)
		if err != nil {
			return nil, &ListingError{Folder: folder, Err: err}
		}

		for _, r := range recordings {
			if seen[r.name] {
				continue
			}
			seen[r.name] = true
			all = append(all, r)
		}
	}

	slices.SortFunc(all, func(a, b *Recording) int {
		return strings.Compare(a.name, b.name)
	})
	return all, nil
}

// FetchStream opens the recording body after checking its leading bytes
// against the container signature. The caller must close the stream.
func (c *Client) FetchStream(ctx context.Context, rec *Recording) (io.ReadCloser, string, error) {
	resp, err := c.get(ctx, "fetch", c.fileURL(rec, false))
	if err != nil {
		return nil, "", err
	}

	br := bufio.NewReader(resp.Body)
	head, err := br.Peek(len(c.opts.Signature))
	if err != nil || !bytes.Equal(head, c.opts.Signature) {
		drain(resp)
		return nil, "", fmt.Errorf("%w: %s does not start with % x", ErrUnexpectedContent, rec.name, c.opts.Signature)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = defaultMimeType
	}
	return &stream{Reader: br, body: resp.Body}, mimeType, nil
}

// Delete removes the recording from the camera. A recording that is
// already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, rec *Recording) error {
	resp, err := c.get(ctx, "delete", c.fileURL(rec, true), http.StatusNotFound)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("recording already deleted", "recording", rec.name)
	}
	drain(resp)
	return nil
}

func (c *Client) fileURL(rec *Recording, del bool) string {
	u := c.base.ResolveReference(&url.URL{Path: rec.remotePath})
	if del {
		u.RawQuery = "del=1"
	}
	return u.String()
}

// get issues a GET with the shared retry policy. Connection failures and
// 5xx responses are retried; other statuses fail at once unless listed in
// allow.
func (c *Client) get(ctx context.Context, op, target string, allow ...int) (*http.Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.Attempts-1)), ctx)

	attempt := func() (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, &NetworkError{Op: op, URL: target, Err: err}
		}

		if (resp.StatusCode >= 200 && resp.StatusCode < 300) || slices.Contains(allow, resp.StatusCode) {
			return resp, nil
		}
		drain(resp)

		statusErr := &StatusError{Op: op, URL: target, StatusCode: resp.StatusCode}
		if statusErr.Retryable() {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("camera request failed, retrying", "op", op, "url", target, "error", err, "wait", wait)
	}

	return backoff.RetryNotifyWithData(attempt, b, notify)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// stream keeps the peeked bytes in front of the remaining body.
type stream struct {
	io.Reader
	body io.Closer
}

func (s *stream) Close() error { return s.body.Close() }
