package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjsadow/camrelay/internal/camera"
	"github.com/rjsadow/camrelay/internal/radio"
	"github.com/rjsadow/camrelay/internal/remote"
	"github.com/rjsadow/camrelay/internal/staging"
)

const (
	cameraSSID = "FITCAMX"
	homeSSID   = "home"
	lockedDir  = "/CARDV/EMR/"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRadio is an in-memory radio whose network is set by the test or by
// Connect.
type fakeRadio struct {
	mu           sync.Mutex
	ssid         string
	nextID       int
	onConnect    map[int]func(string)
	onDisconnect map[int]func()

	// inRange lists the networks Connect can join; fallback is what
	// ConnectExcept joins.
	inRange  []string
	fallback string
	failWith error
	connects []string
}

func newFakeRadio(ssid string) *fakeRadio {
	return &fakeRadio{
		ssid:         ssid,
		onConnect:    make(map[int]func(string)),
		onDisconnect: make(map[int]func()),
		inRange:      []string{cameraSSID, homeSSID},
		fallback:     homeSSID,
	}
}

func (r *fakeRadio) CurrentNetwork() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ssid
}

func (r *fakeRadio) OnConnect(fn func(string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.onConnect[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.onConnect, id)
	}
}

func (r *fakeRadio) OnDisconnect(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.onDisconnect[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.onDisconnect, id)
	}
}

// join switches to ssid, emitting disconnect then connect like the real
// controller.
func (r *fakeRadio) join(ssid string) {
	r.mu.Lock()
	was := r.ssid
	r.ssid = ssid
	var disc []func()
	if was != "" {
		for _, fn := range r.onDisconnect {
			disc = append(disc, fn)
		}
	}
	var conn []func(string)
	for _, fn := range r.onConnect {
		conn = append(conn, fn)
	}
	r.mu.Unlock()

	for _, fn := range disc {
		fn()
	}
	for _, fn := range conn {
		fn(ssid)
	}
}

// drop loses the association.
func (r *fakeRadio) drop() {
	r.mu.Lock()
	r.ssid = ""
	var disc []func()
	for _, fn := range r.onDisconnect {
		disc = append(disc, fn)
	}
	r.mu.Unlock()

	for _, fn := range disc {
		fn()
	}
}

func (r *fakeRadio) Connect(_ context.Context, ssid string) error {
	r.mu.Lock()
	r.connects = append(r.connects, ssid)
	failWith := r.failWith
	current := r.ssid
	reachable := slices.Contains(r.inRange, ssid)
	r.mu.Unlock()

	switch {
	case failWith != nil:
		return failWith
	case current == ssid:
		return nil
	case !reachable:
		return fmt.Errorf("%w: %s", radio.ErrNetworkNotInRange, ssid)
	}
	r.join(ssid)
	return nil
}

func (r *fakeRadio) ConnectExcept(_ context.Context, avoid string) error {
	r.mu.Lock()
	r.connects = append(r.connects, "!"+avoid)
	current := r.ssid
	fallback := r.fallback
	r.mu.Unlock()

	if current != "" && current != avoid {
		return nil
	}
	if fallback == "" {
		return fmt.Errorf("%w: no known network visible", radio.ErrNetworkNotInRange)
	}
	r.join(fallback)
	return nil
}

func (r *fakeRadio) connectCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

// fakeCamera serves locked recordings the way the dashcam does.
type fakeCamera struct {
	mu       sync.Mutex
	files    map[string][]byte // name -> body
	deleted  []string
	failList int // answer the next n listings with 500
	failDel  bool
	lists    int
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{files: make(map[string][]byte)}
}

func (f *fakeCamera) add(name, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = append([]byte{0x47}, payload...)
}

func (f *fakeCamera) remaining() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *fakeCamera) deletedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeCamera) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == lockedDir {
		f.lists++
		if f.failList > 0 {
			f.failList--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var b strings.Builder
		b.WriteString("<html><body><table>")
		for name := range f.files {
			fmt.Fprintf(&b, `<tr><td><a href="%s%s">%s</a></td></tr>`, lockedDir, name, name)
		}
		b.WriteString("</table></body></html>")
		_, _ = io.WriteString(w, b.String())
		return
	}

	name, ok := strings.CutPrefix(r.URL.Path, lockedDir)
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, exists := f.files[name]
	if !exists {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("del") == "1" {
		if f.failDel {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		delete(f.files, name)
		f.deleted = append(f.deleted, name)
		_, _ = io.WriteString(w, "OK")
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	_, _ = w.Write(body)
}

func newCameraClient(tb testing.TB, h http.Handler) *camera.Client {
	tb.Helper()
	srv := httptest.NewServer(h)
	tb.Cleanup(srv.Close)

	c, err := camera.NewClient(camera.Options{
		BaseURL:        srv.URL,
		Folders:        []string{lockedDir},
		Attempts:       2,
		InitialBackoff: time.Millisecond,
		Location:       time.UTC,
		Logger:         discardLogger(),
	})
	if err != nil {
		tb.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func newStagingStore(tb testing.TB) *staging.Store {
	tb.Helper()
	s, err := staging.NewStore(tb.TempDir(), 0, discardLogger())
	if err != nil {
		tb.Fatalf("NewStore() error = %v", err)
	}
	return s
}

// fakeRemote records uploads in memory.
type fakeRemote struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]error
	uploads  []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		objects:  make(map[string][]byte),
		failures: make(map[string]error),
	}
}

func (f *fakeRemote) Upload(_ context.Context, obj remote.Object) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	loc := "mem://" + obj.Name
	if err := f.failures[obj.Name]; err != nil {
		return remote.Result{}, err
	}
	if _, ok := f.objects[obj.Name]; ok {
		return remote.Result{Skipped: true, Location: loc}, nil
	}
	data, err := os.ReadFile(obj.Path)
	if err != nil {
		return remote.Result{}, err
	}
	if int64(len(data)) != obj.Size {
		return remote.Result{}, errors.New("size mismatch")
	}
	f.objects[obj.Name] = data
	f.uploads = append(f.uploads, obj.Name)
	return remote.Result{Location: loc}, nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok
}

func (f *fakeRemote) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func stagedNames(tb testing.TB, s *staging.Store) []string {
	tb.Helper()
	videos, err := s.LoadVideos()
	if err != nil {
		tb.Fatalf("LoadVideos() error = %v", err)
	}
	var names []string
	for _, v := range videos {
		names = append(names, v.Name)
	}
	return names
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", what)
}
