package relay

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rjsadow/camrelay/internal/remote"
	"github.com/rjsadow/camrelay/internal/staging"
)

// stageNamed stages recordings through the real fetch path.
func stageNamed(t *testing.T, store *staging.Store, names ...string) {
	t.Helper()
	cam := newFakeCamera()
	for _, n := range names {
		cam.add(n, "payload-"+n)
	}
	f := NewFetcher(newFakeRadio(cameraSSID), newCameraClient(t, cam), store, FetcherOptions{
		CameraSSID: cameraSSID,
		Logger:     discardLogger(),
	})
	if r := f.Pass(context.Background()); r.Err != nil || r.Staged != len(names) {
		t.Fatalf("staging pass = %+v", r)
	}
}

func newTestPusher(r Radio, store *staging.Store, dest remote.Store, concurrency int) *Pusher {
	return NewPusher(r, store, dest, PusherOptions{
		CameraSSID:  cameraSSID,
		Interval:    time.Hour,
		Concurrency: concurrency,
		Logger:      discardLogger(),
	})
}

func TestPusher_PassNoopOnCameraOrUnassociated(t *testing.T) {
	for _, ssid := range []string{cameraSSID, ""} {
		t.Run("ssid="+ssid, func(t *testing.T) {
			store := newStagingStore(t)
			stageNamed(t, store, "20240101120000_0001.TS")
			dest := newFakeRemote()

			report := newTestPusher(newFakeRadio(ssid), store, dest, 1).Pass(context.Background())
			if report.Ran {
				t.Error("Ran = true, want false")
			}
			if dest.uploadCount() != 0 {
				t.Errorf("uploads = %d, want 0", dest.uploadCount())
			}
			if got := len(stagedNames(t, store)); got != 1 {
				t.Errorf("staged = %d, want 1", got)
			}
		})
	}
}

func TestPusher_UploadsAndDeletesLocal(t *testing.T) {
	store := newStagingStore(t)
	stageNamed(t, store, "20240101120000_0001.TS", "20240101120100_0002.TS")
	dest := newFakeRemote()

	report := newTestPusher(newFakeRadio(homeSSID), store, dest, 1).Pass(context.Background())
	if !report.Ran || report.Err != nil {
		t.Fatalf("report = %+v", report)
	}
	if got := report.Count(OutcomeSuccess); got != 2 {
		t.Errorf("successes = %d, want 2", got)
	}
	for _, o := range report.Outcomes {
		if o.Location != "mem://"+o.Name {
			t.Errorf("%s location = %q", o.Name, o.Location)
		}
	}
	if got := stagedNames(t, store); len(got) != 0 {
		t.Errorf("staged = %v, want empty", got)
	}
	if !dest.has("20240101120000_0001.TS") || !dest.has("20240101120100_0002.TS") {
		t.Error("remote is missing an upload")
	}
}

func TestPusher_SkipIfExistsDeletesLocal(t *testing.T) {
	store := newStagingStore(t)
	stageNamed(t, store, "20240101120000_0001.TS")
	dest := newFakeRemote()
	dest.objects["20240101120000_0001.TS"] = []byte("already there")

	report := newTestPusher(newFakeRadio(homeSSID), store, dest, 1).Pass(context.Background())
	if got := report.Count(OutcomeSkipped); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if dest.uploadCount() != 0 {
		t.Errorf("uploads = %d, want 0", dest.uploadCount())
	}
	if got := stagedNames(t, store); len(got) != 0 {
		t.Errorf("staged = %v, want empty", got)
	}
}

func TestPusher_PerFileFailureIsolated(t *testing.T) {
	store := newStagingStore(t)
	stageNamed(t, store, "20240101120000_0001.TS", "20240101120100_0002.TS", "20240101120200_0003.TS")
	dest := newFakeRemote()
	dest.failures["20240101120100_0002.TS"] = errors.New("connection reset")

	report := newTestPusher(newFakeRadio(homeSSID), store, dest, 2).Pass(context.Background())
	if got := report.Count(OutcomeSuccess); got != 2 {
		t.Errorf("successes = %d, want 2", got)
	}
	if got := report.Count(OutcomeError); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	for _, o := range report.Outcomes {
		if o.Status == OutcomeError && (o.Name != "20240101120100_0002.TS" || o.Err == nil) {
			t.Errorf("unexpected failed outcome %+v", o)
		}
	}
	if got := stagedNames(t, store); !slices.Equal(got, []string{"20240101120100_0002.TS"}) {
		t.Errorf("staged = %v, want only the failed file", got)
	}
}

// gatedRemote counts concurrent uploads.
type gatedRemote struct {
	*fakeRemote
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedRemote) Upload(ctx context.Context, obj remote.Object) (remote.Result, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return g.fakeRemote.Upload(ctx, obj)
}

func TestPusher_ConcurrencyBounded(t *testing.T) {
	store := newStagingStore(t)
	stageNamed(t, store,
		"20240101120000_0001.TS", "20240101120100_0002.TS", "20240101120200_0003.TS",
		"20240101120300_0004.TS", "20240101120400_0005.TS")
	dest := &gatedRemote{fakeRemote: newFakeRemote()}

	report := newTestPusher(newFakeRadio(homeSSID), store, dest, 2).Pass(context.Background())
	if got := report.Count(OutcomeSuccess); got != 5 {
		t.Errorf("successes = %d, want 5", got)
	}
	if peak := dest.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPusher_RunTriggersOnHomeConnect(t *testing.T) {
	store := newStagingStore(t)
	r := newFakeRadio(cameraSSID)
	dest := newFakeRemote()

	passes := make(chan PushReport, 16)
	p := NewPusher(r, store, dest, PusherOptions{
		CameraSSID: cameraSSID,
		Interval:   time.Hour,
		Logger:     discardLogger(),
		OnPassDone: func(rep PushReport) {
			select {
			case passes <- rep:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case rep := <-passes:
		if rep.Ran {
			t.Error("startup pass ran on the camera network")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no startup pass")
	}

	stageNamed(t, store, "20240101120000_0001.TS")
	r.join(homeSSID)

	select {
	case rep := <-passes:
		if !rep.Ran || rep.Count(OutcomeSuccess) != 1 {
			t.Errorf("report = %+v, want one upload", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pass after joining home")
	}
	waitFor(t, "heartbeat armed", p.heartbeat.Pending)

	r.drop()
	if p.heartbeat.Pending() {
		t.Error("heartbeat still pending after disconnect")
	}
}
