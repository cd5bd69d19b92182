package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjsadow/camrelay/internal/metrics"
)

// DefaultFetchInterval is the heartbeat between fetch passes.
const DefaultFetchInterval = 10 * time.Minute

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	CameraSSID string
	Interval   time.Duration
	Logger     *slog.Logger

	// OnPassDone is called after every pass from the Fetcher's goroutine.
	OnPassDone func(FetchReport)
}

// FetchReport summarizes one fetch pass.
type FetchReport struct {
	PassID string
	Ran    bool // false when the radio was not on the camera network

	Listed  int
	Staged  int
	Skipped int // at or below the cursor
	Deleted int

	Err error // list or stage failure that aborted the pass
}

// Fetcher copies new recordings from the camera into staging.
type Fetcher struct {
	radio  Radio
	camera Camera
	store  Stager
	opts   FetcherOptions
	log    *slog.Logger

	wake      trigger
	heartbeat Heartbeat
}

// NewFetcher creates a Fetcher.
func NewFetcher(radio Radio, cam Camera, store Stager, opts FetcherOptions) *Fetcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFetchInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		radio:  radio,
		camera: cam,
		store:  store,
		opts:   opts,
		log:    logger,
		wake:   newTrigger(),
	}
}

// Run runs passes until ctx is cancelled: once at startup, on every
// connection to the camera network and on each heartbeat.
func (f *Fetcher) Run(ctx context.Context) {
	unsubConnect := f.radio.OnConnect(func(ssid string) {
		f.heartbeat.Cancel()
		if ssid == f.opts.CameraSSID {
			f.wake.poke()
		}
	})
	defer unsubConnect()
	unsubDisconnect := f.radio.OnDisconnect(func() {
		f.heartbeat.Cancel()
	})
	defer unsubDisconnect()
	defer f.heartbeat.Cancel()

	f.log.Info("fetcher started", "camera_ssid", f.opts.CameraSSID, "interval", f.opts.Interval)
	f.wake.poke()

	for {
		select {
		case <-ctx.Done():
			f.log.Info("fetcher stopped")
			return
		case <-f.wake:
		}

		report := f.Pass(ctx)
		if ctx.Err() != nil {
			return
		}
		if report.Ran {
			f.heartbeat.Arm(f.opts.Interval, f.wake.poke)
		}
		if f.opts.OnPassDone != nil {
			f.opts.OnPassDone(report)
		}
	}
}

// Pass lists the camera's locked recordings and, in ascending name order,
// stages each one and then deletes it from the camera. A failed delete is
// logged and the pass goes on; a failed list or stage ends the pass.
func (f *Fetcher) Pass(ctx context.Context) FetchReport {
	report := FetchReport{PassID: newPassID()}
	log := f.log.With("pass_id", report.PassID)

	if ssid := f.radio.CurrentNetwork(); ssid != f.opts.CameraSSID {
		log.Debug("fetch pass skipped: not on camera network", "ssid", ssid)
		metrics.RecordPass("fetch", metrics.ResultSkipped, 0)
		return report
	}
	report.Ran = true
	start := time.Now()

	recordings, err := f.camera.ListLockedVideos(ctx)
	if err != nil {
		report.Err = fmt.Errorf("list locked videos: %w", err)
	} else {
		report.Listed = len(recordings)
		for _, rec := range recordings {
			if err := ctx.Err(); err != nil {
				report.Err = err
				break
			}

			stored, err := f.store.StoreVideo(ctx, rec)
			if err != nil {
				report.Err = fmt.Errorf("stage %s: %w", rec.Name(), err)
				break
			}
			metrics.RecordStaged(stored)
			if stored {
				report.Staged++
			} else {
				report.Skipped++
			}

			if err := f.camera.Delete(ctx, rec); err != nil {
				metrics.RecordCameraDelete(false)
				log.Warn("failed to delete recording from camera", "recording", rec.Name(), "error", err)
				continue
			}
			metrics.RecordCameraDelete(true)
			report.Deleted++
		}
	}

	result := metrics.ResultOK
	if report.Err != nil {
		result = metrics.ResultError
		log.Error("fetch pass aborted", "error", report.Err,
			"listed", report.Listed, "staged", report.Staged, "skipped", report.Skipped)
	} else {
		log.Info("fetch pass complete",
			"listed", report.Listed, "staged", report.Staged, "skipped", report.Skipped, "deleted", report.Deleted)
	}
	metrics.RecordPass("fetch", result, time.Since(start))
	return report
}
