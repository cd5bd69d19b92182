package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rjsadow/camrelay/internal/metrics"
	"github.com/rjsadow/camrelay/internal/remote"
	"github.com/rjsadow/camrelay/internal/staging"
)

// DefaultPushInterval is the heartbeat between push passes.
const DefaultPushInterval = 30 * time.Second

// OutcomeStatus is the result of uploading one staged recording.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped" // already present remotely
	OutcomeError   OutcomeStatus = "error"
)

// UploadOutcome is the per-file result of a push pass.
type UploadOutcome struct {
	Name     string
	Status   OutcomeStatus
	Location string
	Err      error
}

// PushReport summarizes one push pass.
type PushReport struct {
	PassID   string
	Ran      bool // false when on the camera network or not associated
	Outcomes []UploadOutcome
	Err      error // staging could not be read
}

// Count returns the number of outcomes with status s.
func (r PushReport) Count(s OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// PusherOptions configures a Pusher.
type PusherOptions struct {
	CameraSSID  string
	Interval    time.Duration
	Concurrency int
	Logger      *slog.Logger

	// OnPassDone is called after every pass from the Pusher's goroutine.
	OnPassDone func(PushReport)
}

// Pusher uploads staged recordings to the remote store.
type Pusher struct {
	radio  Radio
	store  Staged
	remote remote.Store
	opts   PusherOptions
	log    *slog.Logger

	wake      trigger
	heartbeat Heartbeat
}

// NewPusher creates a Pusher.
func NewPusher(radio Radio, store Staged, dest remote.Store, opts PusherOptions) *Pusher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPushInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		radio:  radio,
		store:  store,
		remote: dest,
		opts:   opts,
		log:    logger,
		wake:   newTrigger(),
	}
}

// Run runs passes until ctx is cancelled: once at startup, on every
// connection to a non-camera network and on each heartbeat.
func (p *Pusher) Run(ctx context.Context) {
	unsubConnect := p.radio.OnConnect(func(ssid string) {
		p.heartbeat.Cancel()
		if ssid != p.opts.CameraSSID {
			p.wake.poke()
		}
	})
	defer unsubConnect()
	unsubDisconnect := p.radio.OnDisconnect(func() {
		p.heartbeat.Cancel()
	})
	defer unsubDisconnect()
	defer p.heartbeat.Cancel()

	p.log.Info("pusher started", "interval", p.opts.Interval, "concurrency", p.opts.Concurrency)
	p.wake.poke()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pusher stopped")
			return
		case <-p.wake:
		}

		report := p.Pass(ctx)
		if ctx.Err() != nil {
			return
		}
		p.heartbeat.Arm(p.opts.Interval, p.wake.poke)
		if p.opts.OnPassDone != nil {
			p.opts.OnPassDone(report)
		}
	}
}

// Pass uploads a snapshot of the staged recordings. Each file succeeds or
// fails on its own; a local copy is deleted only once the remote store has
// the object.
func (p *Pusher) Pass(ctx context.Context) PushReport {
	report := PushReport{PassID: newPassID()}
	log := p.log.With("pass_id", report.PassID)

	ssid := p.radio.CurrentNetwork()
	if ssid == "" || ssid == p.opts.CameraSSID {
		log.Debug("push pass skipped: no internet network", "ssid", ssid)
		metrics.RecordPass("push", metrics.ResultSkipped, 0)
		return report
	}
	report.Ran = true
	start := time.Now()

	videos, err := p.store.LoadVideos()
	if err != nil {
		report.Err = fmt.Errorf("load staged videos: %w", err)
		log.Error("push pass aborted", "error", report.Err)
		metrics.RecordPass("push", metrics.ResultError, time.Since(start))
		return report
	}
	metrics.SetStagingPairs(len(videos))

	report.Outcomes = make([]UploadOutcome, len(videos))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, v := range videos {
		g.Go(func() error {
			report.Outcomes[i] = p.upload(ctx, log, v)
			return nil
		})
	}
	_ = g.Wait()

	failed := report.Count(OutcomeError)
	result := metrics.ResultOK
	if failed > 0 {
		result = metrics.ResultError
	}
	metrics.RecordPass("push", result, time.Since(start))
	if len(videos) > 0 {
		log.Info("push pass complete", "ssid", ssid,
			"uploaded", report.Count(OutcomeSuccess), "skipped", report.Count(OutcomeSkipped), "failed", failed)
	}
	return report
}

func (p *Pusher) upload(ctx context.Context, log *slog.Logger, v staging.Video) UploadOutcome {
	outcome := UploadOutcome{Name: v.Name}

	res, err := p.remote.Upload(ctx, remote.Object{
		Name:     v.Name,
		Path:     v.Path,
		Size:     v.Size,
		MimeType: v.MimeType,
		SHA256:   v.SHA256,
	})
	if err != nil {
		outcome.Status = OutcomeError
		outcome.Err = err
		metrics.RecordUpload(string(OutcomeError), 0)
		log.Warn("upload failed", "recording", v.Name, "error", err)
		return outcome
	}

	outcome.Location = res.Location
	outcome.Status = OutcomeSuccess
	if res.Skipped {
		outcome.Status = OutcomeSkipped
		log.Info("recording already uploaded", "recording", v.Name, "location", res.Location)
	} else {
		log.Info("recording uploaded", "recording", v.Name, "location", res.Location, "size", v.Size)
	}
	metrics.RecordUpload(string(outcome.Status), v.Size)

	// The remote copy is authoritative from here on.
	if err := p.store.DeleteVideo(v.Name); err != nil {
		log.Warn("failed to delete staged copy", "recording", v.Name, "error", err)
	}
	return outcome
}
