package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rjsadow/camrelay/internal/radio"
)

// DefaultProbeInterval is how often the Switcher looks for the camera while
// on the home network.
const DefaultProbeInterval = 5 * time.Minute

// SwitcherOptions configures a Switcher.
type SwitcherOptions struct {
	CameraSSID string

	// HomeSSID is the network to return to. Empty means any known network
	// other than the camera's.
	HomeSSID string

	ProbeInterval time.Duration
	Logger        *slog.Logger
}

// Switcher moves the radio between the camera and the home network on a
// single-radio device. It is driven by the Fetcher and Pusher pass reports:
// wire OnFetchDone and OnPushDone into their options.
type Switcher struct {
	radio SwitchingRadio
	opts  SwitcherOptions
	log   *slog.Logger

	goHome   trigger
	probeNow trigger
	probe    Heartbeat
	rejoin   Heartbeat

	mu      sync.Mutex
	drained bool
}

// NewSwitcher creates a Switcher.
func NewSwitcher(r SwitchingRadio, opts SwitcherOptions) *Switcher {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		radio:    r,
		opts:     opts,
		log:      logger,
		goHome:   newTrigger(),
		probeNow: newTrigger(),
	}
}

// OnFetchDone asks for the home network once a pass has run on the camera.
func (s *Switcher) OnFetchDone(r FetchReport) {
	if r.Ran {
		s.goHome.poke()
	}
}

// OnPushDone records whether staging was drained and schedules the next
// camera probe if none is pending.
func (s *Switcher) OnPushDone(r PushReport) {
	if !r.Ran {
		return
	}
	s.mu.Lock()
	s.drained = r.Err == nil && r.Count(OutcomeError) == 0
	s.mu.Unlock()

	if !s.probe.Pending() {
		s.probe.Arm(s.opts.ProbeInterval, s.probeNow.poke)
	}
}

// Run performs the requested switches until ctx is cancelled.
func (s *Switcher) Run(ctx context.Context) {
	defer s.probe.Cancel()
	defer s.rejoin.Cancel()

	s.log.Info("radio switcher started",
		"camera_ssid", s.opts.CameraSSID, "home_ssid", s.opts.HomeSSID, "probe_interval", s.opts.ProbeInterval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("radio switcher stopped")
			return
		case <-s.goHome:
			s.joinHome(ctx)
		case <-s.probeNow:
			s.probeCamera(ctx)
		}
	}
}

func (s *Switcher) joinHome(ctx context.Context) {
	s.rejoin.Cancel()

	var err error
	if s.opts.HomeSSID != "" {
		err = s.radio.Connect(ctx, s.opts.HomeSSID)
	} else {
		err = s.radio.ConnectExcept(ctx, s.opts.CameraSSID)
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	s.log.Warn("failed to join home network, will retry", "home_ssid", s.opts.HomeSSID, "error", err, "retry_in", s.opts.ProbeInterval)
	s.rejoin.Arm(s.opts.ProbeInterval, s.goHome.poke)
}

func (s *Switcher) probeCamera(ctx context.Context) {
	if s.radio.CurrentNetwork() == s.opts.CameraSSID {
		return
	}

	s.mu.Lock()
	drained := s.drained
	s.mu.Unlock()
	if !drained {
		s.log.Debug("camera probe deferred: staging not drained")
		s.probe.Arm(s.opts.ProbeInterval, s.probeNow.poke)
		return
	}

	err := s.radio.Connect(ctx, s.opts.CameraSSID)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, radio.ErrNetworkNotInRange):
		s.log.Debug("camera not in range", "camera_ssid", s.opts.CameraSSID)
	default:
		s.log.Warn("failed to join camera network", "camera_ssid", s.opts.CameraSSID, "error", err)
		s.joinHome(ctx)
	}
}
