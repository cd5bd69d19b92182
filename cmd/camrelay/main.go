// Command camrelay moves locked dashcam recordings from the camera's WiFi
// network to remote storage on a device with a single radio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rjsadow/camrelay/internal/camera"
	"github.com/rjsadow/camrelay/internal/config"
	"github.com/rjsadow/camrelay/internal/diagnostics"
	"github.com/rjsadow/camrelay/internal/logging"
	"github.com/rjsadow/camrelay/internal/metrics"
	"github.com/rjsadow/camrelay/internal/radio"
	"github.com/rjsadow/camrelay/internal/radio/wpacli"
	"github.com/rjsadow/camrelay/internal/relay"
	"github.com/rjsadow/camrelay/internal/remote"
	"github.com/rjsadow/camrelay/internal/server"
	"github.com/rjsadow/camrelay/internal/staging"
)

func main() {
	// Parse command-line flags (can override env vars)
	mode := flag.String("mode", "", "Run mode: fetch, push or all")
	stagingDir := flag.String("staging-dir", "", "Directory holding recordings between camera and remote")
	statusAddr := flag.String("status-addr", "", "Listen address for the status server (empty disables)")
	flag.Parse()

	cfg, err := config.LoadWithFlags(*mode, *stagingDir, *statusAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n\nSee README for CAMRELAY_* configuration options.\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("camrelay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("camrelay stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	started := time.Now()

	store, err := staging.NewStore(cfg.StagingDir, cfg.StagingLimit, logging.Component(logger, "staging"))
	if err != nil {
		return err
	}
	if n, err := store.Sweep(); err != nil {
		logger.Warn("failed to sweep staging directory", "error", err)
	} else if n > 0 {
		logger.Info("removed leftovers from interrupted transfers", "files", n)
	}
	if stats, err := store.Stats(); err == nil {
		metrics.SetStagingPairs(stats.Pairs)
		logger.Info("staging ready", "dir", cfg.StagingDir, "pairs", stats.Pairs, "cursor", stats.Cursor)
	}

	ctrl := radio.NewController(wpacli.New(cfg.RadioInterface), radio.Options{
		PollInterval:    cfg.RadioPollInterval,
		ConnectAttempts: cfg.ConnectAttempts,
		Logger:          logging.Component(logger, "radio"),
	})
	ctrl.Subscribe(radio.ListenerFunc(func(e radio.Event) {
		metrics.RecordRadioEvent(string(e.Type))
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(gctx)
		return nil
	})

	var sw *relay.Switcher
	if cfg.RadioSwitching {
		sw = relay.NewSwitcher(ctrl, relay.SwitcherOptions{
			CameraSSID:    cfg.CameraSSID,
			HomeSSID:      cfg.HomeSSID,
			ProbeInterval: cfg.CameraProbeInterval,
			Logger:        logging.Component(logger, "switcher"),
		})
		g.Go(func() error {
			sw.Run(gctx)
			return nil
		})
	}

	if cfg.FetchesFromCamera() {
		cam, err := camera.NewClient(cameraOptions(cfg, logging.Component(logger, "camera")))
		if err != nil {
			return err
		}
		opts := relay.FetcherOptions{
			CameraSSID: cfg.CameraSSID,
			Interval:   cfg.FetchInterval,
			Logger:     logging.Component(logger, "fetch"),
		}
		if sw != nil {
			opts.OnPassDone = sw.OnFetchDone
		}
		fetcher := relay.NewFetcher(ctrl, cam, store, opts)
		g.Go(func() error {
			fetcher.Run(gctx)
			return nil
		})
	}

	if cfg.PushesToRemote() {
		dest, err := remote.NewStore(ctx, cfg, logging.Component(logger, "remote"))
		if err != nil {
			return fmt.Errorf("remote store: %w", err)
		}
		defer dest.Close()

		opts := relay.PusherOptions{
			CameraSSID:  cfg.CameraSSID,
			Interval:    cfg.PushInterval,
			Concurrency: cfg.UploadConcurrency,
			Logger:      logging.Component(logger, "push"),
		}
		if sw != nil {
			opts.OnPassDone = sw.OnPushDone
		}
		pusher := relay.NewPusher(ctrl, store, dest, opts)
		g.Go(func() error {
			pusher.Run(gctx)
			return nil
		})
	}

	if cfg.StatusAddr != "" {
		app := &server.App{
			Staging:       store,
			DiagCollector: diagnostics.NewCollector(cfg, ctrl, store, started),
			Logger:        logging.Component(logger, "status"),
		}
		g.Go(func() error {
			return app.Run(gctx, cfg.StatusAddr)
		})
	}

	logger.Info("camrelay started",
		"mode", cfg.Mode,
		"camera_ssid", cfg.CameraSSID,
		"remote", cfg.RemoteDestination(),
		"radio_switching", cfg.RadioSwitching,
	)
	return g.Wait()
}

func cameraOptions(cfg *config.Config, logger *slog.Logger) camera.Options {
	return camera.Options{
		BaseURL:   cfg.CameraBaseURL(),
		Folders:   cfg.CameraFolders,
		Extension: cfg.CameraExtension,
		Attempts:  cfg.CameraRetries,
		Timeout:   cfg.CameraTimeout,
		Rate:      cfg.CameraRate,
		Logger:    logger,
	}
}
