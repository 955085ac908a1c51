// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package main is the entry point for the backup agent.
//
// The agent initializes in the following order:
//
//  1. Configuration: parse flags, layer environment variables and defaults
//     via Koanf v2, validate (exit 200 on any configuration error)
//  2. Logging: zerolog, level derived from --verbosity
//  3. Ledger: open the DuckDB-backed event ledger
//  4. Transfer Adapter: parse --rclone-destination, connect to the
//     S3-compatible endpoint behind it
//  5. Supervisor tree: realtime (Listener, Reconciler), pipeline (Download,
//     Upload), maintenance (Purger) layers, isolated so a crash in one
//     cannot take down the others
//  6. Signal handling: SIGINT/SIGTERM trigger graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/unifi-protect-backup/internal/config"
	"github.com/tomtom215/unifi-protect-backup/internal/handoff"
	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/listener"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/notify"
	"github.com/tomtom215/unifi-protect-backup/internal/nvr"
	"github.com/tomtom215/unifi-protect-backup/internal/pathtemplate"
	"github.com/tomtom215/unifi-protect-backup/internal/pipeline"
	"github.com/tomtom215/unifi-protect-backup/internal/purger"
	"github.com/tomtom215/unifi-protect-backup/internal/queue"
	"github.com/tomtom215/unifi-protect-backup/internal/reconciler"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
	"github.com/tomtom215/unifi-protect-backup/internal/supervisor"
	"github.com/tomtom215/unifi-protect-backup/internal/transfer"
)

// exitConfigError is the documented exit code for a configuration error
// (missing required field, unparsable duration/template).
const exitConfigError = 200

func main() {
	os.Exit(run())
}

//nolint:gocyclo // sequential startup wiring, mirrors cmd/server/main.go's shape
func run() int {
	fs, err := config.Flags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	logging.Init(logging.Config{
		Level:  verbosityToLevel(cfg.Verbosity),
		Format: "console",
	})

	logging.Info().Msg("starting unifi-protect-backup")

	led, err := ledger.Open(cfg.SQLitePath)
	if err != nil {
		logging.Error().Err(err).Msg("failed to open ledger")
		return 1
	}
	defer func() {
		if err := led.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing ledger")
		}
	}()

	dest, err := transfer.ParseDestination(cfg.RcloneDestination, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		logging.Error().Err(err).Msg("invalid rclone destination")
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	xfer, err := transfer.NewS3Adapter(ctx, dest)
	if err != nil {
		logging.Error().Err(err).Msg("failed to connect to transfer destination")
		return 1
	}

	tmpl, err := pathtemplate.Compile(cfg.FileStructureFormat)
	if err != nil {
		logging.Error().Err(err).Msg("invalid file structure format")
		return exitConfigError
	}

	notifier := notify.New(cfg.AppriseNotifier)

	retention, err := cfg.RetentionDuration()
	if err != nil {
		logging.Error().Err(err).Msg("invalid retention")
		return exitConfigError
	}
	purgeInterval, err := cfg.PurgeIntervalDuration()
	if err != nil {
		logging.Error().Err(err).Msg("invalid purge interval")
		return exitConfigError
	}
	maxEventLength, err := cfg.MaxEventLengthDuration()
	if err != nil {
		logging.Error().Err(err).Msg("invalid max event length")
		return exitConfigError
	}
	bufferSize, err := cfg.DownloadBufferSizeBytes()
	if err != nil {
		logging.Error().Err(err).Msg("invalid download buffer size")
		return exitConfigError
	}

	detectionTypes := make(map[model.DetectionType]bool, len(cfg.DetectionTypes))
	for _, dt := range cfg.DetectionTypes {
		parsed, _ := model.ParseDetectionType(dt) // already validated by cfg.Validate
		detectionTypes[parsed] = true
	}
	ignoredCameras := make(map[string]bool, len(cfg.IgnoreCamera))
	for _, id := range cfg.IgnoreCamera {
		ignoredCameras[id] = true
	}

	filter := listener.Filter{
		DetectionTypes: detectionTypes,
		IgnoredCameras: ignoredCameras,
		MaxEventLength: maxEventLength,
	}

	// The NVR Adapter (C2) is an external collaborator specified purely at
	// its interface: a real UniFi Protect client substitutes for
	// MockAdapter here without changing anything downstream.
	logging.Warn().Msg("using nvr.MockAdapter: no concrete UniFi Protect client is wired; substitute a real nvr.Adapter implementation for production use")
	adapter := nvr.NewMockAdapter()

	eventQueue := queue.New(queue.DefaultCapacity)
	retryCounter := retry.NewCounter(4096, retention)

	lst := listener.New(adapter, led, eventQueue, retryCounter, filter, listener.DefaultConfig())

	handoffCh := make(chan *handoff.Handoff, 1)

	dlCfg := pipeline.DefaultDownloadConfig()
	dlCfg.BufferSize = int64(bufferSize)
	download := pipeline.NewDownload(eventQueue, led, adapter, retryCounter, notifier, tmpl, handoffCh, dlCfg)

	upload := pipeline.NewUpload(handoffCh, xfer, led, retryCounter, notifier, pipeline.DefaultUploadConfig())

	inPipeline := func() map[string]bool {
		if id := upload.InFlight(); id != "" {
			return map[string]bool{id: true}
		}
		return nil
	}

	// The reconciler's periodic re-check timer is its own concern, distinct
	// from --purge-interval: spec.md documents a 5 minute default here and
	// there is no dedicated flag for it, so reconciler.DefaultConfig's
	// Interval is used rather than conflating it with the purger's daily
	// default.
	recCfg := reconciler.DefaultConfig()
	recCfg.Retention = retention
	recCfg.SkipMissing = cfg.SkipMissing
	rec := reconciler.New(adapter, led, eventQueue, retryCounter,
		reconciler.Filter{DetectionTypes: detectionTypes, IgnoredCameras: ignoredCameras, MaxEventLength: maxEventLength},
		recCfg,
		inPipeline,
	)
	lst.OnReconnect = rec.Reconnect

	prgCfg := purger.DefaultConfig()
	prgCfg.Retention = retention
	prgCfg.Interval = purgeInterval
	prg := purger.New(led, xfer, prgCfg)

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Error().Err(err).Msg("failed to create supervisor tree")
		return 1
	}

	tree.AddRealtimeService(lst)
	tree.AddRealtimeService(rec)
	tree.AddPipelineService(download)
	tree.AddPipelineService(upload)
	tree.AddMaintenanceService(prg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("supervisor tree starting")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("unifi-protect-backup stopped gracefully")
	return 0
}

// verbosityToLevel maps spec.md's 0-5 --verbosity counter onto zerolog's
// level names: 0 is the documented default, higher counts progressively
// surface debug and trace detail.
func verbosityToLevel(v int) string {
	switch {
	case v >= 2:
		return "trace"
	case v == 1:
		return "debug"
	default:
		return "info"
	}
}
