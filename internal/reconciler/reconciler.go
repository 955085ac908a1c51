// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package reconciler implements the Missing-Event Reconciler (C5):
// it periodically lists events over the retention window, diffs them
// against the ledger, and re-injects any unbacked-up ones, guaranteeing
// eventual completeness against a noisy realtime feed. Windowing and
// diff/interleave semantics are grounded on
// original_source/unifi_protect_backup/missing_event_checker.py.
package reconciler

import (
	"context"
	"runtime"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/nvr"
	"github.com/tomtom215/unifi-protect-backup/internal/queue"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
)

// Filter mirrors listener.Filter: the eligibility configuration applied to
// every historical event the reconciler considers.
type Filter struct {
	DetectionTypes map[model.DetectionType]bool
	IgnoredCameras map[string]bool
	MaxEventLength time.Duration
}

// Config bundles the reconciler's tunables.
type Config struct {
	Retention time.Duration
	Interval  time.Duration // default 5 min
	// SkipMissing, when true, makes the first run seed the ledger with
	// synthetic "already-uploaded" markers instead of fetching anything.
	SkipMissing bool
	// YieldEvery bounds how many offers happen before the reconciler
	// yields the goroutine, so a large backlog scan cannot monopolize the
	// event queue ahead of the realtime path.
	YieldEvery int
}

// DefaultConfig returns spec.md §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, YieldEvery: 8}
}

// Reconciler is a suture.Service implementing C5. Reconnect triggers the
// Listener, its caller feeds through the Reconnect channel returned by
// Triggers().
type Reconciler struct {
	adapter nvr.Adapter
	ledger  *ledger.Ledger
	queue   *queue.EventQueue
	retry   *retry.Counter
	filter  Filter
	cfg     Config

	inPipeline func() map[string]bool

	reconnect chan struct{}
}

// New builds a Reconciler. inPipeline may be nil, in which case the
// reconciler only consults the ledger and RetryCounter.
func New(adapter nvr.Adapter, led *ledger.Ledger, q *queue.EventQueue, counter *retry.Counter,
	filter Filter, cfg Config, inPipeline func() map[string]bool) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = 8
	}
	return &Reconciler{
		adapter:    adapter,
		ledger:     led,
		queue:      q,
		retry:      counter,
		filter:     filter,
		cfg:        cfg,
		inPipeline: inPipeline,
		reconnect:  make(chan struct{}, 1),
	}
}

// Reconnect triggers an immediate reconciliation pass, non-blockingly; the
// Listener calls this from its OnReconnect hook.
func (r *Reconciler) Reconnect() {
	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

// Serve implements suture.Service: it runs once at startup (seeding the
// ledger instead if SkipMissing is set), then on every Reconnect signal,
// then on a timer.
func (r *Reconciler) Serve(ctx context.Context) error {
	log := logging.Ctx(ctx).With().Str("component", "reconciler").Logger()

	if r.cfg.SkipMissing {
		if err := r.seedSkipMissing(ctx); err != nil {
			log.Warn().Err(err).Msg("reconciler: skip-missing seed failed")
		}
	} else if err := r.run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("reconciler: initial pass failed")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.reconnect:
			if err := r.run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("reconciler: reconnect-triggered pass failed")
			}
		case <-ticker.C:
			if err := r.run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("reconciler: scheduled pass failed")
			}
		}
	}
}

// run is a single reconciliation pass per spec.md §4.4's four-step
// algorithm.
func (r *Reconciler) run(ctx context.Context) error {
	now := time.Now().UTC()
	from := now.Add(-r.cfg.Retention)

	nvrEvents, err := r.adapter.ListEvents(ctx, from, now)
	if err != nil {
		return err
	}

	ledgerIDs, err := r.ledger.AllIDsInWindow(ctx, from, now)
	if err != nil {
		return err
	}

	var inFlight map[string]bool
	if r.inPipeline != nil {
		inFlight = r.inPipeline()
	}

	offered := 0
	for _, ev := range nvrEvents {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ev.Eligible(r.filter.DetectionTypes, r.filter.IgnoredCameras, r.filter.MaxEventLength) {
			continue
		}
		if ledgerIDs[ev.ID] || inFlight[ev.ID] || r.retry.Banned(ev.ID) {
			continue
		}

		if err := r.queue.OfferBacklog(ctx, ev); err != nil {
			return err
		}
		offered++

		// Interleave offers with yields so a large backlog scan cannot
		// monopolize the queue ahead of the realtime Listener.
		if offered%r.cfg.YieldEvery == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				runtime.Gosched()
			}
		}
	}
	return nil
}

// seedSkipMissing implements S7: instead of fetching anything, every
// currently-retained eligible event is written to the ledger as a
// synthetic, empty-remote-path row, marking it "do not fetch." The marker
// is persisted (not re-run on every restart) per the Open Question
// decision recorded in DESIGN.md.
func (r *Reconciler) seedSkipMissing(ctx context.Context) error {
	now := time.Now().UTC()
	from := now.Add(-r.cfg.Retention)

	nvrEvents, err := r.adapter.ListEvents(ctx, from, now)
	if err != nil {
		return err
	}
	ledgerIDs, err := r.ledger.AllIDsInWindow(ctx, from, now)
	if err != nil {
		return err
	}

	for _, ev := range nvrEvents {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ev.Eligible(r.filter.DetectionTypes, r.filter.IgnoredCameras, r.filter.MaxEventLength) {
			continue
		}
		if ledgerIDs[ev.ID] {
			continue
		}
		row := model.LedgerRow{
			EventID:    ev.ID,
			EventType:  ev.EventType,
			CameraID:   ev.CameraID,
			StartTS:    ev.StartTS,
			EndTS:      ev.EndTS,
			RemotePath: "",
			UploadedAt: now,
		}
		if err := r.ledger.Put(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
