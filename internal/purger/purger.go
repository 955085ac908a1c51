// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package purger implements the Purger (C8): on a timer, it enumerates
// ledger rows older than the retention cutoff, deletes the corresponding
// remote objects, and removes the ledger rows — never touching a path
// outside the ledger, the central retention-safety invariant from
// spec.md §4.7. The keep-set/delete-set split is grounded on
// internal/backup/retention.go, simplified here to the single age-cutoff
// rule spec.md specifies.
package purger

import (
	"context"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/transfer"
)

// Config bundles the Purger's tunables.
type Config struct {
	Retention time.Duration
	Interval  time.Duration // default 1 day
	// FailureThreshold logs (but does not otherwise act on) a row that
	// has failed to delete this many consecutive passes.
	FailureThreshold int
}

// DefaultConfig returns spec.md §4.7's documented defaults.
func DefaultConfig() Config {
	return Config{Interval: 24 * time.Hour, FailureThreshold: 5}
}

// Purger is a suture.Service implementing C8.
type Purger struct {
	ledger   *ledger.Ledger
	transfer transfer.Adapter
	cfg      Config

	failures map[string]int
}

// New builds a Purger.
func New(led *ledger.Ledger, t transfer.Adapter, cfg Config) *Purger {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	return &Purger{ledger: led, transfer: t, cfg: cfg, failures: make(map[string]int)}
}

// Serve implements suture.Service: it runs one pass immediately, then on
// every tick of Interval, until ctx is cancelled. Each pass completes (or
// the stage stops at the next pass boundary on shutdown) rather than being
// interrupted mid-pass, per spec.md §4.8.
func (p *Purger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if err := p.runPass(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.runPass(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// runPass executes one Purger pass per spec.md §4.7's three-step algorithm.
func (p *Purger) runPass(ctx context.Context) error {
	log := logging.Ctx(ctx).With().Str("component", "purger").Logger()

	cutoff := time.Now().Add(-p.cfg.Retention)
	rows, err := p.ledger.IterOlderThan(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("purger: iter_older_than failed")
		return err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if row.Synthetic() {
			// A --skip-missing marker never had a remote object; just
			// drop the bookkeeping row once it ages out.
			if err := p.ledger.Delete(ctx, row.EventID); err != nil {
				log.Warn().Err(err).Str("event_id", row.EventID).Msg("purger: deleting synthetic row failed")
			}
			continue
		}

		if err := p.transfer.Delete(ctx, row.RemotePath); err != nil {
			p.failures[row.EventID]++
			if p.failures[row.EventID] >= p.cfg.FailureThreshold {
				log.Error().Err(err).Str("event_id", row.EventID).Str("remote_path", row.RemotePath).
					Int("consecutive_failures", p.failures[row.EventID]).
					Msg("purger: repeated delete failure, will keep retrying next pass")
			} else {
				log.Warn().Err(err).Str("event_id", row.EventID).Str("remote_path", row.RemotePath).
					Msg("purger: delete failed, retrying next pass")
			}
			continue
		}

		delete(p.failures, row.EventID)
		if err := p.ledger.Delete(ctx, row.EventID); err != nil {
			log.Error().Err(err).Str("event_id", row.EventID).Msg("purger: ledger delete failed after remote delete succeeded")
		}
	}
	return nil
}
