// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package listener implements the Event Listener (C4): it subscribes to
// the NVR's realtime stream and emits eligible, not-yet-ledgered events
// into the event queue, pairing an "add" message lacking end_ts with its
// later "update".
package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/nvr"
	"github.com/tomtom215/unifi-protect-backup/internal/queue"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
)

// Filter is the eligibility configuration the Listener applies before
// enqueueing an event.
type Filter struct {
	DetectionTypes map[model.DetectionType]bool
	IgnoredCameras map[string]bool
	MaxEventLength time.Duration
}

// Config bundles everything Listener needs beyond the NVR adapter itself.
type Config struct {
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 60s
	LivenessWindow time.Duration // bounded interval without a message before reconnect
}

// DefaultConfig returns the backoff/liveness defaults from spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		LivenessWindow: 2 * time.Minute,
	}
}

// Listener is a suture.Service implementing C4.
type Listener struct {
	adapter nvr.Adapter
	ledger  *ledger.Ledger
	queue   *queue.EventQueue
	retry   *retry.Counter
	filter  Filter
	cfg     Config

	// OnReconnect, if set, is invoked every time the subscription is
	// re-established so the Reconciler can run immediately.
	OnReconnect func()

	// pending holds "add" events still missing end_ts, keyed by event_id.
	pending map[string]model.Event
}

// New builds a Listener. filter and cfg are copied by value.
func New(adapter nvr.Adapter, led *ledger.Ledger, q *queue.EventQueue, counter *retry.Counter, filter Filter, cfg Config) *Listener {
	return &Listener{
		adapter: adapter,
		ledger:  led,
		queue:   q,
		retry:   counter,
		filter:  filter,
		cfg:     cfg,
		pending: make(map[string]model.Event),
	}
}

// Serve implements suture.Service: it resubscribes with exponential
// full-jitter backoff whenever the stream goes quiet past LivenessWindow or
// the subscription fails, and calls OnReconnect after every successful
// resubscribe past the first.
func (l *Listener) Serve(ctx context.Context) error {
	backoff := l.cfg.InitialBackoff
	firstAttempt := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stream, err := l.adapter.Subscribe(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("listener: subscribe failed, backing off")
			if !sleepBackoff(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, l.cfg.MaxBackoff)
			continue
		}

		if !firstAttempt && l.OnReconnect != nil {
			l.OnReconnect()
		}
		firstAttempt = false
		backoff = l.cfg.InitialBackoff

		stillAlive, err := l.consume(ctx, stream)
		if err != nil {
			return err
		}
		if !stillAlive {
			// Liveness timeout: tear down and reconnect with backoff.
			logging.Ctx(ctx).Warn().Msg("listener: liveness timeout, reconnecting")
			if !sleepBackoff(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, l.cfg.MaxBackoff)
		}
	}
}

// consume reads from stream until ctx is cancelled (returns true, nil),
// the stream closes or goes quiet past the liveness window (returns false,
// nil), or the queue offer is cancelled (returns false, err).
func (l *Listener) consume(ctx context.Context, stream <-chan nvr.StreamMessage) (bool, error) {
	timer := time.NewTimer(l.cfg.LivenessWindow)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-timer.C:
			return false, nil
		case msg, ok := <-stream:
			if !ok {
				return false, nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(l.cfg.LivenessWindow)

			if msg.Reconnected {
				if l.OnReconnect != nil {
					l.OnReconnect()
				}
				continue
			}
			if err := l.handleRawEvent(ctx, *msg.Event); err != nil {
				return true, err
			}
		}
	}
}

// handleRawEvent pairs an "add" lacking end_ts with its later "update",
// filters for eligibility and ledger absence, and offers it to the queue.
func (l *Listener) handleRawEvent(ctx context.Context, raw nvr.RawEvent) error {
	if raw.EndTS.IsZero() {
		l.pending[raw.ID] = toEvent(raw)
		return nil
	}

	ev, ok := l.pending[raw.ID]
	if ok {
		ev.EndTS = raw.EndTS
		delete(l.pending, raw.ID)
	} else {
		ev = toEvent(raw)
	}

	if !ev.Eligible(l.filter.DetectionTypes, l.filter.IgnoredCameras, l.filter.MaxEventLength) {
		return nil
	}
	if l.retry.Banned(ev.ID) {
		return nil
	}
	if has, err := l.ledger.Has(ctx, ev.ID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.ID).Msg("listener: ledger lookup failed, offering anyway")
	} else if has {
		return nil
	}

	return l.queue.OfferRealtime(ctx, ev)
}

func toEvent(raw nvr.RawEvent) model.Event {
	return model.Event{
		ID:        raw.ID,
		CameraID:  raw.CameraID,
		EventType: raw.EventType,
		StartTS:   raw.StartTS,
		EndTS:     raw.EndTS,
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// nextBackoff doubles d, caps at max, and applies full jitter.
func nextBackoff(d, max time.Duration) time.Duration {
	doubled := d * 2
	if doubled > max {
		doubled = max
	}
	//nolint:gosec // non-cryptographic jitter for reconnect timing
	return time.Duration(rand.Int63n(int64(doubled) + 1))
}
