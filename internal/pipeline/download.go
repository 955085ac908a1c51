// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/unifi-protect-backup/internal/handoff"
	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/notify"
	"github.com/tomtom215/unifi-protect-backup/internal/nvr"
	"github.com/tomtom215/unifi-protect-backup/internal/pathtemplate"
	"github.com/tomtom215/unifi-protect-backup/internal/queue"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
)

// DownloadConfig bundles the Download Stage's tunables.
type DownloadConfig struct {
	// Grace is how long after end_ts the stage waits before fetching, to
	// work around NVR lag that otherwise returns a truncated clip.
	Grace time.Duration
	// BufferSize caps the in-flight unread bytes of the handoff,
	// independent of clip size (--download-buffer-size).
	BufferSize int64
}

// DefaultDownloadConfig returns spec.md §4.5's documented defaults.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{Grace: 5 * time.Second, BufferSize: 512 << 20}
}

// Download is the Download Stage (C6): a single cooperative worker that
// dequeues events, fetches clip bytes and forwards bounded handoffs to the
// Upload Stage.
type Download struct {
	queue    *queue.EventQueue
	ledger   *ledger.Ledger
	adapter  nvr.Adapter
	retry    *retry.Counter
	notifier *notify.Dispatcher
	tmpl     *pathtemplate.Template
	out      chan<- *handoff.Handoff
	cfg      DownloadConfig
}

// NewDownload builds a Download stage. out is the depth-1 channel to the
// Upload stage; callers own its lifetime.
func NewDownload(q *queue.EventQueue, led *ledger.Ledger, adapter nvr.Adapter, counter *retry.Counter,
	notifier *notify.Dispatcher, tmpl *pathtemplate.Template, out chan<- *handoff.Handoff, cfg DownloadConfig) *Download {
	return &Download{queue: q, ledger: led, adapter: adapter, retry: counter, notifier: notifier, tmpl: tmpl, out: out, cfg: cfg}
}

// Serve implements suture.Service: it loops dequeuing one event at a time,
// forever, until ctx is cancelled.
func (d *Download) Serve(ctx context.Context) error {
	for {
		ev, err := d.queue.Next(ctx)
		if err != nil {
			return err
		}
		d.process(ctx, ev)
	}
}

func (d *Download) process(ctx context.Context, ev model.Event) {
	log := logging.Ctx(ctx).With().Str("event_id", ev.ID).Str("camera_id", ev.CameraID).Logger()

	// Race guard: the Listener and Reconciler can both observe the same
	// event before either's ledger check lands.
	if has, err := d.ledger.Has(ctx, ev.ID); err != nil {
		log.Warn().Err(err).Msg("download: ledger lookup failed, proceeding anyway")
	} else if has {
		return
	}
	if d.retry.Banned(ev.ID) {
		return
	}

	if wait := d.cfg.Grace - time.Since(ev.EndTS); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	cam, err := d.adapter.Camera(ctx, ev.CameraID)
	if err != nil {
		log.Warn().Err(err).Msg("download: camera lookup failed, using camera_id as name")
		cam = model.Camera{ID: ev.CameraID, Name: ev.CameraID}
	}

	remotePath := d.tmpl.Render(pathtemplate.Vars{
		Event:         ev,
		CameraName:    cam.Name,
		DetectionType: ev.EventType,
		Location:      time.FixedZone(cam.Name, int(cam.UTCOffset.Seconds())),
	})

	clip, err := d.adapter.FetchClip(ctx, ev.ID, ev.StartTS, ev.EndTS)
	if err != nil {
		d.fail(ctx, ev, log, err)
		return
	}

	h := handoff.New(ev, remotePath, d.cfg.BufferSize)
	select {
	case d.out <- h:
	case <-ctx.Done():
		clip.Close()
		return
	}

	_, copyErr := handoff.Copy(ctx, h, clip)
	clipErr := clip.Err()
	clip.Close()

	if copyErr != nil {
		h.Fail(copyErr)
		d.fail(ctx, ev, log, copyErr)
		return
	}
	if clipErr != nil {
		h.Fail(clipErr)
		d.fail(ctx, ev, log, clipErr)
		return
	}

	if err := h.CloseWrite(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("download: closing handoff writer")
	}
}

// fail increments the RetryCounter and bans/notifies once MAX_ATTEMPTS is
// reached. The event is never re-enqueued directly here: the next
// reconciler pass re-offers it unless it is now banned.
func (d *Download) fail(ctx context.Context, ev model.Event, log zerolog.Logger, cause error) {
	attempts := d.retry.Increment(ev.ID)
	log.Warn().Err(cause).Int("attempt", attempts).Msg("download: fetch_clip failed")
	if attempts >= retry.MaxAttempts {
		log.Error().Str("event_id", ev.ID).Msg("download: event permanently banned after max attempts")
		d.notifier.Notify(ctx, notify.LevelWarning, "event permanently banned after max download attempts", ev.ID, ev.CameraID) //nolint:errcheck
	}
}
