// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/unifi-protect-backup/internal/handoff"
	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/logging"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/notify"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
	"github.com/tomtom215/unifi-protect-backup/internal/transfer"
)

// UploadConfig bundles the Upload Stage's tunables.
type UploadConfig struct {
	// ProbeClipDuration enables the best-effort ffprobe duration check
	// against the downloaded bytes, logged but never fatal to the upload.
	ProbeClipDuration bool
	// ProbeTimeout bounds how long the ffprobe subprocess may run.
	ProbeTimeout time.Duration
}

// DefaultUploadConfig returns the probe defaults.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{ProbeClipDuration: false, ProbeTimeout: 10 * time.Second}
}

// Upload is the Upload Stage (C7): a single worker draining handoffs FIFO
// into the Transfer Adapter and recording a ledger row on success.
type Upload struct {
	in       <-chan *handoff.Handoff
	transfer transfer.Adapter
	ledger   *ledger.Ledger
	retry    *retry.Counter
	notifier *notify.Dispatcher
	cfg      UploadConfig

	mu       sync.RWMutex
	inFlight string
}

// NewUpload builds an Upload stage reading from in, the same depth-1
// channel the Download stage writes handoffs into.
func NewUpload(in <-chan *handoff.Handoff, t transfer.Adapter, led *ledger.Ledger, counter *retry.Counter,
	notifier *notify.Dispatcher, cfg UploadConfig) *Upload {
	return &Upload{in: in, transfer: t, ledger: led, retry: counter, notifier: notifier, cfg: cfg}
}

// Serve implements suture.Service.
func (u *Upload) Serve(ctx context.Context) error {
	for {
		select {
		case h, ok := <-u.in:
			if !ok {
				return nil
			}
			u.process(ctx, h)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// QueueDepth reports how many handoffs are currently buffered on the
// work channel from Download, for diagnostics per spec.md §4.6.
func (u *Upload) QueueDepth() int {
	return len(u.in)
}

// InFlight reports the event_id currently being uploaded, or "" if idle.
func (u *Upload) InFlight() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.inFlight
}

func (u *Upload) setInFlight(id string) {
	u.mu.Lock()
	u.inFlight = id
	u.mu.Unlock()
}

func (u *Upload) process(ctx context.Context, h *handoff.Handoff) {
	u.setInFlight(h.Event.ID)
	defer u.setInFlight("")

	log := logging.Ctx(ctx).With().Str("event_id", h.Event.ID).Str("remote_path", h.RemotePath).Logger()

	reader := h.Reader()
	var probeFile *os.File
	if u.cfg.ProbeClipDuration {
		if f, err := os.CreateTemp("", "unifi-protect-backup-probe-*.mp4"); err == nil {
			probeFile = f
			reader = io.TeeReader(reader, f)
		} else {
			log.Debug().Err(err).Msg("upload: could not open probe scratch file, skipping duration probe")
		}
	}

	err := u.transfer.StreamUpload(ctx, h.RemotePath, reader, -1)

	if probeFile != nil {
		probeFile.Close()
		defer os.Remove(probeFile.Name())
	}

	if failed, failErr := h.Failed(); failed {
		log.Warn().Err(failErr).Msg("upload: aborting, download side failed the handoff")
		return
	}
	if err != nil {
		attempts := u.retry.Increment(h.Event.ID)
		log.Warn().Err(err).Int("attempt", attempts).Msg("upload: stream_upload failed")
		if attempts >= retry.MaxAttempts {
			log.Error().Msg("upload: event permanently banned after max attempts")
			u.notifier.Notify(ctx, notify.LevelWarning, "event permanently banned after max upload attempts", h.Event.ID, h.Event.CameraID) //nolint:errcheck
		}
		return
	}

	row := model.LedgerRow{
		EventID:    h.Event.ID,
		EventType:  h.Event.EventType,
		CameraID:   h.Event.CameraID,
		StartTS:    h.Event.StartTS,
		EndTS:      h.Event.EndTS,
		RemotePath: h.RemotePath,
		UploadedAt: time.Now().UTC(),
	}
	if err := u.ledger.Put(ctx, row); err != nil {
		log.Error().Err(err).Msg("upload: ledger write failed after successful upload")
		u.notifier.Notify(ctx, notify.LevelError, "ledger write failed after a successful upload", h.Event.ID, h.Event.CameraID) //nolint:errcheck
		return
	}
	u.retry.Forget(h.Event.ID)

	if probeFile != nil {
		u.probeDuration(ctx, probeFile.Name(), h.Event, log)
	}
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration shells out to ffprobe the way original_source's
// get_video_length does, comparing the container's reported duration
// against end_ts - start_ts. Disagreement is logged only, per the Open
// Question decision recorded in DESIGN.md; probe failure never fails the
// upload that already succeeded.
func (u *Upload) probeDuration(ctx context.Context, path string, ev model.Event, log zerolog.Logger) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, u.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "ffprobe", "-v", "quiet", "-show_entries", "format=duration", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		log.Debug().Err(err).Msg("upload: ffprobe failed, skipping duration check")
		return
	}

	var parsed ffprobeFormat
	if err := json.Unmarshal(out, &parsed); err != nil {
		log.Debug().Err(err).Msg("upload: could not parse ffprobe output")
		return
	}
	var probed float64
	if _, err := fmt.Sscanf(parsed.Format.Duration, "%g", &probed); err != nil {
		return
	}

	expected := ev.Duration().Seconds()
	if math.Abs(probed-expected) > 1.0 {
		log.Warn().Float64("probed_seconds", probed).Float64("expected_seconds", expected).
			Msg("upload: downloaded clip duration disagrees with event window")
	}
}
