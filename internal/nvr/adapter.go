// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package nvr specifies the boundary this agent shares with a UniFi Protect
// NVR. Only the interface and the value types that cross it live here: the
// concrete client (event stream, clip fetch, bootstrap metadata) is an
// external collaborator out of scope for this repository.
package nvr

import (
	"context"
	"io"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// RawEvent is a single add/update message off the realtime stream, before
// eligibility filtering or end-timestamp pairing.
type RawEvent struct {
	ID        string
	CameraID  string
	EventType model.DetectionType
	StartTS   time.Time
	EndTS     time.Time // zero until the matching "update" arrives
}

// Reconnected is sent on the stream returned by Subscribe whenever the
// adapter has re-established its connection to the NVR, so the Missing-
// Event Reconciler knows to run immediately rather than wait for its timer.
type Reconnected struct{}

// StreamMessage is either a RawEvent or a Reconnected sentinel.
type StreamMessage struct {
	Event       *RawEvent
	Reconnected bool
}

// ClipReader carries a fetched clip's bytes. Close must be called exactly
// once by the consumer; Err reports a download failure observed after some
// bytes may already have been read.
type ClipReader interface {
	io.ReadCloser
	Err() error
}

// Adapter is the contract the core pipeline requires of an NVR client.
// Implementations reconnect transparently on connection loss.
type Adapter interface {
	// Subscribe delivers add/update messages and Reconnected sentinels
	// until ctx is cancelled or the subscription fails fatally.
	Subscribe(ctx context.Context) (<-chan StreamMessage, error)

	// ListEvents returns events whose end_ts is set, within [from, to],
	// chunked internally in pages of at most 500.
	ListEvents(ctx context.Context, from, to time.Time) ([]model.Event, error)

	// FetchClip streams an event's clip bytes. Implementations return a
	// retryable error for NotReady/NotFound/network failures.
	FetchClip(ctx context.Context, eventID string, start, end time.Time) (ClipReader, error)

	// Camera looks up camera metadata, cached with a short TTL. A cache
	// miss triggers a bootstrap refresh rather than failing.
	Camera(ctx context.Context, cameraID string) (model.Camera, error)
}
