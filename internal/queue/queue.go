// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package queue is the bounded event queue shared between the realtime
// Listener, the Missing-Event Reconciler and the Download Stage. It is
// owned by the Supervisor: producers and consumers only ever see their
// single endpoint.
package queue

import (
	"context"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// DefaultCapacity is the event queue's default bound (spec.md §5).
const DefaultCapacity = 256

// EventQueue is a bounded, context-cancellable handoff into the single
// Download Stage consumer. It keeps two internal lanes so the realtime
// Listener is preferred over the Reconciler's backlog scan whenever both
// have an event ready (design note: a large backlog scan must not delay
// live events), while sharing one overall capacity bound.
type EventQueue struct {
	realtime chan model.Event
	backlog  chan model.Event
}

// New creates an EventQueue with the given total capacity, split across the
// realtime and backlog lanes.
func New(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	realtimeCap := capacity / 2
	if realtimeCap < 1 {
		realtimeCap = 1
	}
	return &EventQueue{
		realtime: make(chan model.Event, realtimeCap),
		backlog:  make(chan model.Event, capacity-realtimeCap),
	}
}

// OfferRealtime enqueues an event from the Listener's live stream.
func (q *EventQueue) OfferRealtime(ctx context.Context, ev model.Event) error {
	select {
	case q.realtime <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OfferBacklog enqueues an event from the Reconciler's windowed scan.
func (q *EventQueue) OfferBacklog(ctx context.Context, ev model.Event) error {
	select {
	case q.backlog <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until an event is available or ctx is cancelled, preferring
// the realtime lane whenever both lanes have one ready.
func (q *EventQueue) Next(ctx context.Context) (model.Event, error) {
	select {
	case ev := <-q.realtime:
		return ev, nil
	default:
	}

	select {
	case ev := <-q.realtime:
		return ev, nil
	case ev := <-q.backlog:
		return ev, nil
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
}

// Len reports the number of events currently buffered across both lanes,
// for diagnostics.
func (q *EventQueue) Len() int {
	return len(q.realtime) + len(q.backlog)
}
