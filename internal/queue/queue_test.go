// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

func TestNextPrefersRealtimeOverBacklog(t *testing.T) {
	q := New(16)
	ctx := context.Background()

	if err := q.OfferBacklog(ctx, model.Event{ID: "backlog"}); err != nil {
		t.Fatalf("OfferBacklog failed: %v", err)
	}
	if err := q.OfferRealtime(ctx, model.Event{ID: "realtime"}); err != nil {
		t.Fatalf("OfferRealtime failed: %v", err)
	}

	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if ev.ID != "realtime" {
		t.Fatalf("Next() = %q, want realtime event to be served first", ev.ID)
	}
}

func TestNextCancellation(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Next(ctx); err == nil {
		t.Fatal("expected Next to return an error on context cancellation")
	}
}

func TestLen(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	_ = q.OfferRealtime(ctx, model.Event{ID: "a"})
	_ = q.OfferBacklog(ctx, model.Event{ID: "b"})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}
