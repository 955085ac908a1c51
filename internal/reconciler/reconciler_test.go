// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/nvr"
	"github.com/tomtom215/unifi-protect-backup/internal/queue"
	"github.com/tomtom215/unifi-protect-backup/internal/retry"
)

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func historicalEvent(id string, end time.Time) model.Event {
	return model.Event{
		ID:        id,
		CameraID:  "cam1",
		EventType: model.DetectionMotion,
		StartTS:   end.Add(-5 * time.Second),
		EndTS:     end,
	}
}

func TestReconcilerOffersUnbackedUpEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC()
	adapter := nvr.NewMockAdapter()
	adapter.SetHistoricalEvents([]model.Event{
		historicalEvent("E1", now.Add(-time.Hour)),
		historicalEvent("E2", now.Add(-2*time.Hour)),
	})

	led := openTestLedger(t)
	if err := led.Put(ctx, model.LedgerRow{EventID: "E2", RemotePath: "cam1/E2.mp4", StartTS: now.Add(-2 * time.Hour), EndTS: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	q := queue.New(8)
	r := New(adapter, led, q, retry.NewCounter(100, time.Hour), Filter{MaxEventLength: time.Hour}, Config{Retention: 7 * 24 * time.Hour, Interval: time.Hour}, nil)

	if err := r.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.ID != "E1" {
		t.Errorf("offered event = %q, want E1", ev.ID)
	}

	select {
	case ev := <-drain(ctx, q):
		t.Errorf("unexpected second event offered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func drain(ctx context.Context, q *queue.EventQueue) <-chan model.Event {
	ch := make(chan model.Event, 1)
	go func() {
		if ev, err := q.Next(ctx); err == nil {
			ch <- ev
		}
	}()
	return ch
}

func TestReconcilerSkipMissingSeedsSyntheticRows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC()
	adapter := nvr.NewMockAdapter()
	adapter.SetHistoricalEvents([]model.Event{
		historicalEvent("E1", now.Add(-time.Hour)),
	})

	led := openTestLedger(t)
	q := queue.New(8)
	r := New(adapter, led, q, retry.NewCounter(100, time.Hour), Filter{MaxEventLength: time.Hour}, Config{Retention: 7 * 24 * time.Hour, SkipMissing: true}, nil)

	if err := r.seedSkipMissing(ctx); err != nil {
		t.Fatalf("seedSkipMissing: %v", err)
	}

	has, err := led.Has(ctx, "E1")
	if err != nil || !has {
		t.Fatalf("Has(E1) = (%v, %v), want (true, nil)", has, err)
	}

	rows, err := led.IterOlderThan(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("IterOlderThan: %v", err)
	}
	if len(rows) != 1 || !rows[0].Synthetic() {
		t.Errorf("expected one synthetic row, got %+v", rows)
	}
}

func TestReconcilerSkipsBannedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC()
	adapter := nvr.NewMockAdapter()
	adapter.SetHistoricalEvents([]model.Event{historicalEvent("E1", now.Add(-time.Hour))})

	led := openTestLedger(t)
	q := queue.New(8)
	counter := retry.NewCounter(100, time.Hour)
	for i := 0; i < retry.MaxAttempts; i++ {
		counter.Increment("E1")
	}

	r := New(adapter, led, q, counter, Filter{MaxEventLength: time.Hour}, Config{Retention: 7 * 24 * time.Hour}, nil)
	if err := r.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if q.Len() != 0 {
		t.Errorf("expected banned event not to be offered, queue len = %d", q.Len())
	}
}
