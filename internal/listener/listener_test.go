// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

func newTestListener(t *testing.T) (*Listener, *queue.EventQueue, *retry.Counter) {
	t.Helper()
	q := queue.New(8)
	counter := retry.NewCounter(100, time.Hour)
	l := New(nvr.NewMockAdapter(), openTestLedger(t), q, counter,
		Filter{MaxEventLength: time.Hour}, DefaultConfig())
	return l, q, counter
}

func rawEvent(id string, start time.Time, hasEnd bool) nvr.RawEvent {
	ev := nvr.RawEvent{
		ID:        id,
		CameraID:  "cam1",
		EventType: model.DetectionMotion,
		StartTS:   start,
	}
	if hasEnd {
		ev.EndTS = start.Add(5 * time.Second)
	}
	return ev
}

func TestHandleRawEventPairsAddThenUpdate(t *testing.T) {
	ctx := context.Background()
	l, q, _ := newTestListener(t)

	start := time.Now().UTC()
	add := rawEvent("E1", start, false)
	if err := l.handleRawEvent(ctx, add); err != nil {
		t.Fatalf("handleRawEvent(add): %v", err)
	}
	if _, ok := l.pending["E1"]; !ok {
		t.Fatal("add without end_ts was not remembered in pending")
	}

	update := nvr.RawEvent{ID: "E1", EndTS: start.Add(5 * time.Second)}
	if err := l.handleRawEvent(ctx, update); err != nil {
		t.Fatalf("handleRawEvent(update): %v", err)
	}
	if _, ok := l.pending["E1"]; ok {
		t.Fatal("pending entry was not cleared after the matching update arrived")
	}

	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.ID != "E1" {
		t.Fatalf("offered event ID = %q, want E1", ev.ID)
	}
	if !ev.StartTS.Equal(start) {
		t.Errorf("offered StartTS = %v, want the add message's %v", ev.StartTS, start)
	}
	if !ev.EndTS.Equal(update.EndTS) {
		t.Errorf("offered EndTS = %v, want the update message's %v", ev.EndTS, update.EndTS)
	}
}

func TestHandleRawEventAlreadyCompleteSkipsPairing(t *testing.T) {
	ctx := context.Background()
	l, q, _ := newTestListener(t)

	ev := rawEvent("E2", time.Now().UTC(), true)
	if err := l.handleRawEvent(ctx, ev); err != nil {
		t.Fatalf("handleRawEvent: %v", err)
	}
	if len(l.pending) != 0 {
		t.Errorf("pending = %v, want empty for a message that already carried end_ts", l.pending)
	}

	got, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.ID != "E2" {
		t.Fatalf("offered event ID = %q, want E2", got.ID)
	}
}

func TestHandleRawEventEligibilityFiltering(t *testing.T) {
	ctx := context.Background()

	t.Run("ignored camera", func(t *testing.T) {
		q := queue.New(8)
		l := New(nvr.NewMockAdapter(), openTestLedger(t), q, retry.NewCounter(100, time.Hour),
			Filter{IgnoredCameras: map[string]bool{"cam1": true}, MaxEventLength: time.Hour}, DefaultConfig())

		if err := l.handleRawEvent(ctx, rawEvent("E3", time.Now().UTC(), true)); err != nil {
			t.Fatalf("handleRawEvent: %v", err)
		}
		assertQueueEmpty(t, q)
	})

	t.Run("wrong detection type", func(t *testing.T) {
		q := queue.New(8)
		l := New(nvr.NewMockAdapter(), openTestLedger(t), q, retry.NewCounter(100, time.Hour),
			Filter{DetectionTypes: map[model.DetectionType]bool{model.DetectionPerson: true}, MaxEventLength: time.Hour}, DefaultConfig())

		if err := l.handleRawEvent(ctx, rawEvent("E4", time.Now().UTC(), true)); err != nil {
			t.Fatalf("handleRawEvent: %v", err)
		}
		assertQueueEmpty(t, q)
	})

	t.Run("clip too long", func(t *testing.T) {
		q := queue.New(8)
		l := New(nvr.NewMockAdapter(), openTestLedger(t), q, retry.NewCounter(100, time.Hour),
			Filter{MaxEventLength: time.Second}, DefaultConfig())

		if err := l.handleRawEvent(ctx, rawEvent("E5", time.Now().UTC(), true)); err != nil {
			t.Fatalf("handleRawEvent: %v", err)
		}
		assertQueueEmpty(t, q)
	})
}

func TestHandleRawEventBanSkip(t *testing.T) {
	ctx := context.Background()
	l, q, counter := newTestListener(t)

	for i := 0; i < retry.MaxAttempts; i++ {
		counter.Increment("E6")
	}
	if !counter.Banned("E6") {
		t.Fatal("test setup: E6 should be banned")
	}

	if err := l.handleRawEvent(ctx, rawEvent("E6", time.Now().UTC(), true)); err != nil {
		t.Fatalf("handleRawEvent: %v", err)
	}
	assertQueueEmpty(t, q)
}

func TestHandleRawEventAlreadyInLedgerSkipped(t *testing.T) {
	ctx := context.Background()
	l, q, _ := newTestListener(t)

	start := time.Now().UTC()
	if err := l.ledger.Put(ctx, model.LedgerRow{
		EventID: "E7", RemotePath: "cam1/E7.mp4", StartTS: start, EndTS: start.Add(5 * time.Second),
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	if err := l.handleRawEvent(ctx, rawEvent("E7", start, true)); err != nil {
		t.Fatalf("handleRawEvent: %v", err)
	}
	assertQueueEmpty(t, q)
}

func assertQueueEmpty(t *testing.T, q *queue.EventQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if ev, err := q.Next(ctx); err == nil {
		t.Fatalf("unexpected event offered: %+v", ev)
	}
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	max := 60 * time.Second
	d := time.Second

	for i := 0; i < 10; i++ {
		next := nextBackoff(d, max)
		wantCeiling := d * 2
		if wantCeiling > max {
			wantCeiling = max
		}
		if next < 0 || next > wantCeiling {
			t.Fatalf("iteration %d: nextBackoff(%v, %v) = %v, want in [0, %v]", i, d, max, next, wantCeiling)
		}
		d = wantCeiling
	}
	if d != max {
		t.Fatalf("backoff did not converge to the cap: got %v, want %v", d, max)
	}
}

// fakeAdapter is a minimal nvr.Adapter double whose Subscribe is scriptable
// per call, unlike MockAdapter's single always-succeeding stream, so the
// reconnect/backoff and liveness-timeout paths can be exercised directly.
type fakeAdapter struct {
	nvr.Adapter // embed MockAdapter's methods this test does not care about

	mu           sync.Mutex
	subscribeErr []error // consumed in order; once exhausted, Subscribe succeeds
	stream       chan nvr.StreamMessage
	subscribes   int32
}

func newFakeAdapter(errs ...error) *fakeAdapter {
	return &fakeAdapter{
		Adapter:      nvr.NewMockAdapter(),
		subscribeErr: errs,
		stream:       make(chan nvr.StreamMessage, 16),
	}
}

func (f *fakeAdapter) Subscribe(ctx context.Context) (<-chan nvr.StreamMessage, error) {
	atomic.AddInt32(&f.subscribes, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribeErr) > 0 {
		err := f.subscribeErr[0]
		f.subscribeErr = f.subscribeErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.stream, nil
}

func TestServeRetriesAfterSubscribeFailure(t *testing.T) {
	adapter := newFakeAdapter(errors.New("subscribe refused"))
	q := queue.New(8)
	l := New(adapter, openTestLedger(t), q, retry.NewCounter(100, time.Hour),
		Filter{MaxEventLength: time.Hour}, Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, LivenessWindow: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	adapter.stream <- nvr.StreamMessage{Event: ptrRaw(rawEvent("E8", time.Now().UTC(), true))}

	select {
	case ev := <-drainQueue(ctx, q):
		if ev.ID != "E8" {
			t.Errorf("event ID = %q, want E8", ev.ID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("listener never recovered from the first subscribe failure")
	}
	cancel()
	<-done

	if atomic.LoadInt32(&adapter.subscribes) < 2 {
		t.Fatalf("subscribe attempts = %d, want at least 2 (fail then retry)", adapter.subscribes)
	}
}

func TestServeReconnectsOnLivenessTimeout(t *testing.T) {
	adapter := newFakeAdapter()
	var reconnects int32
	q := queue.New(8)
	l := New(adapter, openTestLedger(t), q, retry.NewCounter(100, time.Hour),
		Filter{MaxEventLength: time.Hour},
		Config{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, LivenessWindow: 20 * time.Millisecond})
	l.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	<-done

	if atomic.LoadInt32(&reconnects) == 0 {
		t.Fatal("OnReconnect was never called; liveness timeout did not trigger a reconnect")
	}
	if atomic.LoadInt32(&adapter.subscribes) < 2 {
		t.Fatalf("subscribe attempts = %d, want at least 2 (initial + reconnect after timeout)", adapter.subscribes)
	}
}

func ptrRaw(r nvr.RawEvent) *nvr.RawEvent { return &r }

func drainQueue(ctx context.Context, q *queue.EventQueue) <-chan model.Event {
	ch := make(chan model.Event, 1)
	go func() {
		if ev, err := q.Next(ctx); err == nil {
			ch <- ev
		}
	}()
	return ch
}
