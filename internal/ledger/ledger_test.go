// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// testDBSemaphore serializes DuckDB CGO connections across tests to avoid
// concurrent-open hangs under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleRow(id string, endTS time.Time) model.LedgerRow {
	return model.LedgerRow{
		EventID:    id,
		EventType:  model.DetectionMotion,
		CameraID:   "cam1",
		StartTS:    endTS.Add(-5 * time.Second),
		EndTS:      endTS,
		RemotePath: "cam1/" + id + ".mp4",
		UploadedAt: endTS,
	}
}

func TestLedgerPutThenHas(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if has, err := l.Has(ctx, "E1"); err != nil || has {
		t.Fatalf("Has before Put = (%v, %v), want (false, nil)", has, err)
	}

	row := sampleRow("E1", time.Now().UTC())
	if err := l.Put(ctx, row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	has, err := l.Has(ctx, "E1")
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !has {
		t.Fatal("Has returned false after Put")
	}
}

func TestLedgerPutIsIdempotentOnEventID(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	row := sampleRow("E1", time.Now().UTC())
	if err := l.Put(ctx, row); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	row.RemotePath = "cam1/E1-retry.mp4"
	if err := l.Put(ctx, row); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	rows, err := l.IterOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IterOlderThan failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want exactly 1 after re-insert", len(rows))
	}
	if rows[0].RemotePath != "cam1/E1-retry.mp4" {
		t.Fatalf("RemotePath = %q, want the newest value", rows[0].RemotePath)
	}
}

func TestLedgerDelete(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	row := sampleRow("E1", time.Now().UTC())
	if err := l.Put(ctx, row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := l.Delete(ctx, "E1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if has, err := l.Has(ctx, "E1"); err != nil || has {
		t.Fatalf("Has after Delete = (%v, %v), want (false, nil)", has, err)
	}
}

func TestLedgerIterOlderThan(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := sampleRow("old", now.Add(-8*24*time.Hour))
	recent := sampleRow("recent", now)
	if err := l.Put(ctx, old); err != nil {
		t.Fatalf("Put old failed: %v", err)
	}
	if err := l.Put(ctx, recent); err != nil {
		t.Fatalf("Put recent failed: %v", err)
	}

	cutoff := now.Add(-7 * 24 * time.Hour)
	rows, err := l.IterOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("IterOlderThan failed: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != "old" {
		t.Fatalf("IterOlderThan returned %v, want only %q", rows, "old")
	}
}

func TestLedgerAllIDsInWindow(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inside := sampleRow("inside", now.Add(-time.Hour))
	outside := sampleRow("outside", now.Add(-30*24*time.Hour))
	if err := l.Put(ctx, inside); err != nil {
		t.Fatalf("Put inside failed: %v", err)
	}
	if err := l.Put(ctx, outside); err != nil {
		t.Fatalf("Put outside failed: %v", err)
	}

	ids, err := l.AllIDsInWindow(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("AllIDsInWindow failed: %v", err)
	}
	if !ids["inside"] || ids["outside"] {
		t.Fatalf("AllIDsInWindow = %v, want only %q", ids, "inside")
	}
}
