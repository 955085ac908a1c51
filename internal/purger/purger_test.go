// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package purger

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ledger"
	"github.com/tomtom215/unifi-protect-backup/internal/model"
	"github.com/tomtom215/unifi-protect-backup/internal/transfer"
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

// TestPurgerDeletesRowsPastRetention covers S5: a row with end_ts eight
// days in the past, against a seven day retention window, is deleted in a
// single pass — the remote object first, then the ledger row.
func TestPurgerDeletesRowsPastRetention(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	led := openTestLedger(t)
	mockTransfer := transfer.NewMockAdapter()

	now := time.Now().UTC()
	old := now.Add(-8 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)

	mockTransfer.Put("cam1/old.mp4", []byte("old-clip"))
	mockTransfer.Put("cam1/fresh.mp4", []byte("fresh-clip"))

	if err := led.Put(ctx, model.LedgerRow{EventID: "old", RemotePath: "cam1/old.mp4", StartTS: old, EndTS: old}); err != nil {
		t.Fatalf("seed old row: %v", err)
	}
	if err := led.Put(ctx, model.LedgerRow{EventID: "fresh", RemotePath: "cam1/fresh.mp4", StartTS: fresh, EndTS: fresh}); err != nil {
		t.Fatalf("seed fresh row: %v", err)
	}

	p := New(led, mockTransfer, Config{Retention: 7 * 24 * time.Hour, FailureThreshold: 5})
	if err := p.runPass(ctx); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if has, _ := led.Has(ctx, "old"); has {
		t.Error("expected old row to be purged")
	}
	if mockTransfer.Has("cam1/old.mp4") {
		t.Error("expected old remote object to be deleted")
	}
	if has, _ := led.Has(ctx, "fresh"); !has {
		t.Error("expected fresh row to survive the pass")
	}
	if !mockTransfer.Has("cam1/fresh.mp4") {
		t.Error("expected fresh remote object to survive the pass")
	}
}

// TestPurgerIdempotent verifies that a second pass over an already-purged
// window is a no-op: nothing is deleted twice, nothing errors.
func TestPurgerIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	led := openTestLedger(t)
	mockTransfer := transfer.NewMockAdapter()

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	mockTransfer.Put("cam1/old.mp4", []byte("old-clip"))
	if err := led.Put(ctx, model.LedgerRow{EventID: "old", RemotePath: "cam1/old.mp4", StartTS: old, EndTS: old}); err != nil {
		t.Fatalf("seed old row: %v", err)
	}

	p := New(led, mockTransfer, Config{Retention: 7 * 24 * time.Hour})
	if err := p.runPass(ctx); err != nil {
		t.Fatalf("first runPass: %v", err)
	}
	if err := p.runPass(ctx); err != nil {
		t.Fatalf("second runPass: %v", err)
	}

	if has, _ := led.Has(ctx, "old"); has {
		t.Error("expected row to remain purged after second pass")
	}
}

// TestPurgerSkipsSyntheticRowsRemoteDelete ensures a --skip-missing marker
// row (empty remote path) is removed without ever calling Transfer.Delete.
func TestPurgerSkipsSyntheticRowsRemoteDelete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	led := openTestLedger(t)
	mockTransfer := transfer.NewMockAdapter()

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := led.Put(ctx, model.LedgerRow{EventID: "synthetic", RemotePath: "", StartTS: old, EndTS: old}); err != nil {
		t.Fatalf("seed synthetic row: %v", err)
	}

	p := New(led, mockTransfer, Config{Retention: 7 * 24 * time.Hour})
	if err := p.runPass(ctx); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if has, _ := led.Has(ctx, "synthetic"); has {
		t.Error("expected synthetic row to be purged")
	}
	if mockTransfer.UploadCount() != 0 {
		t.Error("expected no transfer activity for a synthetic row")
	}
}

// TestPurgerRetriesFailedDeleteNextPass ensures a transient remote delete
// failure leaves the ledger row intact for a subsequent pass to retry.
func TestPurgerRetriesFailedDeleteNextPass(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	led := openTestLedger(t)
	mockTransfer := transfer.NewMockAdapter()

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := led.Put(ctx, model.LedgerRow{EventID: "old", RemotePath: "cam1/old.mp4", StartTS: old, EndTS: old}); err != nil {
		t.Fatalf("seed old row: %v", err)
	}
	mockTransfer.FailNextDelete("cam1/old.mp4")

	p := New(led, mockTransfer, Config{Retention: 7 * 24 * time.Hour})
	if err := p.runPass(ctx); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if has, _ := led.Has(ctx, "old"); !has {
		t.Error("expected row to survive a failed delete, for retry next pass")
	}

	if err := p.runPass(ctx); err != nil {
		t.Fatalf("retry runPass: %v", err)
	}
	if has, _ := led.Has(ctx, "old"); has {
		t.Error("expected row to be purged on retry once the failure clears")
	}
}
