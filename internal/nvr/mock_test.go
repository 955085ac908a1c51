// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package nvr

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockAdapterFetchClipFailUntil(t *testing.T) {
	m := NewMockAdapter()
	m.SetClip("E1", []byte("clip-bytes"))
	m.FailUntil("E1", 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.FetchClip(ctx, "E1", time.Time{}, time.Time{}); !errors.Is(err, ErrTransient) {
			t.Fatalf("attempt %d: expected ErrTransient, got %v", i, err)
		}
	}

	r, err := m.FetchClip(ctx, "E1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("expected success on 3rd attempt, got %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Fatalf("clip data = %q, want %q", data, "clip-bytes")
	}
}

func TestMockAdapterAlwaysNotFound(t *testing.T) {
	m := NewMockAdapter()
	m.AlwaysNotFound("E2")

	if _, err := m.FetchClip(context.Background(), "E2", time.Time{}, time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMockAdapterCameraLazyLookup(t *testing.T) {
	m := NewMockAdapter()
	cam, err := m.Camera(context.Background(), "cam-99")
	if err != nil {
		t.Fatalf("Camera returned error: %v", err)
	}
	if cam.ID != "cam-99" {
		t.Fatalf("Camera.ID = %q, want %q", cam.ID, "cam-99")
	}
}
