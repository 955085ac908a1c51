// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package handoff

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

func testEvent() model.Event {
	return model.Event{ID: "ev1", CameraID: "cam1", EventType: model.DetectionMotion}
}

// TestWriterBlocksAtCapacity writes a clip many times larger than a small
// configured buffer while nothing reads from the handoff, then asserts the
// producer genuinely stalls instead of buffering the whole clip in memory
// (spec.md invariant 5; SPEC_FULL.md's token-bucket chunked writer).
func TestWriterBlocksAtCapacity(t *testing.T) {
	const capacity = 4 * chunkSize // small budget: a handful of pages
	const clipSize = 64 * chunkSize

	h := New(testEvent(), "cam1/clip.mp4", capacity)

	clip := make([]byte, clipSize)
	writeDone := make(chan error, 1)
	go func() {
		_, err := h.Writer().Write(clip)
		writeDone <- err
	}()

	// Nobody is reading h.Reader() yet, so the writer should still be
	// blocked well after it would have finished if capacity were ignored.
	select {
	case err := <-writeDone:
		t.Fatalf("Write returned early (err=%v) with no reader draining the handoff; capacity is not being enforced", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Drain the reader now; the blocked Write must complete once capacity
	// bytes worth of pages can flow through.
	go io.Copy(io.Discard, h.Reader())

	select {
	case err := <-writeDone:
		if err != nil {
			t.Fatalf("Write failed after reader started draining: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Write never returned after reader started draining; producer deadlocked")
	}

	if err := h.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}
}

// TestClipLargerThanBufferSucceeds is the boundary property from spec.md's
// S6 scenario: a clip many times the configured buffer size must still
// transfer in full and byte-for-byte, with the consumer reading concurrently
// with the producer rather than after it.
func TestClipLargerThanBufferSucceeds(t *testing.T) {
	const capacity = 2 * chunkSize
	const clipSize = 50 * chunkSize

	h := New(testEvent(), "cam1/clip.mp4", capacity)

	clip := make([]byte, clipSize)
	for i := range clip {
		clip[i] = byte(i)
	}

	readDone := make(chan struct {
		data []byte
		err  error
	}, 1)
	go func() {
		data, err := io.ReadAll(h.Reader())
		readDone <- struct {
			data []byte
			err  error
		}{data, err}
	}()

	n, err := Copy(context.Background(), h, newSlowReader(clip))
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if n != clipSize {
		t.Fatalf("Copy wrote %d bytes, want %d", n, clipSize)
	}
	if err := h.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	result := <-readDone
	if result.err != nil {
		t.Fatalf("reader failed: %v", result.err)
	}
	if len(result.data) != clipSize {
		t.Fatalf("reader saw %d bytes, want %d", len(result.data), clipSize)
	}
	for i := range result.data {
		if result.data[i] != clip[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, result.data[i], clip[i])
		}
	}
}

// TestFailUnblocksWriter exercises the ctx-cancellation path: a blocked
// Write must not hang forever once the handoff is marked failed.
func TestFailUnblocksWriter(t *testing.T) {
	const capacity = chunkSize
	h := New(testEvent(), "cam1/clip.mp4", capacity)

	clip := make([]byte, 32*chunkSize)
	writeDone := make(chan error, 1)
	go func() {
		_, err := h.Writer().Write(clip)
		writeDone <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the writer block on a full semaphore

	h.Fail(context.Canceled)

	select {
	case err := <-writeDone:
		if err == nil {
			t.Fatal("Write succeeded after Fail; want the recorded failure error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Write still blocked after Fail; producer deadlocked")
	}

	if failed, err := h.Failed(); !failed || err != context.Canceled {
		t.Fatalf("Failed() = (%v, %v), want (true, context.Canceled)", failed, err)
	}
}

// slowReader trickles bytes out a few at a time so Copy's writer and the
// handoff's own reader genuinely overlap instead of one finishing before
// the other starts.
type slowReader struct {
	data []byte
	pos  int
}

func newSlowReader(data []byte) *slowReader { return &slowReader{data: data} }

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := len(p)
	if n > 4096 {
		n = 4096
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}
