// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package handoff implements the bounded byte pipe between the Download
// Stage and the Upload Stage: a single-producer single-consumer rendezvous
// built on io.Pipe, fed by a token-bucket chunked writer so the producer can
// run ahead of the consumer up to a configured byte budget instead of
// blocking on every single Write. This is the one large-memory buffer in
// the pipeline; its capacity caps resident memory regardless of clip size
// (spec.md invariant 5). io.Pipe alone provides no such bound - it only
// synchronizes one Write against one matching Read - so the bound has to be
// enforced above it.
package handoff

import (
	"context"
	"io"
	"sync"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// chunkSize is the token unit the semaphore gates: capacity bytes become
// capacity/chunkSize tokens, each covering one queued, not-yet-flushed page.
const chunkSize = 32 * 1024

// Handoff carries one event's clip bytes from Download to Upload, plus the
// remote path Download already computed so Upload never reformats it.
// Closing the write side signals EOF to the reader; Fail marks the handoff
// as failed so the uploader aborts without writing to the remote or the
// ledger.
type Handoff struct {
	Event      model.Event
	RemotePath string

	pr *io.PipeReader
	pw *io.PipeWriter

	capacity int64
	sem      chan struct{} // one token per chunkSize bytes permitted in flight
	queue    chan []byte   // pages waiting for the feed goroutine to flush
	feedDone chan struct{} // closed once feed has drained queue

	mu      sync.Mutex
	failed  bool
	failErr error
}

// New creates a Handoff whose in-flight, unread byte count never exceeds
// roughly capacity bytes, regardless of how large the underlying clip turns
// out to be: Write chunks its input into chunkSize pages and blocks
// acquiring a token before queuing each one, so a producer that outruns the
// consumer stalls once capacity bytes are queued rather than materializing
// the whole clip in memory.
func New(ev model.Event, remotePath string, capacity int64) *Handoff {
	pr, pw := io.Pipe()
	if capacity <= 0 {
		capacity = 1
	}
	tokens := int(capacity / chunkSize)
	if tokens < 1 {
		tokens = 1
	}

	h := &Handoff{
		Event:      ev,
		RemotePath: remotePath,
		pr:         pr,
		pw:         pw,
		capacity:   capacity,
		sem:        make(chan struct{}, tokens),
		queue:      make(chan []byte, tokens),
		feedDone:   make(chan struct{}),
	}
	for i := 0; i < tokens; i++ {
		h.sem <- struct{}{}
	}
	go h.feed()
	return h
}

// feed drains queue and performs the actual blocking writes into the pipe,
// one page at a time, releasing that page's token once it has either been
// written or skipped because the handoff already failed. This is the only
// goroutine that ever calls pw.Write, so pages are flushed in submission
// order.
func (h *Handoff) feed() {
	defer close(h.feedDone)
	for page := range h.queue {
		if failed, _ := h.Failed(); !failed {
			if _, err := h.pw.Write(page); err != nil {
				h.Fail(err)
			}
		}
		h.sem <- struct{}{}
	}
}

// boundedWriter is the io.Writer handed to the Download Stage. Its Write
// chunks the input and gates each chunk on the handoff's semaphore, which is
// the actual enforcement point for the configured buffer size.
type boundedWriter struct {
	h *Handoff
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	h := w.h
	total := 0
	for len(p) > 0 {
		if failed, err := h.Failed(); failed {
			return total, err
		}

		n := len(p)
		if n > chunkSize {
			n = chunkSize
		}
		page := make([]byte, n)
		copy(page, p[:n])

		<-h.sem
		h.queue <- page

		total += n
		p = p[n:]
	}
	return total, nil
}

// Writer returns the io.Writer side the Download Stage streams the fetched
// clip into.
func (h *Handoff) Writer() io.Writer { return &boundedWriter{h: h} }

// Reader returns the io.Reader side the Upload Stage streams into the
// Transfer Adapter.
func (h *Handoff) Reader() io.Reader { return h.pr }

// CloseWrite signals EOF to the reader after a successful download. It
// blocks until every page already queued has actually been written to the
// pipe, so the caller's completion ordering matches the bytes the consumer
// has seen.
func (h *Handoff) CloseWrite() error {
	close(h.queue)
	<-h.feedDone
	if failed, err := h.Failed(); failed {
		return err
	}
	return h.pw.Close()
}

// Fail marks the handoff as failed and closes the pipe with err so the
// uploader's Read returns err instead of EOF. The uploader must treat any
// non-EOF read error as "abort without a ledger write." A second call is a
// no-op: CloseWithError only needs to run once to unblock every pending and
// future Write/Read on the pipe.
func (h *Handoff) Fail(err error) {
	h.mu.Lock()
	already := h.failed
	if !already {
		h.failed = true
		h.failErr = err
	}
	h.mu.Unlock()
	if !already {
		h.pw.CloseWithError(err)
	}
}

// Failed reports whether Fail was called, and with what error.
func (h *Handoff) Failed() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed, h.failErr
}

// Copy streams src into the handoff's writer, watching ctx for
// cancellation between chunks so a shutdown signal can interrupt a stalled
// download without leaking the goroutine.
func Copy(ctx context.Context, h *Handoff, src io.Reader) (int64, error) {
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := io.Copy(h.Writer(), src)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		h.Fail(ctx.Err())
		<-done // let the copy goroutine unblock against the now-failed pipe
		return 0, ctx.Err()
	}
}
