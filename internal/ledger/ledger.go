// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package ledger is the durable event ledger (C1): a single-file embedded
// SQL store recording every successfully uploaded clip, keyed by event_id.
// A row exists iff the clip is durably present at its remote_path. All
// writes are serialized through one writer goroutine; reads run concurrently
// against the same *sql.DB, which DuckDB's driver permits for a single
// writer / multiple readers file.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	camera_id TEXT NOT NULL,
	start_ts BIGINT NOT NULL,
	end_ts BIGINT NOT NULL,
	remote_path TEXT NOT NULL,
	uploaded_at BIGINT NOT NULL
);
`

type writeOp int

const (
	opPut writeOp = iota
	opDelete
)

type writeRequest struct {
	op      writeOp
	row     model.LedgerRow
	eventID string
	result  chan error
}

// Ledger is the event ledger's open handle.
type Ledger struct {
	db *sql.DB

	writeCh chan writeRequest
	done    chan struct{}

	// maxWriteRetries/writeRetryDelay bound the backoff for a transient
	// write failure before it is escalated as fatal to the Supervisor.
	maxWriteRetries int
	writeRetryDelay time.Duration
}

// Open creates the parent directory if needed, opens (or creates) the
// ledger file at path, and ensures its schema exists. Failure here is
// fatal per spec: the caller should refuse to start the supervisor tree.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1 + 4) // one writer connection's worth of headroom plus concurrent readers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	l := &Ledger{
		db:              db,
		writeCh:         make(chan writeRequest),
		done:            make(chan struct{}),
		maxWriteRetries: 5,
		writeRetryDelay: 500 * time.Millisecond,
	}
	go l.runWriter()
	return l, nil
}

// Close stops the writer goroutine and closes the underlying connection.
func (l *Ledger) Close() error {
	close(l.done)
	return l.db.Close()
}

// runWriter is the single serialized writer: every Put/Delete funnels
// through here so concurrent callers never race on the DuckDB connection's
// write path.
func (l *Ledger) runWriter() {
	for {
		select {
		case <-l.done:
			return
		case req := <-l.writeCh:
			req.result <- l.executeWithRetry(req)
		}
	}
}

func (l *Ledger) executeWithRetry(req writeRequest) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxWriteRetries; attempt++ {
		var err error
		switch req.op {
		case opPut:
			err = l.execPut(req.row)
		case opDelete:
			err = l.execDelete(req.eventID)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < l.maxWriteRetries {
			time.Sleep(l.writeRetryDelay)
		}
	}
	return fmt.Errorf("ledger write failed after %d attempts, escalating as fatal: %w", l.maxWriteRetries+1, lastErr)
}

func (l *Ledger) execPut(row model.LedgerRow) error {
	_, err := l.db.Exec(
		`INSERT INTO events (id, type, camera_id, start_ts, end_ts, remote_path, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   type = excluded.type,
		   camera_id = excluded.camera_id,
		   start_ts = excluded.start_ts,
		   end_ts = excluded.end_ts,
		   remote_path = excluded.remote_path,
		   uploaded_at = excluded.uploaded_at`,
		row.EventID, string(row.EventType), row.CameraID,
		row.StartTS.UTC().Unix(), row.EndTS.UTC().Unix(), row.RemotePath, row.UploadedAt.UTC().Unix(),
	)
	return err
}

func (l *Ledger) execDelete(eventID string) error {
	_, err := l.db.Exec(`DELETE FROM events WHERE id = ?`, eventID)
	return err
}

// Put inserts or replaces a LedgerRow; re-inserting an event_id replaces the
// row (the newest remote_path wins).
func (l *Ledger) Put(ctx context.Context, row model.LedgerRow) error {
	return l.submit(ctx, writeRequest{op: opPut, row: row})
}

// Delete removes a row by event_id. Deleting an absent row is a no-op.
func (l *Ledger) Delete(ctx context.Context, eventID string) error {
	return l.submit(ctx, writeRequest{op: opDelete, eventID: eventID})
}

func (l *Ledger) submit(ctx context.Context, req writeRequest) error {
	req.result = make(chan error, 1)
	select {
	case l.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return fmt.Errorf("ledger is closed")
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Has reports whether event_id has a ledger row.
func (l *Ledger) Has(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ledger has(%s): %w", eventID, err)
	}
	return n > 0, nil
}

// IterOlderThan returns every (event_id, remote_path) whose end_ts is
// strictly before cutoff, for the Purger.
func (l *Ledger) IterOlderThan(ctx context.Context, cutoff time.Time) ([]model.LedgerRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, camera_id, start_ts, end_ts, remote_path, uploaded_at
		 FROM events WHERE end_ts < ? ORDER BY end_ts ASC`,
		cutoff.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger iter_older_than: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// AllIDsInWindow returns the set of event_ids whose end_ts falls in
// [from, to], for the reconciler's ledger-vs-NVR diff.
func (l *Ledger) AllIDsInWindow(ctx context.Context, from, to time.Time) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id FROM events WHERE end_ts >= ? AND end_ts <= ?`,
		from.UTC().Unix(), to.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger all_ids_in_window: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger all_ids_in_window scan: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func scanRows(rows *sql.Rows) ([]model.LedgerRow, error) {
	var out []model.LedgerRow
	for rows.Next() {
		var (
			id, eventType, cameraID, remotePath string
			startTS, endTS, uploadedAt          int64
		)
		if err := rows.Scan(&id, &eventType, &cameraID, &startTS, &endTS, &remotePath, &uploadedAt); err != nil {
			return nil, fmt.Errorf("ledger scan row: %w", err)
		}
		out = append(out, model.LedgerRow{
			EventID:    id,
			EventType:  model.DetectionType(eventType),
			CameraID:   cameraID,
			StartTS:    time.Unix(startTS, 0).UTC(),
			EndTS:      time.Unix(endTS, 0).UTC(),
			RemotePath: remotePath,
			UploadedAt: time.Unix(uploadedAt, 0).UTC(),
		})
	}
	return out, rows.Err()
}
