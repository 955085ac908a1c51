// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package transfer specifies the Transfer Adapter boundary (C3): streaming
// upload, delete and list against a remote object store, by path. The core
// pipeline depends only on the Adapter interface; the concrete binding in
// this package targets any S3-compatible endpoint via minio-go.
package transfer

import (
	"context"
	"io"
)

// ObjectInfo describes one remote object returned by List.
type ObjectInfo struct {
	Path string
	Size int64
}

// Adapter is the contract the core pipeline requires of a remote transfer
// tool: stream_upload, delete, list, all addressed by path.
type Adapter interface {
	// StreamUpload uploads r to path. size may be -1 if unknown; the
	// implementation must still succeed for clips larger than any
	// in-memory buffer by streaming rather than buffering r whole.
	StreamUpload(ctx context.Context, path string, r io.Reader, size int64) error

	// Delete removes the object at path. Deleting a path that does not
	// exist is treated as success (idempotent purge).
	Delete(ctx context.Context, path string) error

	// List enumerates objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
