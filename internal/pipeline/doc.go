// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package pipeline implements the Download Stage (C6) and Upload Stage
// (C7): a single download worker fetches clip bytes from the NVR and
// streams them into a bounded handoff; a single upload worker drains that
// handoff into the Transfer Adapter and records the ledger row on success.
// The two stages are connected by a depth-1 work channel so at most one
// handoff is in flight between them, keeping the producer/consumer pair
// coupled the way spec.md §4.5/§4.6 describes.
package pipeline
