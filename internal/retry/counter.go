// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package retry

import (
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/ttlcache"
)

// MaxAttempts is the attempt count at which an event is permanently banned
// from the pipeline until its counter expires or the process restarts.
const MaxAttempts = 10

// Counter tracks per-event failure counts in memory, keyed by event_id, with
// a TTL that must be at least the configured retention window so a banned
// event cannot resurface while its clip would still be in retention. Bans
// never persist to the ledger: they lift on restart by design.
type Counter struct {
	cache *ttlcache.Cache[int]
}

// NewCounter builds a Counter whose entries expire after ttl, which callers
// should set to at least the retention duration.
func NewCounter(capacity int, ttl time.Duration) *Counter {
	return &Counter{cache: ttlcache.New[int](capacity, ttl)}
}

// Increment bumps the attempt count for eventID and returns the new total.
func (c *Counter) Increment(eventID string) int {
	return c.cache.Update(eventID, func(current int, existed bool) int {
		if !existed {
			return 1
		}
		return current + 1
	})
}

// Attempts returns the current attempt count for eventID, 0 if unseen.
func (c *Counter) Attempts(eventID string) int {
	n, ok := c.cache.Get(eventID)
	if !ok {
		return 0
	}
	return n
}

// Banned reports whether eventID has reached MaxAttempts and must not be
// re-offered to the pipeline until its TTL elapses or the process restarts.
func (c *Counter) Banned(eventID string) bool {
	return c.Attempts(eventID) >= MaxAttempts
}

// Forget clears an event's attempt count, used after a successful upload so
// a stale counter can't linger past a later re-offer of the same ID.
func (c *Counter) Forget(eventID string) {
	c.cache.Remove(eventID)
}
