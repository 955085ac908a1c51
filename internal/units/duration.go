// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package units parses the duration and byte-size strings accepted on the
// command line and in environment variables: calendar-free durations with
// day/week/year suffixes (time.ParseDuration has no notion of these), and
// human byte sizes such as "512MiB".
package units

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day
)

// ParseDuration extends time.ParseDuration with single-unit "d", "w" and "y"
// suffixes (e.g. "7d", "2w", "1y"). Mixed-unit expressions such as "1d12h"
// are not supported; the extended suffixes must appear alone.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, ok, err := parseExtendedSuffix(trimmed); ok {
		return d, err
	}

	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// parseExtendedSuffix handles the "d"/"w"/"y" suffixes time.ParseDuration
// does not understand. ok is false when s does not end in one of them, in
// which case the caller falls back to time.ParseDuration.
func parseExtendedSuffix(s string) (time.Duration, bool, error) {
	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = day
	case strings.HasSuffix(s, "w"):
		unit = week
	case strings.HasSuffix(s, "y"):
		unit = year
	default:
		return 0, false, nil
	}

	numeric := strings.TrimSuffix(s, s[len(s)-1:])
	n, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, true, fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	return time.Duration(n * float64(unit)), true, nil
}

// ParseBytes parses a human byte-size string such as "512MiB" or "64MB".
func ParseBytes(s string) (uint64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n, nil
}
