// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package config

import (
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/units"
)

func parseDurationField(s string) (time.Duration, error) {
	return units.ParseDuration(s)
}

func parseBytesField(s string) (uint64, error) {
	return units.ParseBytes(s)
}
