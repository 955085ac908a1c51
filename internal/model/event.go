// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package model holds the value types shared across the ledger, adapters,
// and pipeline stages: Event, Camera, LedgerRow and the detection-type
// vocabulary.
package model

import "time"

// DetectionType is the set of UniFi Protect smart-detection categories the
// agent recognizes.
type DetectionType string

const (
	DetectionMotion  DetectionType = "motion"
	DetectionPerson  DetectionType = "person"
	DetectionVehicle DetectionType = "vehicle"
	DetectionRing    DetectionType = "ring"
)

// AllDetectionTypes is the full vocabulary, used when no --detection-types
// filter is configured.
var AllDetectionTypes = []DetectionType{DetectionMotion, DetectionPerson, DetectionVehicle, DetectionRing}

// ParseDetectionType validates a single detection-type token (case-insensitive).
func ParseDetectionType(s string) (DetectionType, bool) {
	for _, dt := range AllDetectionTypes {
		if string(dt) == s {
			return dt, true
		}
	}
	return "", false
}

// Event is an immutable detection interval reported by the NVR. EndTS is the
// zero time until the matching "update" message carrying it arrives.
type Event struct {
	ID               string
	CameraID         string
	EventType        DetectionType
	SmartDetectTypes []string
	StartTS          time.Time
	EndTS            time.Time
}

// HasEnded reports whether the event carries an end timestamp yet.
func (e Event) HasEnded() bool {
	return !e.EndTS.IsZero()
}

// Duration returns EndTS - StartTS. Only meaningful once HasEnded is true.
func (e Event) Duration() time.Duration {
	if !e.HasEnded() {
		return 0
	}
	return e.EndTS.Sub(e.StartTS)
}

// Eligible reports whether e should ever enter the pipeline, per the
// detection-type filter, ignored-camera set and max clip duration.
func (e Event) Eligible(detectionTypes map[DetectionType]bool, ignoredCameras map[string]bool, maxDuration time.Duration) bool {
	if e.StartTS.IsZero() || !e.HasEnded() {
		return false
	}
	if ignoredCameras[e.CameraID] {
		return false
	}
	if len(detectionTypes) > 0 && !detectionTypes[e.EventType] {
		return false
	}
	return e.Duration() <= maxDuration
}

// Camera is NVR-supplied, mutable metadata looked up on demand and cached
// with a short TTL.
type Camera struct {
	ID       string
	Name     string
	UTCOffset time.Duration
}

// LedgerRow is the durable record of a successfully uploaded clip. A row
// exists in the ledger iff the clip is durably present at RemotePath.
type LedgerRow struct {
	EventID    string
	EventType  DetectionType
	CameraID   string
	StartTS    time.Time
	EndTS      time.Time
	RemotePath string
	UploadedAt time.Time
}

// Synthetic reports whether this row is a --skip-missing placeholder rather
// than a real upload record (empty RemotePath marks "do not fetch").
func (r LedgerRow) Synthetic() bool {
	return r.RemotePath == ""
}
