// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package notify implements the Apprise-style "LEVELS=url" notifier
// dispatch list: each configured target filters on a level tag and posts a
// JSON payload to its URL. Only the http/https scheme is a first-class
// channel; other Apprise URL schemes are recognized but rejected at
// configuration-validation time.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Level is a notifier severity tag, matching spec.md's level vocabulary.
type Level string

const (
	LevelError         Level = "ERROR"
	LevelWarning       Level = "WARNING"
	LevelInfo          Level = "INFO"
	LevelDebug         Level = "DEBUG"
	LevelExtraDebug    Level = "EXTRA_DEBUG"
	LevelWebsocketData Level = "WEBSOCKET_DATA"
)

// DefaultLevel is used for a target whose spec carries no explicit levels.
const DefaultLevel = LevelError

var validLevels = map[Level]bool{
	LevelError: true, LevelWarning: true, LevelInfo: true,
	LevelDebug: true, LevelExtraDebug: true, LevelWebsocketData: true,
}

// Target is one parsed "LEVELS=url" entry from --apprise-notifier.
type Target struct {
	Levels map[Level]bool
	URL    string
}

// ParseSpec parses a single "LEVELS=url" or bare "url" entry. LEVELS is a
// comma-separated list of level tags; a bare URL defaults to ERROR only.
func ParseSpec(spec string) (Target, error) {
	levelsPart, urlPart, hasLevels := strings.Cut(spec, "=")
	if !hasLevels {
		urlPart = levelsPart
		levelsPart = string(DefaultLevel)
	}

	levels := make(map[Level]bool)
	for _, tok := range strings.Split(levelsPart, ",") {
		tok = strings.TrimSpace(strings.ToUpper(tok))
		if tok == "" {
			continue
		}
		lvl := Level(tok)
		if !validLevels[lvl] {
			return Target{}, fmt.Errorf("unknown notifier level %q", tok)
		}
		levels[lvl] = true
	}
	if len(levels) == 0 {
		return Target{}, fmt.Errorf("no levels specified")
	}

	u, err := url.Parse(urlPart)
	if err != nil {
		return Target{}, fmt.Errorf("invalid notifier URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("unsupported notifier scheme %q (only http/https are implemented)", u.Scheme)
	}

	return Target{Levels: levels, URL: urlPart}, nil
}

// ValidateSpec is ParseSpec's error-only form, used by configuration
// validation so an unsupported scheme fails fast at startup (exit 200)
// rather than silently dropping notifications at runtime.
func ValidateSpec(spec string) error {
	_, err := ParseSpec(spec)
	return err
}

// Dispatcher fans a notification out to every target whose level set
// includes the message's level, grounded on the teacher's generic HTTP
// webhook delivery channel.
type Dispatcher struct {
	targets []Target
	client  *http.Client
}

// New builds a Dispatcher from the raw "LEVELS=url" specs. Specs that fail
// to parse are skipped; Validate should already have rejected them earlier.
func New(specs []string) *Dispatcher {
	d := &Dispatcher{client: &http.Client{Timeout: 30 * time.Second}}
	for _, spec := range specs {
		if t, err := ParseSpec(spec); err == nil {
			d.targets = append(d.targets, t)
		}
	}
	return d
}

type payload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	EventID   string `json:"event_id,omitempty"`
	CameraID  string `json:"camera_id,omitempty"`
}

// Notify posts message to every target subscribed to level. Delivery
// failures are swallowed by the caller's perspective: Notify logs nothing
// itself and returns the first error only for observability in tests.
func (d *Dispatcher) Notify(ctx context.Context, level Level, message, eventID, cameraID string) error {
	if d == nil {
		return nil
	}
	body, err := json.Marshal(payload{Level: string(level), Message: message, EventID: eventID, CameraID: cameraID})
	if err != nil {
		return fmt.Errorf("marshal notifier payload: %w", err)
	}

	var firstErr error
	for _, t := range d.targets {
		if !t.Levels[level] {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resp.Body.Close()
	}
	return firstErr
}
