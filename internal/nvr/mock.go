// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package nvr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// clipReader is the in-memory ClipReader MockAdapter hands back.
type clipReader struct {
	*bytes.Reader
	err error
}

func (c *clipReader) Close() error { return nil }
func (c *clipReader) Err() error   { return c.err }

// MockAdapter is an in-memory Adapter test double: canned ListEvents/Camera
// responses, a channel-backed Subscribe, and per-event scripted FetchClip
// outcomes (a fixed number of retryable failures before success, or a
// permanent NotFound).
type MockAdapter struct {
	mu sync.Mutex

	historicalEvents []model.Event
	cameras          map[string]model.Camera
	clips            map[string][]byte

	// fetchFailures lets tests script N failures before success for a
	// given event_id; a negative value means "always fail (NotFound)".
	fetchFailures map[string]int
	fetchAttempts map[string]int

	stream chan StreamMessage
}

// NewMockAdapter returns an empty MockAdapter ready for test setup.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		cameras:       make(map[string]model.Camera),
		clips:         make(map[string][]byte),
		fetchFailures: make(map[string]int),
		fetchAttempts: make(map[string]int),
		stream:        make(chan StreamMessage, 64),
	}
}

// SetHistoricalEvents seeds the events ListEvents returns.
func (m *MockAdapter) SetHistoricalEvents(events []model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historicalEvents = events
}

// SetCamera seeds a camera lookup.
func (m *MockAdapter) SetCamera(cam model.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[cam.ID] = cam
}

// SetClip seeds the bytes FetchClip returns for eventID on eventual success.
func (m *MockAdapter) SetClip(eventID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[eventID] = data
}

// FailUntil scripts eventID to return a retryable error on the first n
// FetchClip attempts before succeeding.
func (m *MockAdapter) FailUntil(eventID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures[eventID] = n
}

// AlwaysNotFound scripts eventID to permanently fail with NotFound.
func (m *MockAdapter) AlwaysNotFound(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures[eventID] = -1
}

// Emit pushes a raw event onto the Subscribe stream.
func (m *MockAdapter) Emit(msg StreamMessage) {
	m.stream <- msg
}

func (m *MockAdapter) Subscribe(ctx context.Context) (<-chan StreamMessage, error) {
	return m.stream, nil
}

func (m *MockAdapter) ListEvents(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Event
	for _, e := range m.historicalEvents {
		if !e.HasEnded() {
			continue
		}
		if e.EndTS.Before(from) || e.EndTS.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockAdapter) FetchClip(ctx context.Context, eventID string, start, end time.Time) (ClipReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit, scripted := m.fetchFailures[eventID]; scripted {
		if limit < 0 {
			return nil, fmt.Errorf("event %s: %w", eventID, errNotFound)
		}
		attempt := m.fetchAttempts[eventID]
		m.fetchAttempts[eventID] = attempt + 1
		if attempt < limit {
			return nil, fmt.Errorf("event %s: %w", eventID, errTransient)
		}
	}

	data := m.clips[eventID]
	return &clipReader{Reader: bytes.NewReader(data)}, nil
}

func (m *MockAdapter) Camera(ctx context.Context, cameraID string) (model.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cam, ok := m.cameras[cameraID]
	if !ok {
		cam = model.Camera{ID: cameraID, Name: cameraID}
		m.cameras[cameraID] = cam
	}
	return cam, nil
}

// ErrNotFound and ErrTransient are the sentinel errors MockAdapter.FetchClip
// returns for scripted NotFound / retryable outcomes.
var (
	ErrNotFound  = errors.New("nvr: clip not found")
	ErrTransient = errors.New("nvr: transient fetch error")

	errNotFound  = ErrNotFound
	errTransient = ErrTransient
)
