// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package transfer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MockAdapter is an in-memory Adapter test double.
type MockAdapter struct {
	mu      sync.Mutex
	objects map[string][]byte

	// failUploadFor scripts StreamUpload to fail for a given path, once.
	failUploadFor map[string]bool
	// failDeleteFor scripts Delete to fail for a given path, once.
	failDeleteFor map[string]bool
}

// NewMockAdapter returns an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		objects:       make(map[string][]byte),
		failUploadFor: make(map[string]bool),
		failDeleteFor: make(map[string]bool),
	}
}

// FailNextUpload scripts the next StreamUpload to path to fail.
func (m *MockAdapter) FailNextUpload(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUploadFor[path] = true
}

// FailNextDelete scripts the next Delete of path to fail.
func (m *MockAdapter) FailNextDelete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeleteFor[path] = true
}

// Put seeds the mock with an object, bypassing StreamUpload.
func (m *MockAdapter) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
}

// Has reports whether path was uploaded and not yet deleted.
func (m *MockAdapter) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// UploadCount returns how many objects are currently stored.
func (m *MockAdapter) UploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *MockAdapter) StreamUpload(ctx context.Context, path string, r io.Reader, size int64) error {
	m.mu.Lock()
	if m.failUploadFor[path] {
		delete(m.failUploadFor, path)
		m.mu.Unlock()
		return fmt.Errorf("mock: scripted upload failure for %s", path)
	}
	m.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("mock: read upload body: %w", err)
	}

	m.mu.Lock()
	m.objects[path] = data
	m.mu.Unlock()
	return nil
}

func (m *MockAdapter) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteFor[path] {
		delete(m.failDeleteFor, path)
		return fmt.Errorf("mock: scripted delete failure for %s", path)
	}
	delete(m.objects, path) // deleting an absent key is a no-op, matching "not found is success"
	return nil
}

func (m *MockAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for path, data := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, ObjectInfo{Path: path, Size: int64(len(data))})
		}
	}
	return out, nil
}
