// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "levels and url", spec: "ERROR,WARNING=https://example.com/hook"},
		{name: "bare url defaults to error", spec: "https://example.com/hook"},
		{name: "unknown level", spec: "BOGUS=https://example.com/hook", wantErr: true},
		{name: "unsupported scheme", spec: "ERROR=mailto:ops@example.com", wantErr: true},
		{name: "malformed url", spec: "ERROR=://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec(tt.spec)
			if tt.wantErr && err == nil {
				t.Fatalf("ParseSpec(%q) expected error", tt.spec)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ParseSpec(%q) unexpected error: %v", tt.spec, err)
			}
		})
	}
}

func TestDispatcherFiltersbyLevel(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New([]string{"WARNING=" + srv.URL})

	if err := d.Notify(context.Background(), LevelInfo, "should not be delivered", "E1", "cam1"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	select {
	case <-received:
		t.Fatal("INFO notification delivered to a WARNING-only target")
	default:
	}

	if err := d.Notify(context.Background(), LevelWarning, "event banned", "E1", "cam1"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	p := <-received
	if p.Level != string(LevelWarning) || p.EventID != "E1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}
