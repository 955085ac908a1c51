// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package transfer

import (
	"errors"
	"testing"
	"time"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{name: "bucket only", raw: "myremote:clips", wantBucket: "clips", wantPrefix: ""},
		{name: "bucket and prefix", raw: "myremote:clips/protect-backup", wantBucket: "clips", wantPrefix: "protect-backup"},
		{name: "missing colon", raw: "clips", wantErr: true},
		{name: "missing bucket", raw: "myremote:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := ParseDestination(tt.raw, "s3.example.com", "key", "secret", true)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDestination(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDestination(%q) unexpected error: %v", tt.raw, err)
			}
			if dest.Bucket != tt.wantBucket || dest.Prefix != tt.wantPrefix {
				t.Fatalf("ParseDestination(%q) = %+v, want bucket=%q prefix=%q", tt.raw, dest, tt.wantBucket, tt.wantPrefix)
			}
		})
	}
}

// TestCircuitBreakerTripsAfterConsecutiveFailures verifies the S3Adapter's
// breaker opens once ConsecutiveFailures reaches FailureThreshold, and
// rejects further calls without invoking the wrapped function.
func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour // keep it open for the duration of the test
	cb := newCircuitBreaker(cfg)

	boom := errors.New("boom")
	failing := func() (interface{}, error) { return nil, boom }

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(failing); !errors.Is(err, boom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}

	calls := 0
	_, err := cb.Execute(func() (interface{}, error) {
		calls++
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected breaker to be open and reject the call")
	}
	if calls != 0 {
		t.Error("expected the wrapped function not to run while the breaker is open")
	}
}
