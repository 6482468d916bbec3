package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

func newTestChecker(t *testing.T, handler http.HandlerFunc) *VersionChecker {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	vc := NewVersionChecker()
	vc.endpoint = ts.URL + "/repos/" + releaseRepo + "/releases/latest"
	vc.client = ts.Client()
	vc.retry = util.NewBackoff(time.Millisecond, time.Millisecond)
	return vc
}

// --- Lookup ---

func TestVersionLookup(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantRetry  bool
		wantLatest string
	}{
		{"release", http.StatusOK, `{"tag_name": "v1.4.0"}`, false, false, "1.4.0"},
		{"no releases", http.StatusNotFound, `{}`, false, false, ""},
		{"rate limited", http.StatusForbidden, `{}`, true, true, ""},
		{"too many requests", http.StatusTooManyRequests, `{}`, true, true, ""},
		{"server error", http.StatusBadGateway, ``, true, true, ""},
		{"bad request", http.StatusBadRequest, `{}`, true, false, ""},
		{"missing tag", http.StatusOK, `{}`, true, true, ""},
		{"bad json", http.StatusOK, `{`, true, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/"+releaseRepo+"/releases/latest" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := vc.lookup(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, errReleaseUnavailable); got != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", got, tt.wantRetry)
			}
			if got := vc.Info().Latest; got != tt.wantLatest {
				t.Errorf("Latest = %q, want %q", got, tt.wantLatest)
			}
		})
	}
}

func TestVersionLookupUsesETag(t *testing.T) {
	var conditional atomic.Int32
	vc := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name": "v1.2.3"}`))
	})

	for range 2 {
		if err := vc.lookup(context.Background()); err != nil {
			t.Fatalf("lookup() error = %v", err)
		}
	}
	if conditional.Load() != 1 {
		t.Errorf("conditional requests = %d, want 1", conditional.Load())
	}
	if got := vc.Info().Latest; got != "1.2.3" {
		t.Errorf("Latest = %q, want 1.2.3", got)
	}
}

// --- Refresh ---

func TestVersionRefreshRetries(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		status       int
		wantRequests int32
		wantLatest   string
	}{
		{"recovers after outage", 1, http.StatusServiceUnavailable, 2, "2.0.0"},
		{"gives up after attempts", 10, http.StatusServiceUnavailable, releaseAttempts, ""},
		{"no retry on client error", 10, http.StatusBadRequest, 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			vc := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				if requests.Add(1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte(`{"tag_name": "v2.0.0"}`))
			})

			vc.refresh(context.Background())

			if got := requests.Load(); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}
			if got := vc.Info().Latest; got != tt.wantLatest {
				t.Errorf("Latest = %q, want %q", got, tt.wantLatest)
			}
		})
	}
}

func TestVersionCheckerStop(t *testing.T) {
	vc := NewVersionChecker()
	vc.Stop()

	vc.Start(context.Background())
	vc.Stop()
	vc.Stop()
}

// --- Versions ---

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"2.0.0", "2.0.0-rc1", true},
		{"1.0.0", "dev", false},
	}

	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestNormalizeVersion(t *testing.T) {
	if got := normalizeVersion(" v1.2.3 "); got != "1.2.3" {
		t.Errorf("normalizeVersion() = %q, want 1.2.3", got)
	}
}
