package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-dbmeter/internal/types"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

const (
	releaseRepo     = "oszuidwest/zwfm-dbmeter"
	releaseAPI      = "https://api.github.com"
	releaseFirst    = 30 * time.Second
	releaseEvery    = 24 * time.Hour
	releaseTimeout  = 15 * time.Second
	releaseAttempts = 3
)

// errReleaseUnavailable marks a lookup that may succeed when tried again later.
var errReleaseUnavailable = errors.New("release information unavailable")

// VersionChecker polls GitHub for the newest published release so the web
// interface can hint at updates. It is safe for concurrent use.
type VersionChecker struct {
	endpoint string
	client   *http.Client
	retry    *util.Backoff

	mu     sync.RWMutex
	latest string
	etag   string
	cancel context.CancelFunc
}

// NewVersionChecker returns an idle VersionChecker. Call Start to begin polling.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		endpoint: releaseAPI + "/repos/" + releaseRepo + "/releases/latest",
		client:   &http.Client{Timeout: releaseTimeout},
		retry:    util.NewBackoff(time.Minute, 4*time.Minute),
	}
}

// Start polls in the background until ctx is done or Stop is called.
func (vc *VersionChecker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	vc.mu.Lock()
	vc.cancel = cancel
	vc.mu.Unlock()

	go vc.poll(ctx)
}

// Stop ends background polling. It may be called more than once, or without Start.
func (vc *VersionChecker) Stop() {
	vc.mu.RLock()
	cancel := vc.cancel
	vc.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

func (vc *VersionChecker) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := releaseFirst
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		vc.refresh(ctx)
		wait = releaseEvery
	}
}

// refresh looks up the latest release, retrying transient failures with backoff.
func (vc *VersionChecker) refresh(ctx context.Context) {
	vc.retry.Reset()
	for attempt := 1; ; attempt++ {
		err := vc.lookup(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errReleaseUnavailable) || attempt == releaseAttempts {
			slog.Debug("release lookup failed", "attempt", attempt, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(vc.retry.Next()):
		}
	}
}

// lookup fetches the latest release once. Errors wrapping errReleaseUnavailable
// are worth retrying; a repository without releases is not an error.
func (vc *VersionChecker) lookup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-dbmeter/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errReleaseUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only response body

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", errReleaseUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// The latest-release endpoint never returns drafts or prereleases.
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("%w: %w", errReleaseUnavailable, err)
	}
	if release.TagName == "" {
		return fmt.Errorf("%w: release without tag", errReleaseUnavailable)
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the running build and, once known, the latest release.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	return types.VersionInfo{
		Current:     current,
		Latest:      latest,
		UpdateAvail: latest != "" && isNewerVersion(latest, current),
		Commit:      Commit,
		BuildTime:   BuildTime,
	}
}

// normalizeVersion strips whitespace and a leading "v".
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is a newer semantic version than current.
// Development builds never report an update.
func isNewerVersion(latest, current string) bool {
	l, c := "v"+normalizeVersion(latest), "v"+normalizeVersion(current)
	return semver.IsValid(c) && semver.Compare(l, c) > 0
}
