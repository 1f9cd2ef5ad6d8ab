// Package updatecheck looks up the latest published release and logs
// when the running build is behind. It never downloads or installs
// anything; a security gate that rewrites its own binary would be a
// bigger hole than anything it guards against.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

const (
	// Repo is the GitHub repository whose releases are checked.
	Repo = "aegis-gate/aegisgate-go"

	// DefaultInterval is the pause between background checks.
	DefaultInterval = 4 * time.Hour

	// EnvDisable turns all checks off when set to "true".
	EnvDisable = "AEGISGATE_DISABLE_UPDATE_CHECK"

	// EnvAllowPrerelease includes prereleases in the comparison when
	// set to "true".
	EnvAllowPrerelease = "AEGISGATE_ALLOW_PRERELEASE"

	httpTimeout = 10 * time.Second
)

// Release is the subset of the GitHub release payload the checker uses.
type Release struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Prerelease bool   `json:"prerelease"`
}

// Status is the cached result of the most recent check.
type Status struct {
	CurrentVersion  string     `json:"current_version"`
	LatestVersion   string     `json:"latest_version,omitempty"`
	UpdateAvailable bool       `json:"update_available"`
	ReleaseURL      string     `json:"release_url,omitempty"`
	CheckedAt       *time.Time `json:"checked_at,omitempty"`
	CheckError      string     `json:"check_error,omitempty"`
}

// FetchFunc retrieves the latest release. Swappable for tests.
type FetchFunc func(ctx context.Context) (*Release, error)

// Checker periodically compares the running version against the latest
// release. Safe for concurrent use.
type Checker struct {
	logger   *zap.Logger
	version  string
	interval time.Duration
	fetch    FetchFunc

	mu     sync.RWMutex
	status Status
}

// New builds a checker for the given build version. A non-semver
// version (dev builds) disables checking entirely.
func New(logger *zap.Logger, version string) *Checker {
	c := &Checker{
		logger:   logger,
		version:  version,
		interval: DefaultInterval,
		status:   Status{CurrentVersion: version},
	}
	c.fetch = func(ctx context.Context) (*Release, error) {
		return fetchLatest(ctx, Repo, os.Getenv(EnvAllowPrerelease) == "true")
	}
	return c
}

// SetFetchFunc replaces the release lookup. Test hook.
func (c *Checker) SetFetchFunc(fn FetchFunc) { c.fetch = fn }

// SetInterval overrides the check interval. Test hook.
func (c *Checker) SetInterval(d time.Duration) { c.interval = d }

// Start runs the background check loop until the context is canceled.
// Returns immediately when checking is disabled by environment or the
// version is not a release build.
func (c *Checker) Start(ctx context.Context) {
	if os.Getenv(EnvDisable) == "true" {
		c.logger.Info("update check disabled by environment", zap.String("env", EnvDisable))
		return
	}
	if !semver.IsValid(vPrefix(c.version)) {
		c.logger.Info("update check disabled for non-release build", zap.String("version", c.version))
		return
	}

	c.logger.Info("update check enabled",
		zap.String("version", c.version),
		zap.Duration("interval", c.interval))

	c.CheckNow(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckNow(ctx)
		}
	}
}

// CheckNow performs one check and returns the refreshed status.
func (c *Checker) CheckNow(ctx context.Context) Status {
	release, err := c.fetch(ctx)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.CheckedAt = &now
	if err != nil {
		c.status.CheckError = err.Error()
		c.logger.Debug("update check failed", zap.Error(err))
		return c.status
	}

	c.status = Status{
		CurrentVersion:  c.version,
		LatestVersion:   release.TagName,
		UpdateAvailable: semver.Compare(vPrefix(c.version), vPrefix(release.TagName)) < 0,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       &now,
	}

	if c.status.UpdateAvailable {
		c.logger.Info("newer release available",
			zap.String("current", c.version),
			zap.String("latest", release.TagName),
			zap.String("url", release.HTMLURL))
	}
	return c.status
}

// Status returns the most recent check result.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func fetchLatest(ctx context.Context, repo string, includePrerelease bool) (*Release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", repo)
	if includePrerelease {
		url = fmt.Sprintf("https://api.github.com/repos/%s/releases", repo)
	}

	client := &http.Client{Timeout: httpTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api returned status %d", resp.StatusCode)
	}

	if includePrerelease {
		var releases []Release
		if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
			return nil, fmt.Errorf("decode releases: %w", err)
		}
		if len(releases) == 0 {
			return nil, fmt.Errorf("no releases published")
		}
		return &releases[0], nil
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}

func vPrefix(version string) string {
	if version != "" && version[0] != 'v' {
		return "v" + version
	}
	return version
}
