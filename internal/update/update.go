// Package update implements the client version-check contract: the server
// publishes a version and an artifact on GET /update, and a client running a
// different version replaces its executable and asks to be restarted.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// ErrRestartRequired is returned by Checker.Run after a new artifact has
// been installed. The process should exit so its supervisor restarts it.
var ErrRestartRequired = errors.New("update installed, restart required")

// Release is the body of GET /update.
type Release struct {
	Version string `json:"update_version"`
	File    []byte `json:"update_file"`
}

// Handler serves the configured release. It answers 404 when no version is
// configured or the artifact does not exist.
type Handler struct {
	Version string
	File    string
	FS      afero.Fs
	Logger  *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	fsys := h.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if h.Version == "" || h.File == "" {
		http.Error(w, "Update file not found", http.StatusNotFound)
		return
	}

	data, err := afero.ReadFile(fsys, h.File)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "Update file not found", http.StatusNotFound)
		return
	case err != nil:
		if h.Logger != nil {
			h.Logger.Error("cannot read update file", "path", h.File, "error", err)
		}
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Release{Version: h.Version, File: data})
}

// CheckerConfig controls the client side of the contract.
type CheckerConfig struct {
	URL      string
	Interval time.Duration
	// Current is the running version. A value go-version cannot parse, such
	// as "dev", disables checking.
	Current string
	// Target is the file replaced on update.
	Target string
	FS     afero.Fs
	Client *http.Client
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Checker polls the update endpoint.
type Checker struct {
	cfg     CheckerConfig
	current *version.Version
}

// NewChecker creates a checker, filling defaults for unset fields.
func NewChecker(cfg CheckerConfig) *Checker {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	c := &Checker{cfg: cfg}
	if v, err := version.NewVersion(cfg.Current); err == nil {
		c.current = v
	}
	return c
}

// Run checks immediately and then every Interval until ctx is done or an
// update is installed. Failed checks are logged and retried next interval.
func (c *Checker) Run(ctx context.Context) error {
	if c.current == nil {
		c.cfg.Logger.Info("update checks disabled for unversioned build", "version", c.cfg.Current)
		<-ctx.Done()
		return nil
	}

	ticker := c.cfg.Clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		installed, err := c.Check(ctx)
		switch {
		case installed:
			return ErrRestartRequired
		case err != nil && ctx.Err() == nil:
			c.cfg.Logger.Warn("update check failed", "url", c.cfg.URL, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// Check fetches the published release and installs it when its version
// differs from the running one. A 404 means nothing is published.
func (c *Checker) Check(ctx context.Context) (bool, error) {
	if c.current == nil {
		return false, nil
	}

	rel, err := c.fetch(ctx)
	if err != nil || rel == nil {
		return false, err
	}

	remote, err := version.NewVersion(rel.Version)
	if err != nil {
		return false, fmt.Errorf("published version %q: %w", rel.Version, err)
	}
	if remote.Equal(c.current) {
		c.cfg.Logger.Debug("client is up to date", "version", c.current.String())
		return false, nil
	}
	if len(rel.File) == 0 {
		return false, fmt.Errorf("release %s has an empty artifact", rel.Version)
	}

	if err := c.install(rel.File); err != nil {
		return false, err
	}
	c.cfg.Logger.Info("update installed",
		"from", c.current.String(), "to", remote.String(), "target", c.cfg.Target)
	return true, nil
}

func (c *Checker) fetch(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil //nolint:nilnil // nothing published
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch release: server responded %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}

// install writes data next to Target and renames it into place.
func (c *Checker) install(data []byte) error {
	if c.cfg.Target == "" {
		return errors.New("no update target configured")
	}
	dir := filepath.Dir(c.cfg.Target)

	tmp, err := afero.TempFile(c.cfg.FS, dir, "."+filepath.Base(c.cfg.Target)+".*.logsync-update")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = c.cfg.FS.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write update: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync update: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close update: %w", err)
	}

	mode := os.FileMode(0o755)
	if info, err := c.cfg.FS.Stat(c.cfg.Target); err == nil {
		mode = info.Mode().Perm()
	}
	if err := c.cfg.FS.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod update: %w", err)
	}
	if err := c.cfg.FS.Rename(tmpPath, c.cfg.Target); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", c.cfg.Target, err)
	}
	return nil
}
