package ingest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const tmpSuffix = ".logsync-tmp"

// tmpName returns the hidden temp name an upload is streamed into before it
// is renamed to its landing path.
func tmpName(final string) string {
	return fmt.Sprintf(".%s.%s%s", final, uuid.New().String()[:8], tmpSuffix)
}

// tmpRegistry tracks in-progress temporary files so Close can remove them.
type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (r *tmpRegistry) register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]struct{})
	}
	r.paths[path] = struct{}{}
}

func (r *tmpRegistry) deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// cleanup removes every registered file.
func (r *tmpRegistry) cleanup(fs afero.Fs) {
	r.mu.Lock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	r.paths = nil
	r.mu.Unlock()

	for _, p := range paths {
		_ = fs.Remove(p)
	}
}

// RemoveStaleTemps deletes temp files left in dir by a previous run that
// stopped mid-upload. It returns the number removed.
func RemoveStaleTemps(fs afero.Fs, dir string, logger *slog.Logger) (int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := fs.Remove(path); err != nil {
			logger.Warn("cannot remove stale temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
