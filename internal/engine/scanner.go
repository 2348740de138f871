package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrDirectoryUnavailable is matched by errors returned when a watched root
// cannot be read.
var ErrDirectoryUnavailable = errors.New("directory unavailable")

// DirectoryUnavailableError reports a watched root that does not exist, is not
// a directory or cannot be listed.
type DirectoryUnavailableError struct {
	Root string
	Err  error
}

func (e *DirectoryUnavailableError) Error() string {
	return fmt.Sprintf("watch root %s: %v", e.Root, e.Err)
}

func (e *DirectoryUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDirectoryUnavailable) true.
func (e *DirectoryUnavailableError) Is(target error) bool {
	return target == ErrDirectoryUnavailable
}

// Scanner walks a watched root and records every regular file below it.
// Symbolic links are skipped, never followed. A root that is itself a link
// to a directory is resolved once.
type Scanner struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewScanner creates a scanner over fs. A nil fs uses the OS filesystem and a
// nil logger uses slog.Default().
func NewScanner(fs afero.Fs, logger *slog.Logger) *Scanner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{fs: fs, logger: logger}
}

// Scan returns the files under root sorted by path. A relative root is
// resolved against the working directory so every record's Path is
// absolute. Errors on entries below the root are logged at debug level and
// the entry is skipped.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileRecord, error) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, &DirectoryUnavailableError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DirectoryUnavailableError{Root: root, Err: fmt.Errorf("%s is not a directory", root)}
	}

	var recs []FileRecord
	if err := s.scanDir(ctx, root, "", &recs); err != nil {
		return nil, err
	}
	sortRecords(recs)
	return recs, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir, rel string, recs *[]FileRecord) error {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if rel == "" {
			return &DirectoryUnavailableError{Root: dir, Err: err}
		}
		s.logger.Debug("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		entryPath := filepath.Join(dir, entry.Name())
		mode := entry.Mode()

		switch {
		case mode&os.ModeSymlink != 0:
			s.logger.Debug("skipping symlink", "path", entryPath)

		case mode.IsDir():
			if err := s.scanDir(ctx, entryPath, path.Join(rel, entry.Name()), recs); err != nil {
				return err
			}

		case mode.IsRegular():
			*recs = append(*recs, FileRecord{
				Name:    entry.Name(),
				Path:    entryPath,
				Dir:     rel,
				ModTime: entry.ModTime(),
				Size:    entry.Size(),
			})
		}
	}
	return nil
}
