package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/bamsammich/logsync/internal/retry"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Mover relocates a landed upload to its destination, retrying while the
// source still looks incomplete.
type Mover struct {
	FS       afero.Fs
	Attempts int
	Backoff  time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Move renames src to dst. When expectContent is set, an empty src is taken
// as a write still in progress and the move waits Backoff before trying
// again. Rename failures are retried the same way. After Attempts tries the
// last error is returned and src is left in place.
func (m *Mover) Move(ctx context.Context, src, dst string, expectContent bool) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := retry.Config{
		MaxAttempts: m.Attempts,
		InitialWait: m.Backoff,
		Multiplier:  1,
		Clock:       m.Clock,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			metrics.RecordMoveRetry()
			logger.Warn("move not complete, retrying", "attempt", attempt, "src", src, "wait", wait, "error", err)
		},
	}

	err := retry.Do(ctx, cfg, func(context.Context) error {
		info, err := m.FS.Stat(src)
		if err != nil {
			return retry.Retryable(fmt.Errorf("%w: stat %s: %w", ErrFilesystem, src, err))
		}
		if expectContent && info.Size() == 0 {
			return retry.Retryable(ErrMoveContention)
		}
		if err := m.FS.Rename(src, dst); err != nil {
			return retry.Retryable(fmt.Errorf("%w: rename %s: %w", ErrFilesystem, src, err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("move %s to %s after %d attempts: %w", src, dst, max(m.Attempts, 1), err)
	}
	return nil
}
