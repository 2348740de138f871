package engine

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger
// shared by several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// count returns the number of log lines containing msg.
func (b *syncBuffer) count(msg string) int {
	return strings.Count(b.String(), msg)
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// writeFile creates path on fs with the given content and modification time.
func writeFile(t *testing.T, fs afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

// recordingUploader records every task it is asked to send.
type recordingUploader struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	delay time.Duration
}

func (u *recordingUploader) Send(_ context.Context, task UploadTask) (Receipt, error) {
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = append(u.sent, task.Record.Path)
	if u.fail[task.Record.Path] {
		return Receipt{}, &UploadError{Path: task.Record.Path, StatusCode: 500, Err: ErrUploadRejected}
	}
	return Receipt{Name: task.Record.Name}, nil
}

func (u *recordingUploader) paths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.sent...)
}
