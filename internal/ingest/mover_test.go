package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMover_MovesImmediately(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/a.txt", []byte("data"), 0o644))
	require.NoError(t, fs.MkdirAll("/up/alpha", 0o755))

	m := &Mover{FS: fs, Attempts: 3, Backoff: time.Second, Clock: clockwork.NewFakeClock()}
	require.NoError(t, m.Move(context.Background(), "/up/a.txt", "/up/alpha/a.txt", true))

	got, err := afero.ReadFile(fs, "/up/alpha/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	exists, _ := afero.Exists(fs, "/up/a.txt")
	assert.False(t, exists)
}

func TestMover_WaitsForEmptySourceToFill(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/a.txt", nil, 0o644))
	clock := clockwork.NewFakeClock()
	m := &Mover{FS: fs, Attempts: 3, Backoff: time.Second, Clock: clock}

	done := make(chan error, 1)
	go func() { done <- m.Move(context.Background(), "/up/a.txt", "/up/b.txt", true) }()

	clock.BlockUntil(1)
	require.NoError(t, afero.WriteFile(fs, "/up/a.txt", []byte("late"), 0o644))
	clock.Advance(time.Second)

	require.NoError(t, <-done)
	got, err := afero.ReadFile(fs, "/up/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}

func TestMover_GivesUpAfterAttempts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/a.txt", nil, 0o644))
	clock := clockwork.NewFakeClock()
	m := &Mover{FS: fs, Attempts: 3, Backoff: time.Second, Clock: clock}

	done := make(chan error, 1)
	go func() { done <- m.Move(context.Background(), "/up/a.txt", "/up/b.txt", true) }()

	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}

	err := <-done
	require.ErrorIs(t, err, ErrMoveContention)
	assert.Contains(t, err.Error(), "after 3 attempts")
	exists, _ := afero.Exists(fs, "/up/a.txt")
	assert.True(t, exists, "source stays at its landing path")
}

func TestMover_EmptyUploadMovesWhenNoContentExpected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/empty.txt", nil, 0o644))
	m := &Mover{FS: fs, Attempts: 3, Backoff: time.Second, Clock: clockwork.NewFakeClock()}

	require.NoError(t, m.Move(context.Background(), "/up/empty.txt", "/up/moved.txt", false))
}

func TestMover_MissingSource(t *testing.T) {
	m := &Mover{FS: afero.NewMemMapFs(), Attempts: 1, Backoff: time.Second}
	err := m.Move(context.Background(), "/up/none.txt", "/up/b.txt", true)
	assert.ErrorIs(t, err, ErrFilesystem)
}
