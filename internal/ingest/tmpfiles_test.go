package ingest

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTmpName(t *testing.T) {
	name := tmpName("report_2024-05-01_10-00-00.log.txt")
	assert.True(t, strings.HasPrefix(name, ".report_2024-05-01_10-00-00.log.txt."))
	assert.True(t, strings.HasSuffix(name, tmpSuffix))
	assert.NotEqual(t, name, tmpName("report_2024-05-01_10-00-00.log.txt"))
}

func TestRemoveStaleTemps(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/"+tmpName("a.txt"), []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/up/"+tmpName("b.txt"), []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/up/keep.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/up/.hidden", []byte("x"), 0o644))
	require.NoError(t, fs.MkdirAll("/up/alpha", 0o755))

	n, err := RemoveStaleTemps(fs, "/up", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := afero.ReadDir(fs, "/up")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep.txt", ".hidden", "alpha"}, names)
}

func TestRemoveStaleTemps_MissingDir(t *testing.T) {
	_, err := RemoveStaleTemps(afero.NewMemMapFs(), "/nope", slog.Default())
	assert.Error(t, err)
}

func TestTmpRegistry_Cleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/up/.a.tmp", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/up/.b.tmp", nil, 0o644))

	var r tmpRegistry
	r.register("/up/.a.tmp")
	r.register("/up/.b.tmp")
	r.deregister("/up/.b.tmp")
	r.cleanup(fs)

	exists, _ := afero.Exists(fs, "/up/.a.tmp")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, "/up/.b.tmp")
	assert.True(t, exists, "deregistered files are left alone")
}
