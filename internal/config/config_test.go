package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bamsammich/logsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadClient_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.toml", `
server_url = "http://localhost:8080/upload"
key = "jhgfuesgoergb"
watch = ["/data/tool_logs"]
`)

	cfg, err := config.LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "unspecified", cfg.ToolKey)
	assert.Equal(t, 60*time.Second, cfg.CheckInterval)
	assert.Equal(t, 24*time.Hour, cfg.UploadInterval)
	assert.False(t, cfg.RenameWithDate)
	assert.False(t, cfg.UploadExistingFiles)
	assert.False(t, cfg.AllTxtExt)
	assert.Equal(t, config.DefaultAllowedExtensions, cfg.AllowedExtensions)
	assert.Equal(t, 1, cfg.UploadWorkers)
	assert.Equal(t, 0, cfg.UploadRetries)
	assert.Equal(t, "America/New_York", cfg.Timezone)
}

func TestLoadClient_Overrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.toml", `
server_url = "http://10.19.0.246:8080/upload"
key = "secret"
tool_key = "Windows_Laptop"
watch = ["C:/Users/me/Desktop/tool_log_test", "/var/log/tool"]
check_interval = "1s"
upload_interval = "3s"
upload_existing_files = true
allowed_extensions = [".csv"]
bwlimit = "1M"

[update]
url = "http://10.19.0.246:8080/update"
interval = "10m"
`)

	cfg, err := config.LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "Windows_Laptop", cfg.ToolKey)
	assert.Len(t, cfg.Watch, 2)
	assert.Equal(t, time.Second, cfg.CheckInterval)
	assert.Equal(t, 3*time.Second, cfg.UploadInterval)
	assert.True(t, cfg.UploadExistingFiles)
	assert.Equal(t, []string{".csv"}, cfg.AllowedExtensions)
	assert.Equal(t, int64(1<<20), cfg.BWLimitBytes())
	assert.Equal(t, "http://10.19.0.246:8080/update", cfg.Update.URL)
	assert.Equal(t, 10*time.Minute, cfg.Update.Interval)
}

func TestLoadClient_RelativeWatchIsAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client.toml", `
server_url = "http://localhost:8080/upload"
key = "k"
watch = ["logs", "/var/log/tool"]
`)
	t.Chdir(dir)

	cfg, err := config.LoadClient(path)
	require.NoError(t, err)

	want, err := filepath.Abs("logs")
	require.NoError(t, err)
	assert.Equal(t, []string{want, "/var/log/tool"}, cfg.Watch)
}

func TestLoadClient_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing server", `key = "k"
watch = ["/x"]`},
		{"missing key", `server_url = "http://x/upload"
watch = ["/x"]`},
		{"no watch dirs", `server_url = "http://x/upload"
key = "k"`},
		{"bad bwlimit", `server_url = "http://x/upload"
key = "k"
watch = ["/x"]
bwlimit = "lots"`},
		{"zero workers", `server_url = "http://x/upload"
key = "k"
watch = ["/x"]
upload_workers = 0`},
		{"invalid toml", `invalid [[[`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "client.toml", tt.content)
			_, err := config.LoadClient(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadClient_MissingFile(t *testing.T) {
	_, err := config.LoadClient(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadServer_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server.toml", `
upload_dir = "/srv/tool_logs"
key = "jhgfuesgoergb"
`)

	cfg, err := config.LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.RenameWithDate)
	assert.True(t, cfg.AllTxtExt)
	assert.Equal(t, int64(500<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 3, cfg.Move.Attempts)
	assert.Equal(t, time.Second, cfg.Move.Backoff)
	assert.Equal(t, filepath.Join("protected", "fname_key.txt"), cfg.LedgerFull)
	assert.Equal(t, filepath.Join("semi-protected", "small_fname_key.txt"), cfg.LedgerSmall)
	assert.Empty(t, cfg.Routes)
}

func TestLoadServer_InlineRoutesKeepOrder(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server.toml", `
upload_dir = "/srv/tool_logs"
key = "k"

[[routes]]
pattern = "/logs/"
subdir = "daily"

[[routes]]
pattern = "/exports/"
subdir = "weekly"

[[routes]]
pattern = "/"
subdir = "other"
`)

	cfg, err := config.LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, []config.Route{
		{Pattern: "/logs/", Subdir: "daily"},
		{Pattern: "/exports/", Subdir: "weekly"},
		{Pattern: "/", Subdir: "other"},
	}, cfg.Routes)
}

func TestLoadServer_RoutesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "subdir_config.json", `{"/zeta/": "z", "/alpha/": "a", "/mid/": "m"}`)
	path := writeFile(t, dir, "server.toml", `
upload_dir = "/srv/tool_logs"
key = "k"
routes_file = "subdir_config.json"
`)

	cfg, err := config.LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, []config.Route{
		{Pattern: "/zeta/", Subdir: "z"},
		{Pattern: "/alpha/", Subdir: "a"},
		{Pattern: "/mid/", Subdir: "m"},
	}, cfg.Routes)
}

func TestLoadServer_MissingRoutesFileIsFatal(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server.toml", `
upload_dir = "/srv/tool_logs"
key = "k"
routes_file = "missing.json"
`)

	_, err := config.LoadServer(path)
	assert.ErrorContains(t, err, "routes file")
}

func TestLoadServer_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing upload dir", `key = "k"`},
		{"missing key", `upload_dir = "/x"`},
		{"bad size", `upload_dir = "/x"
key = "k"
max_upload_size = "huge"`},
		{"zero attempts", `upload_dir = "/x"
key = "k"
[move]
attempts = 0`},
		{"tls cert without key", `upload_dir = "/x"
key = "k"
tls_cert = "/etc/logsync/cert.pem"`},
		{"escaping subdir", `upload_dir = "/x"
key = "k"
[[routes]]
pattern = "/logs/"
subdir = "../etc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "server.toml", tt.content)
			_, err := config.LoadServer(path)
			assert.Error(t, err)
		})
	}
}

func TestParseRoutesJSON(t *testing.T) {
	routes, err := config.ParseRoutesJSON([]byte(`{"b": "1", "a": "2"}`))
	require.NoError(t, err)
	assert.Equal(t, []config.Route{{Pattern: "b", Subdir: "1"}, {Pattern: "a", Subdir: "2"}}, routes)

	_, err = config.ParseRoutesJSON([]byte(`["not", "an", "object"]`))
	assert.Error(t, err)

	_, err = config.ParseRoutesJSON([]byte(`{"a": 1}`))
	assert.Error(t, err)

	_, err = config.ParseRoutesJSON([]byte(`{"a": "1"} {}`))
	assert.Error(t, err)
}
