package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultAllowedExtensions is the client's extension allow-list when the
// config file does not set one.
var DefaultAllowedExtensions = []string{ //nolint:gochecknoglobals // read-only default
	".txt", ".log", ".csv", ".xls", ".xlsx", ".pdf", ".doc", ".docx", ".jpg", ".png",
}

// ClientConfig is the resolved configuration of `logsync client`. It is built
// once at startup and passed by value; nothing mutates it afterwards.
type ClientConfig struct {
	ServerURL           string        `toml:"server_url"`
	Key                 string        `toml:"key"`
	ToolKey             string        `toml:"tool_key"`
	Watch               []string      `toml:"watch"`
	CheckInterval       time.Duration `toml:"check_interval"`
	UploadInterval      time.Duration `toml:"upload_interval"`
	RenameWithDate      bool          `toml:"rename_with_date"`
	UploadExistingFiles bool          `toml:"upload_existing_files"`
	AllTxtExt           bool          `toml:"all_txt_ext"`
	AllowedExtensions   []string      `toml:"allowed_extensions"`
	Exclude             []string      `toml:"exclude"`
	UploadWorkers       int           `toml:"upload_workers"`
	UploadRetries       int           `toml:"upload_retries"`
	RequestTimeout      time.Duration `toml:"request_timeout"`
	BWLimit             string        `toml:"bwlimit"`
	Timezone            string        `toml:"timezone"`
	LogLevel            string        `toml:"log_level"`
	MetricsListen       string        `toml:"metrics_listen"`
	Update              UpdateConfig  `toml:"update"`
}

// UpdateConfig controls the client's self-update check.
type UpdateConfig struct {
	URL      string        `toml:"url"`
	Interval time.Duration `toml:"interval"`
	Target   string        `toml:"target"`
}

// ServerConfig is the resolved configuration of `logsync server`.
type ServerConfig struct {
	Listen         string        `toml:"listen"`
	TLSCert        string        `toml:"tls_cert"`
	TLSKey         string        `toml:"tls_key"`
	UploadDir      string        `toml:"upload_dir"`
	Key            string        `toml:"key"`
	RenameWithDate bool          `toml:"rename_with_date"`
	AllTxtExt      bool          `toml:"all_txt_ext"`
	MaxUploadSize  string        `toml:"max_upload_size"`
	Timezone       string        `toml:"timezone"`
	LedgerFull     string        `toml:"ledger_full"`
	LedgerSmall    string        `toml:"ledger_small"`
	LogLevel       string        `toml:"log_level"`
	Metrics        bool          `toml:"metrics"`
	RoutesFile     string        `toml:"routes_file"`
	Routes         []Route       `toml:"routes"`
	Move           MoveConfig    `toml:"move"`
	Update         ReleaseConfig `toml:"update"`
}

// Route maps a substring of a client's original file path to a destination
// subdirectory.
type Route struct {
	Pattern string `toml:"pattern"`
	Subdir  string `toml:"subdir"`
}

// MoveConfig bounds the retry loop used when relocating a landed upload.
type MoveConfig struct {
	Attempts int           `toml:"attempts"`
	Backoff  time.Duration `toml:"backoff"`
}

// ReleaseConfig describes the client artifact served on GET /update.
type ReleaseConfig struct {
	Version string `toml:"version"`
	File    string `toml:"file"`
}

// DefaultClient returns the client defaults. Values set in the config file
// are decoded over these.
func DefaultClient() ClientConfig {
	return ClientConfig{
		ToolKey:           "unspecified",
		CheckInterval:     60 * time.Second,
		UploadInterval:    24 * time.Hour,
		AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		UploadWorkers:     1,
		RequestTimeout:    5 * time.Minute,
		Timezone:          "America/New_York",
		LogLevel:          "info",
		Update: UpdateConfig{
			Interval: time.Hour,
		},
	}
}

// DefaultServer returns the server defaults.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Listen:         ":8080",
		RenameWithDate: true,
		AllTxtExt:      true,
		MaxUploadSize:  "500M",
		Timezone:       "America/New_York",
		LedgerFull:     filepath.Join("protected", "fname_key.txt"),
		LedgerSmall:    filepath.Join("semi-protected", "small_fname_key.txt"),
		LogLevel:       "info",
		Metrics:        true,
		Move: MoveConfig{
			Attempts: 3,
			Backoff:  time.Second,
		},
	}
}

// LoadClient reads the client config file at path over DefaultClient and
// validates the result. Relative watch directories are resolved against the
// working directory.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	for i, dir := range cfg.Watch {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("watch %q: %w", dir, err)
		}
		cfg.Watch[i] = abs
	}
	return cfg, nil
}

// Validate reports the first problem that would keep the client from running.
func (c ClientConfig) Validate() error {
	switch {
	case c.ServerURL == "":
		return errors.New("server_url is required")
	case c.Key == "":
		return errors.New("key is required")
	case len(c.Watch) == 0:
		return errors.New("at least one watch directory is required")
	case c.CheckInterval <= 0:
		return fmt.Errorf("check_interval must be positive, got %s", c.CheckInterval)
	case c.UploadInterval <= 0:
		return fmt.Errorf("upload_interval must be positive, got %s", c.UploadInterval)
	case c.UploadWorkers < 1:
		return fmt.Errorf("upload_workers must be at least 1, got %d", c.UploadWorkers)
	case c.UploadRetries < 0:
		return fmt.Errorf("upload_retries must not be negative, got %d", c.UploadRetries)
	}
	if c.BWLimit != "" {
		if _, err := ParseSize(c.BWLimit); err != nil {
			return fmt.Errorf("bwlimit: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// BWLimitBytes returns the parsed bandwidth limit, or 0 when unlimited.
func (c ClientConfig) BWLimitBytes() int64 {
	if c.BWLimit == "" {
		return 0
	}
	n, err := ParseSize(c.BWLimit)
	if err != nil {
		return 0
	}
	return n
}

// Location returns the time zone used for date strings.
func (c ClientConfig) Location() *time.Location {
	return mustLocation(c.Timezone)
}

// LoadServer reads the server config file at path over DefaultServer, resolves
// the route table and validates the result. A routes_file that is configured
// but cannot be read is a fatal error.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}

	if cfg.RoutesFile != "" {
		if md.IsDefined("routes") {
			return ServerConfig{}, errors.New("set either routes or routes_file, not both")
		}
		routesPath := cfg.RoutesFile
		if !filepath.IsAbs(routesPath) {
			routesPath = filepath.Join(filepath.Dir(path), routesPath)
		}
		cfg.Routes, err = LoadRoutesFile(routesPath)
		if err != nil {
			return ServerConfig{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate reports the first problem that would keep the server from running.
func (c ServerConfig) Validate() error {
	switch {
	case c.UploadDir == "":
		return errors.New("upload_dir is required")
	case c.Key == "":
		return errors.New("key is required")
	case c.Move.Attempts < 1:
		return fmt.Errorf("move.attempts must be at least 1, got %d", c.Move.Attempts)
	case c.Move.Backoff < 0:
		return fmt.Errorf("move.backoff must not be negative, got %s", c.Move.Backoff)
	case (c.TLSCert == "") != (c.TLSKey == ""):
		return errors.New("tls_cert and tls_key must be set together")
	}
	if _, err := ParseSize(c.MaxUploadSize); err != nil {
		return fmt.Errorf("max_upload_size: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	for i, r := range c.Routes {
		if r.Pattern == "" {
			return fmt.Errorf("routes[%d]: pattern is required", i)
		}
		if r.Subdir == "" || strings.Contains(r.Subdir, "..") {
			return fmt.Errorf("routes[%d]: invalid subdir %q", i, r.Subdir)
		}
	}
	return nil
}

// MaxUploadBytes returns the parsed upload size cap.
func (c ServerConfig) MaxUploadBytes() int64 {
	n, err := ParseSize(c.MaxUploadSize)
	if err != nil {
		return 0
	}
	return n
}

// Location returns the time zone used for date strings.
func (c ServerConfig) Location() *time.Location {
	return mustLocation(c.Timezone)
}

// LoadRoutesFile reads a JSON object mapping path patterns to subdirectories,
// e.g. {"/logs/": "daily", "/exports/": "weekly"}. Keys keep their
// declaration order.
func LoadRoutesFile(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	routes, err := ParseRoutesJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	return routes, nil
}

// ParseRoutesJSON decodes a JSON object token by token so that the resulting
// routes follow the object's key order.
func ParseRoutesJSON(data []byte) ([]Route, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var routes []Route
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", keyTok)
		}
		var subdir string
		if err := dec.Decode(&subdir); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		routes = append(routes, Route{Pattern: key, Subdir: subdir})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after routes object")
	}
	return routes, nil
}

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
