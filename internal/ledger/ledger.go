// Package ledger appends a record of every stored upload to two files: a
// full projection and a reduced one for lower-privilege viewers.
//
// Each entry is written as ",\n" followed by the record indented with four
// spaces. The files are therefore not JSON on their own; Parse strips the
// leading comma and wraps the content in brackets.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bamsammich/logsync/internal/addon"
	"github.com/spf13/afero"
)

const separator = ",\n"

// Ledger appends entries to the full and small ledger files. Appends are
// serialized, so concurrent uploads never interleave within a file.
type Ledger struct {
	FullPath  string
	SmallPath string

	fs afero.Fs
	mu sync.Mutex
}

// New creates a ledger writing through fs. A nil fs uses the OS filesystem.
func New(fs afero.Fs, fullPath, smallPath string) *Ledger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Ledger{FullPath: fullPath, SmallPath: smallPath, fs: fs}
}

// Append writes d's full projection to FullPath and its small projection to
// SmallPath. Missing parent directories are created. Both files are
// attempted even if the first fails.
func (l *Ledger) Append(d addon.Data) error {
	full, err := Encode(d.Full())
	if err != nil {
		return err
	}
	small, err := Encode(d.Small())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return errors.Join(
		l.appendFile(l.FullPath, full),
		l.appendFile(l.SmallPath, small),
	)
}

// Encode renders one ledger entry, separator included. '&', '<' and '>' are
// written as-is, not as \u escapes.
func Encode(record any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(separator)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode ledger entry: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (l *Ledger) appendFile(path string, entry []byte) error {
	if path == "" {
		return nil
	}
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", path, err)
	}
	if _, err := f.Write(entry); err != nil {
		f.Close()
		return fmt.Errorf("append ledger %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger %s: %w", path, err)
	}
	return nil
}

// Parse reads a ledger file and returns its entries in order.
func Parse(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte(","))

	wrapped := make([]byte, 0, len(data)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, ']')

	var entries []json.RawMessage
	if err := json.Unmarshal(wrapped, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return entries, nil
}

// ParseFile opens path on fs and parses it.
func ParseFile(fs afero.Fs, path string) ([]json.RawMessage, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
