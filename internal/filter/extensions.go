package filter

import (
	"path/filepath"
	"strings"
)

// Extensions is a case-insensitive extension allow-list. Entries carry the
// leading period (".csv").
type Extensions struct {
	allowed map[string]struct{}
}

// NewExtensions builds an allow-list. Entries without a leading period get
// one, so "csv" and ".csv" are equivalent.
func NewExtensions(exts []string) *Extensions {
	e := &Extensions{allowed: make(map[string]struct{}, len(exts))}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		e.allowed[ext] = struct{}{}
	}
	return e
}

// Allowed reports whether name's extension (the text from its last period)
// is on the list. Names without an extension are never allowed.
func (e *Extensions) Allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	_, ok := e.allowed[ext]
	return ok
}
