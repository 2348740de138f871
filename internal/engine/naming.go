package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/bamsammich/logsync/internal/addon"
)

// NamingOptions controls the name a file is uploaded under. Both options are
// normally left off so the server decides the final name.
type NamingOptions struct {
	RenameWithDate bool
	AllTxtExt      bool
}

// UploadName derives the multipart filename for rec. Directories between the
// watched root and the file are prefixed, joined with '-'. With
// RenameWithDate the date goes in front of the stem; the extension is the
// text from the last period.
func UploadName(rec FileRecord, opts NamingOptions, now time.Time) string {
	name := rec.Name
	if prefix := dirPrefix(rec.Dir); prefix != "" {
		name = prefix + "-" + name
	}
	if opts.RenameWithDate {
		ext := filepath.Ext(rec.Name)
		name = now.Format(addon.DateLayout) + "_" + strings.TrimSuffix(name, ext) + ext
	}
	if opts.AllTxtExt {
		name += ".txt"
	}
	return name
}

func dirPrefix(dir string) string {
	var parts []string
	for _, p := range strings.FieldsFunc(dir, isSeparator) {
		if p != "." {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
