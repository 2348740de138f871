package ingest

import (
	"strings"
	"time"

	"github.com/bamsammich/logsync/internal/addon"
)

// NamingOptions are the server's renaming rules. They apply regardless of
// what the client asked for.
type NamingOptions struct {
	RenameWithDate bool
	AllTxtExt      bool
}

// SplitName splits name at its first period after the first character, so
// "report.v2.txt" yields "report" and ".v2.txt". A leading period belongs to
// the base; a name without another period has an empty extension.
func SplitName(name string) (base, ext string) {
	if len(name) < 2 {
		return name, ""
	}
	i := strings.IndexByte(name[1:], '.')
	if i < 0 {
		return name, ""
	}
	return name[:i+1], name[i+1:]
}

// FinalName computes the stored name for an uploaded file. With
// RenameWithDate the date is spliced in after the base; with AllTxtExt ".txt"
// is appended after the extension.
func FinalName(original string, opts NamingOptions, now time.Time) string {
	base, ext := SplitName(SanitizeName(original))
	if opts.RenameWithDate {
		base += "_" + now.Format(addon.DateLayout)
	}
	if opts.AllTxtExt {
		ext += ".txt"
	}
	return base + ext
}

// SanitizeName flattens path separators in a client-supplied file name so the
// result is always a single path element.
func SanitizeName(name string) string {
	name = strings.NewReplacer("/", "-", "\\", "-", "\x00", "").Replace(name)
	switch name {
	case "", ".", "..":
		return "upload"
	}
	return name
}
