package ingest

import (
	"path/filepath"
	"regexp"
	"strings"
)

var toolPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Route sends uploads whose original path contains Pattern to Subdir.
type Route struct {
	Pattern string
	Subdir  string
}

// Routes is an ordered route table. The first matching route wins.
type Routes []Route

// Match returns the subdirectory of the first route whose pattern is a
// substring of originalPath. Backslashes in originalPath are treated as
// forward slashes.
func (rs Routes) Match(originalPath string) (string, bool) {
	p := strings.ReplaceAll(originalPath, `\`, "/")
	for _, r := range rs {
		if strings.Contains(p, r.Pattern) {
			return r.Subdir, true
		}
	}
	return "", false
}

// ValidTool reports whether tool may be used as a directory name.
func ValidTool(tool string) bool {
	return toolPattern.MatchString(tool)
}

// Destination returns the directory an upload belongs in:
// root/tool/subdir, or root/tool when no route matches. ok is false when the
// tool identifier is not usable, in which case the upload stays in root.
func (rs Routes) Destination(root, tool, originalPath string) (dir string, ok bool) {
	if !ValidTool(tool) {
		return root, false
	}
	if subdir, matched := rs.Match(originalPath); matched {
		return filepath.Join(root, tool, filepath.FromSlash(subdir)), true
	}
	return filepath.Join(root, tool), true
}
