package filter

import (
	"regexp"
	"strings"
)

// Pattern is a compiled rsync-style glob.
type Pattern struct {
	re       *regexp.Regexp
	original string
	anchored bool // leading / or an inner /
	dirOnly  bool // trailing /
}

// Compile converts an rsync-style glob into a Pattern.
//
//   - "*" matches within one path segment, "**" across segments
//   - a leading "/" anchors the pattern at the watched root
//   - a trailing "/" matches directories only; a file matches when any of
//     its parent directories does
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{original: pattern}

	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		p.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") {
		p.anchored = true
	}

	expr := globToRegex(pattern)
	if p.anchored {
		expr = "^" + expr + "$"
	} else {
		expr = "(^|/)" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	p.re = re
	return p, nil
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.original
}

// Match tests a slash-separated file path relative to the watched root.
func (p *Pattern) Match(relPath string) bool {
	if !p.dirOnly {
		return p.re.MatchString(relPath)
	}
	for dir := parentDir(relPath); dir != ""; dir = parentDir(dir) {
		if p.re.MatchString(dir) {
			return true
		}
	}
	return false
}

func parentDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// globToRegex converts a glob pattern to a regex string.
//
//nolint:gocyclo,revive // cognitive-complexity: character-by-character glob parser
func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			switch {
			case strings.HasPrefix(pattern[i:], "**/"):
				b.WriteString("(.*/)?")
				i += 3
			case strings.HasPrefix(pattern[i:], "**"):
				b.WriteString(".*")
				i += 2
			default:
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				i++
				continue
			}
			cls := pattern[i+1 : end]
			if strings.HasPrefix(cls, "!") {
				cls = "^" + cls[1:]
			}
			b.WriteString("[" + cls + "]")
			i = end + 1
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	return b.String()
}

// classEnd returns the index of the ']' closing the class opened at start,
// or -1 if it is never closed. A ']' directly after "[" or "[!" is literal.
func classEnd(pattern string, start int) int {
	j := start + 1
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	for j < len(pattern) && pattern[j] != ']' {
		j++
	}
	if j >= len(pattern) {
		return -1
	}
	return j
}
