package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeSuffixes = map[byte]int64{ //nolint:gochecknoglobals // lookup table
	'B': 1,
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
}

// ParseSize parses sizes such as "500M", "64K" or "1048576" into bytes.
// Suffixes are case-insensitive powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	num := s
	if m, ok := sizeSuffixes[strings.ToUpper(s[len(s)-1:])[0]]; ok {
		multiplier = m
		num = s[:len(s)-1]
	}
	if num == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q", s)
		}
		return n * multiplier, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(f * float64(multiplier)), nil
}
