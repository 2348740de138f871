// Package filter decides which observed files the client is willing to
// upload: an extension allow-list followed by optional rsync-style exclude
// rules.
package filter

import "strings"

// Rule represents a single include or exclude rule.
type Rule struct {
	Pattern *Pattern
	Include bool
}

// Chain holds an ordered list of rules. The first rule that matches a path
// decides; a path no rule matches is kept.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// ParseRules builds a chain from config entries. An entry is a glob, or a
// glob prefixed with "+ " (include) or "- " (exclude). Bare globs exclude.
// Blank entries and entries starting with '#' are ignored.
func ParseRules(entries []string) (*Chain, error) {
	c := NewChain()
	for _, e := range entries {
		if err := c.Add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add parses a single rule entry and appends it to the chain.
func (c *Chain) Add(entry string) error {
	line := strings.TrimSpace(entry)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "+ "):
		return c.AddInclude(strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "- "):
		return c.AddExclude(strings.TrimSpace(line[2:]))
	default:
		return c.AddExclude(line)
	}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0
}

// Match reports whether the file at relPath (slash-separated, relative to the
// watched root) should be kept.
func (c *Chain) Match(relPath string) bool {
	if c.Empty() {
		return true
	}
	for _, rule := range c.rules {
		if rule.Pattern.Match(relPath) {
			return rule.Include
		}
	}
	return true
}
