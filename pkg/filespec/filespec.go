// Package filespec compiles glob-like filespec strings into name matchers.
//
// A filespec matches a single entry name, never a path: '*' matches any run
// of characters, '?' matches exactly one character, every other character is
// literal (including '.'). Matching is case-insensitive and anchored to the
// whole name, so "log" does not match "changelog".
package filespec

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher is a single compiled filespec.
type Matcher struct {
	spec string
	re   *regexp.Regexp
}

// Compile translates a filespec string into a Matcher.
// Empty or blank specs are rejected.
func Compile(spec string) (Matcher, error) {
	if strings.TrimSpace(spec) == "" {
		return Matcher{}, fmt.Errorf("filespec cannot be empty or blank")
	}

	var sb strings.Builder
	// (?i) makes the whole pattern case-insensitive; ^...$ anchors it to the full name.
	sb.WriteString("(?i)^")
	for _, r := range spec {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return Matcher{}, fmt.Errorf("invalid filespec %q: %w", spec, err)
	}
	return Matcher{spec: spec, re: re}, nil
}

// Match reports whether the given entry name matches the filespec.
func (m Matcher) Match(name string) bool {
	return m.re.MatchString(name)
}

// String returns the original filespec, for logging.
func (m Matcher) String() string {
	return m.spec
}

// Set is an ordered collection of matchers with match-any semantics.
type Set struct {
	matchers []Matcher
}

// CompileSet compiles a list of filespec strings into a Set.
// A nil or empty list yields a nil Set, which callers treat as "not configured".
func CompileSet(specs []string) (*Set, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	matchers := make([]Matcher, 0, len(specs))
	for _, spec := range specs {
		m, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return &Set{matchers: matchers}, nil
}

// MatchAny reports whether the name matches at least one filespec in the set.
// A nil Set matches nothing.
func (s *Set) MatchAny(name string) bool {
	if s == nil {
		return false
	}
	for _, m := range s.matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

// Len returns the number of matchers in the set. A nil Set has length zero.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.matchers)
}

// ShouldExclude decides whether an entry name is excluded given an optional
// exclude set and an optional include set. The two are mutually exclusive by
// configuration invariant; when an exclude set is present the include set is
// never consulted.
//
//   - exclude set present: excluded iff the name matches any matcher in it.
//   - include set present: excluded iff the name matches NO matcher in it.
//   - neither present: never excluded.
func ShouldExclude(exclude, include *Set, name string) bool {
	if exclude.Len() > 0 {
		return exclude.MatchAny(name)
	}
	if include.Len() > 0 {
		return !include.MatchAny(name)
	}
	return false
}
