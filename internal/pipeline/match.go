package pipeline

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether a slash-separated name matches a glob pattern.
// A "**" segment matches any number of segments, "*" and "?" match within
// one segment, and "[...]" and "{a,b}" work as in shell globs. Patterns
// ending in "/" match everything below that directory. Malformed patterns
// never match; ValidatePattern rejects them at load time.
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(normalizePattern(pattern), strings.TrimPrefix(name, "./"))
	return err == nil && ok
}

// MatchAny reports whether name matches at least one pattern.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// ValidatePattern returns an error for empty or malformed patterns such
// as an unclosed "[" or "{".
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}
	if !doublestar.ValidatePattern(normalizePattern(pattern)) {
		return fmt.Errorf("malformed pattern %q", pattern)
	}
	return nil
}

func validatePatterns(lists ...[]string) error {
	for _, list := range lists {
		for _, p := range list {
			if err := ValidatePattern(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizePattern(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "./")
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	return pattern
}
