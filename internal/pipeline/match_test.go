package pipeline

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		expected bool
	}{
		{"double star matches deep path", "**/c/**", "a/b/c/d/file.go", true},
		{"double star at start", "**/*.md", "docs/guide/intro.md", true},
		{"double star at end", "docs/**", "docs/api/index.md", true},
		{"literal match", "go.mod", "go.mod", true},
		{"single star in segment", "internal/auth*", "internal/auth_handler.go", true},
		{"star does not cross segments", "docs/*", "docs/api/index.md", false},
		{"infix wildcard", "release/v*.x", "release/v1.x", true},
		{"infix wildcard mismatch", "release/v*.x", "release/v1.y", false},
		{"trailing slash means directory", "docs/", "docs/a/b.md", true},
		{"leading dot slash ignored", "./docs/**", "docs/readme.md", true},
		{"no match", "**/auth/**", "api/handler.go", false},
		{"overlapping prefix and suffix", "ab*ba", "aba", false},
		{"character class", "v[0-9]*", "v1.2.0", true},
		{"character class mismatch", "v[0-9]*", "vnext", false},
		{"single character", "v?.*", "v1.2", true},
		{"alternatives", "{cmd,internal}/**", "internal/gate/gate.go", true},
		{"malformed never matches", "v[0-9", "v1", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.pattern, tc.path); got != tc.expected {
				t.Errorf("Match(%q, %q) = %v, expected %v", tc.pattern, tc.path, got, tc.expected)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"docs/**", "*.md"}
	if !MatchAny(patterns, "README.md") {
		t.Error("MatchAny should match README.md")
	}
	if MatchAny(patterns, "cmd/main.go") {
		t.Error("MatchAny should not match cmd/main.go")
	}
	if MatchAny(nil, "anything") {
		t.Error("MatchAny with no patterns should not match")
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"v*", false},
		{"v[0-9]*", false},
		{"docs/", false},
		{"{cmd,internal}/**", false},
		{"", true},
		{"  ", true},
		{"v[0-9", true},
		{"{cmd,internal", true},
	}

	for _, tc := range tests {
		t.Run(tc.pattern, func(t *testing.T) {
			if err := ValidatePattern(tc.pattern); (err != nil) != tc.wantErr {
				t.Errorf("ValidatePattern(%q) error = %v, wantErr %v", tc.pattern, err, tc.wantErr)
			}
		})
	}
}
