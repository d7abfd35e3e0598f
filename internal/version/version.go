// Package version exposes the release version embedded at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(raw)
}

// UserAgent identifies tierci to the services it talks to.
func UserAgent() string {
	return "tierci/" + Get()
}
