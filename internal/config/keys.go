package config

import (
	"net/url"
	"os"
	"strings"
)

// DSNSource represents where the state DSN was loaded from.
type DSNSource string

const (
	DSNSourceEnv     DSNSource = "environment"
	DSNSourceConfig  DSNSource = "config_file"
	DSNSourceDefault DSNSource = "default"
)

// GetDSNSource returns where the state DSN was sourced from.
func GetDSNSource(cfg *Config) DSNSource {
	if os.Getenv("TIERCI_STATE_DSN") != "" || os.Getenv("DATABASE_URL") != "" {
		return DSNSourceEnv
	}
	if cfg != nil && cfg.State.DSN != "" && cfg.State.DSN != Default().State.DSN {
		return DSNSourceConfig
	}
	return DSNSourceDefault
}

// MaskDSN hides the password of a connection string for display.
// Plain file paths are returned unchanged.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	if !strings.Contains(dsn, "://") {
		return maskKeywordDSN(dsn)
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	pw, ok := u.User.Password()
	if !ok || pw == "" {
		return dsn
	}
	return strings.Replace(dsn, ":"+pw+"@", ":***@", 1)
}

// maskKeywordDSN masks password=... in "key=value" connection strings.
func maskKeywordDSN(dsn string) string {
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}
