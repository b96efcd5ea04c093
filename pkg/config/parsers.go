package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// parseSize parses a humanized byte size ("64 KiB", "1 MB", "4096").
func parseSize(s string) (uint64, error) {
	v, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}

// envString returns the env value for key or def when unset/empty.
func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envList splits a comma-separated env var into trimmed entries.
func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// envDuration parses a duration env var, returning def on absence or error.
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

// ParseCommandFlags registers and parses the daemon's command-line flags.
// It returns the raw values plus a set of flags the user explicitly set so
// callers can let flags win over file/env values.
func ParseCommandFlags() (addr, dbPath, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "./data", "path to the pebble database")
	cfgFlag := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: explicit flag first, then
// CHATSYNC_CONFIG, then ./config.yaml when it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := strings.TrimSpace(os.Getenv("CHATSYNC_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}
