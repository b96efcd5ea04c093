package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds runtime key sets for use by other packages.
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig holds store settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// SigningKeys verify the HMAC user signature on every request.
	SigningKeys []string `yaml:"signing_keys"`
	// AllowUnsigned lets unsigned identities through; test/dev only.
	AllowUnsigned bool `yaml:"allow_unsigned"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	// EditWindow bounds author edits/deletes relative to creation time.
	EditWindow Duration `yaml:"edit_window"`
	// DefaultPageSize / MaxPageSize bound keyset pagination requests.
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
	// MaxMessageSize accepts humanized values ("4 KiB").
	MaxMessageSize Size `yaml:"max_message_size"`
	// Liveness fallback tuning advertised to clients.
	IdleResyncBase Duration `yaml:"idle_resync_base"`
	IdleResyncMax  Duration `yaml:"idle_resync_max"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig holds configuration for the version compaction runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Keep is how long historical message versions are retained. The
	// canonical rows are never touched.
	Keep   Duration `yaml:"keep"`
	DryRun bool     `yaml:"dry_run"`
}

// Duration is a yaml-parsable time.Duration ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Size is a yaml-parsable byte size ("64 KiB", "1 MB", or a plain number).
type Size uint64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*s = 0
		return nil
	}
	v, err := parseSize(raw)
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}
