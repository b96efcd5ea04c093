package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// EffectiveConfigResult is the merged file+env configuration handed to the
// rest of the process.
type EffectiveConfigResult struct {
	Config  Config
	DBPath  string
	EnvUsed []string
}

// LoadEffective reads the YAML config (when path is non-empty) and applies
// env overrides on top. File values lose to env; flags are applied by the
// caller afterwards and win over both.
func LoadEffective(path string) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return res, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	// env overrides
	if v := envString("CHATSYNC_ADDR", ""); v != "" {
		res.EnvUsed = append(res.EnvUsed, "CHATSYNC_ADDR")
		var host string
		var port int
		if n, perr := fmt.Sscanf(v, "%[^:]:%d", &host, &port); perr == nil && n == 2 {
			cfg.Server.Address = host
			cfg.Server.Port = port
		}
	}
	if v := envString("CHATSYNC_DB_PATH", ""); v != "" {
		res.EnvUsed = append(res.EnvUsed, "CHATSYNC_DB_PATH")
		cfg.Storage.DBPath = v
	}
	if ks := envList("CHATSYNC_SIGNING_KEYS"); len(ks) > 0 {
		res.EnvUsed = append(res.EnvUsed, "CHATSYNC_SIGNING_KEYS")
		cfg.Security.SigningKeys = ks
	}
	if v := envString("CHATSYNC_LOG_LEVEL", ""); v != "" {
		res.EnvUsed = append(res.EnvUsed, "CHATSYNC_LOG_LEVEL")
		cfg.Logging.Level = v
	}
	if v := envDuration("CHATSYNC_EDIT_WINDOW", 0); v != 0 {
		res.EnvUsed = append(res.EnvUsed, "CHATSYNC_EDIT_WINDOW")
		cfg.Sync.EditWindow = Duration(v)
	}

	res.Config = cfg
	res.DBPath = cfg.Storage.DBPath
	return res, nil
}

func defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Sync.EditWindow == 0 {
		cfg.Sync.EditWindow = Duration(60 * time.Second)
	}
	if cfg.Sync.DefaultPageSize == 0 {
		cfg.Sync.DefaultPageSize = 50
	}
	if cfg.Sync.MaxPageSize == 0 {
		cfg.Sync.MaxPageSize = 200
	}
	if cfg.Sync.MaxMessageSize == 0 {
		cfg.Sync.MaxMessageSize = 16 * 1024
	}
	if cfg.Sync.IdleResyncBase == 0 {
		cfg.Sync.IdleResyncBase = Duration(15 * time.Second)
	}
	if cfg.Sync.IdleResyncMax == 0 {
		cfg.Sync.IdleResyncMax = Duration(5 * time.Minute)
	}
	if cfg.Security.RateLimit.RPS == 0 {
		cfg.Security.RateLimit.RPS = 20
	}
	if cfg.Security.RateLimit.Burst == 0 {
		cfg.Security.RateLimit.Burst = 40
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 2 * * *"
	}
	if cfg.Retention.Keep == 0 {
		cfg.Retention.Keep = Duration(30 * 24 * time.Hour)
	}
}
