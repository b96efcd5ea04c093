package app

import (
	"fmt"
	"os"

	"chatsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or storage.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if len(eff.Config.Security.SigningKeys) == 0 && !eff.Config.Security.AllowUnsigned {
		return fmt.Errorf("no signing keys configured: set security.signing_keys, CHATSYNC_SIGNING_KEYS, or security.allow_unsigned for development")
	}

	if eff.Config.Sync.EditWindow.Std() <= 0 {
		return fmt.Errorf("sync.edit_window must be positive")
	}
	if eff.Config.Sync.MaxPageSize < eff.Config.Sync.DefaultPageSize {
		return fmt.Errorf("sync.max_page_size must be >= sync.default_page_size")
	}

	return nil
}
