package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatsync/internal/retention"
	"chatsync/pkg/auth"
	"chatsync/pkg/broker"
	"chatsync/pkg/config"
	"chatsync/pkg/fanout"
	"chatsync/pkg/store"
	"chatsync/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	addr      string
	version   string
	commit    string
	buildDate string

	hub      *broker.Hub
	dispatch *fanout.Dispatcher

	srv *http.Server
}

// New initializes resources that do not need a running context: config
// validation, runtime signing keys, validation rules, the store. Call
// Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, addr, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	if addr == "" {
		addr = eff.Config.Addr()
	}

	// runtime signing keys
	runtimeCfg := &config.RuntimeConfig{SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	auth.SetAllowUnsigned(eff.Config.Security.AllowUnsigned)
	auth.SetLimiter(auth.LimiterConfig{
		RPS:   eff.Config.Security.RateLimit.RPS,
		Burst: eff.Config.Security.RateLimit.Burst,
	})

	validation.SetRules(validation.Rules{
		MaxMessageBytes: int(eff.Config.Sync.MaxMessageSize),
	})

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}
	store.SetEditWindow(eff.Config.Sync.EditWindow.Std())

	hub := broker.NewHub()
	a := &App{
		eff:       eff,
		addr:      addr,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		hub:       hub,
		dispatch:  fanout.New(hub),
	}
	return a, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	cancelRetention, err := retention.Start(ctx, a.eff)
	if err != nil {
		return err
	}
	defer cancelRetention()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdownHTTP()
		return store.Close()
	case err := <-errCh:
		_ = store.Close()
		return err
	}
}
