package app

import (
	"context"
	"net/http"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/api/handlers"
	"chatsync/pkg/banner"
	"chatsync/pkg/logger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.addr, a.eff.DBPath, verStr)
}

// startHTTP builds the handler, starts the HTTP server in a goroutine
// and returns a channel that will carry any server error.
func (a *App) startHTTP() <-chan error {
	h := api.Handler(handlers.Deps{
		Hub:             a.hub,
		Dispatch:        a.dispatch,
		DefaultPageSize: a.eff.Config.Sync.DefaultPageSize,
		MaxPageSize:     a.eff.Config.Sync.MaxPageSize,
	}, api.Options{
		AllowedOrigins:  a.eff.Config.Security.CORS.AllowedOrigins,
		DefaultPageSize: a.eff.Config.Sync.DefaultPageSize,
		MaxPageSize:     a.eff.Config.Sync.MaxPageSize,
	})

	a.srv = &http.Server{Addr: a.addr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

func (a *App) shutdownHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown", "error", err.Error())
	}
}
