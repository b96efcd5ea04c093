package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	eff, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over env and file values
	addr := eff.Config.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	if setFlags["db"] || eff.DBPath == "" {
		eff.DBPath = dbVal
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, addr, version, commit, buildDate)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exit", "error", err.Error())
		os.Exit(1)
	}
}
