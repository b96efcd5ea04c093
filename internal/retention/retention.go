// Package retention schedules version compaction: superseded message
// versions older than the keep period are dropped while every canonical
// row stays intact.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

// Start starts the compaction scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "keep", ret.Keep.Std().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, ret, cronExpr)
	return cancel, nil
}

// RunOnce triggers a single compaction run; admin triggers and tests
// use this directly.
func RunOnce(ret config.RetentionConfig) (int, error) {
	return store.CompactVersions(ret.Keep.Std(), ret.DryRun)
}

// runScheduler computes the next tick for the configured cron expression
// with gronx and sleeps until then.
func runScheduler(ctx context.Context, ret config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			n, err := RunOnce(ret)
			if err != nil {
				logger.Error("retention_run_error", "error", err)
				continue
			}
			logger.Info("retention_run_done", "compacted", n, "dry_run", ret.DryRun)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
