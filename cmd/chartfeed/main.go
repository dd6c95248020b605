// cmd/chartfeed loads a symbol's bar history from SQLite, follows its Redis
// stream, and keeps the chart series, with precision, time labels and
// indicators, current. The series is served on /series and pushed live on
// /ws, next to /metrics and /healthz. Stored bars older than PRUNE_KEEP_DAYS
// are deleted on PRUNE_SCHEDULE.
//
// SIGHUP re-reads INDICATORS_FILE.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chartcore/config"
	"chartcore/internal/feed"
	"chartcore/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Init("chartfeed", cfg.SlogLevel())

	svc, err := feed.New(cfg, log)
	if err != nil {
		log.Error("init failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig != syscall.SIGHUP {
				cancel()
				return
			}
			log.Info("SIGHUP received, reloading indicators", slog.String("file", cfg.IndicatorsFile))
			if err := svc.ReloadFile(ctx); err != nil {
				log.Error("indicator reload failed", slog.Any("err", err))
			}
		}
	}()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}
