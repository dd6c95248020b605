// cmd/barreplay replays stored bars from SQLite onto their Redis streams, so
// a chartfeed can be exercised without a live source.
//
// Usage:
//
//	go run ./cmd/barreplay --symbols=BTCUSDT,ETHUSDT --granularity=1m --speed=60
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chartcore/config"
	"chartcore/internal/logger"
	"chartcore/internal/model"
	"chartcore/internal/replay"
	redisstore "chartcore/internal/store/redis"
	sqlitestore "chartcore/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	log := logger.Init("barreplay", cfg.SlogLevel())

	symbols := flag.String("symbols", cfg.Symbol, "Comma-separated symbols to replay")
	granularity := flag.String("granularity", cfg.Granularity, "Bar granularity, e.g. 1m, 1h, 1d")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 60=1 minute per second)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	flag.Parse()

	if _, err := model.ParseGranularity(*granularity); err != nil {
		log.Error("bad granularity", slog.Any("err", err))
		os.Exit(2)
	}
	syms := parseSymbols(*symbols)
	if len(syms) == 0 {
		log.Error("no symbols given")
		os.Exit(2)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Error("sqlite open failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer reader.Close()

	writer, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Error("redis connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	barCh := make(chan model.Bar, 1000)
	go func() {
		defer close(barCh)
		if _, err := replay.New(reader).Run(ctx, syms, *granularity, *fromTS, *speed, barCh); err != nil {
			log.Warn("replay stopped", slog.Any("err", err))
		}
	}()

	published := 0
	for bar := range barCh {
		if err := writer.Append(ctx, bar); err != nil {
			log.Error("append failed", slog.String("stream", bar.StreamKey()), slog.Any("err", err))
			continue
		}
		published++
	}

	log.Info("replay complete",
		slog.Int("published", published),
		slog.Any("symbols", syms),
		slog.String("granularity", *granularity))
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
