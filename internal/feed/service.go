package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chartcore/config"
	"chartcore/internal/gateway"
	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
	"chartcore/internal/scheduler"
	"chartcore/internal/timefmt"
	redisstore "chartcore/internal/store/redis"
	sqlitestore "chartcore/internal/store/sqlite"
)

const (
	sourceSQLite = "sqlite"
	sourceRedis  = "redis"

	barChSize     = 1000
	persistChSize = 1000
	catchUpBatch  = 500
	wsReplayCap   = 500
)

// Service wires the stores, the pipeline and the HTTP surface together.
// Only the loop goroutine touches the pipeline; everything else goes through
// do.
type Service struct {
	cfg    *config.Config
	log    *slog.Logger
	pipe   *Pipeline
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server
	hub    *gateway.Hub
	sched  *scheduler.Scheduler

	redisReader *redisstore.Reader
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	// replayFrom reads a stream from an ID up to its current end.
	replayFrom func(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error)

	stream     string
	barCh      chan model.Bar
	persistCh  chan model.Bar
	reqCh      chan request
	writerDone chan struct{}
}

type request struct {
	fn   func(p *Pipeline)
	done chan struct{}
}

// New builds the pipeline from cfg and connects to SQLite and Redis.
// SQLite is optional; Redis is not.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	prec, err := cfg.Precision()
	if err != nil {
		return nil, err
	}
	gran, err := cfg.ParseGranularity()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	indConfigs, err := config.LoadIndicators(cfg.IndicatorsFile)
	if err != nil {
		return nil, err
	}
	engine, err := indicator.NewEngine(indConfigs, logger)
	if err != nil {
		return nil, err
	}

	pipe, err := NewPipeline(PipelineConfig{
		Symbol:      cfg.Symbol,
		Granularity: gran,
		Precision:   prec,
		Retain:      cfg.Retain,
	}, timefmt.New(loc), engine, logger)
	if err != nil {
		return nil, err
	}

	svc := newService(cfg, pipe, metrics.NewMetrics(), logger)

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		logger.Warn("sqlite writer init failed, live bars will not be persisted", slog.Any("err", err))
	} else {
		svc.sqlWriter.OnCommit = func(n int, took time.Duration) {
			logger.Debug("bars persisted", slog.Int("count", n), slog.Duration("took", took))
		}
		svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			logger.Warn("sqlite reader init failed, starting without history", slog.Any("err", err))
		}
	}

	// ---- Connect to Redis ----
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.closeSQLite()
		return nil, err
	}
	svc.replayFrom = svc.redisReader.ReplayFrom
	svc.redisReader.OnRead = func(n int, took time.Duration) {
		svc.prom.RedisReadDur.Observe(took.Seconds())
	}
	svc.redisReader.Breaker().OnStateChange = func(from, to redisstore.State) {
		logger.Warn("redis breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
		svc.health.SetRedisConnected(to != redisstore.StateOpen)
	}

	return svc, nil
}

// newService wires pipeline hooks to metrics and health. Stores are attached
// by the caller.
func newService(cfg *config.Config, pipe *Pipeline, prom *metrics.Metrics, logger *slog.Logger) *Service {
	svc := &Service{
		cfg:       cfg,
		log:       logger,
		pipe:      pipe,
		prom:      prom,
		health:    metrics.NewHealthStatus(cfg.Symbol, cfg.Granularity),
		stream:    model.StreamKey(cfg.Granularity, cfg.Symbol),
		barCh:     make(chan model.Bar, barChSize),
		persistCh: make(chan model.Bar, persistChSize),
		reqCh:     make(chan request),
		hub:       gateway.NewHub(wsReplayCap, logger),
		sched:     scheduler.New(logger),
	}
	svc.sched.OnRun = prom.ObserveJob
	svc.hub.OnClients = func(n int) { prom.WSClients.Set(float64(n)) }
	svc.hub.OnPublish = prom.WSPublished.Inc
	svc.hub.OnDrop = prom.WSSlowDrops.Inc

	series := pipe.Series()
	series.OnRescale = prom.ObserveRescale
	series.OnLabels = prom.ObserveLabels
	series.OnDropped = prom.ObserveDropped
	if pipe.Engine() != nil {
		pipe.Engine().OnCompute = prom.ObserveCompute
		svc.health.SetIndicatorOK(true)
	}
	pipe.OnIngest = func(source string) { prom.BarsIngested.WithLabelValues(source).Inc() }
	pipe.OnReject = func(reason string) { prom.BarsRejected.WithLabelValues(reason).Inc() }
	pipe.OnUpdate = func(last time.Time, samples int) {
		prom.SeriesSamples.Set(float64(samples))
		svc.health.SetLastBar(last, samples)
	}
	return svc
}

// Run loads history, catches up on the Redis stream, then follows it until
// ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	svc.log.Info("starting chart feed",
		slog.String("symbol", svc.cfg.Symbol),
		slog.String("granularity", svc.cfg.Granularity),
		slog.String("stream", svc.stream),
		slog.Any("indicators", svc.pipe.Engine().Names()))

	svc.server = metrics.NewServer(svc.cfg.MetricsAddr, svc.health)
	svc.registerRoutes(svc.server)
	svc.server.Start()

	svc.loadHistory()

	lastID, err := svc.catchUp(ctx)
	if err != nil {
		svc.log.Warn("redis catch-up incomplete", slog.String("last_id", lastID), slog.Any("err", err))
	}

	// ---- Start subsystems ----
	if svc.sqlWriter != nil {
		svc.writerDone = make(chan struct{})
		go func() {
			svc.sqlWriter.Run(ctx, svc.persistCh)
			close(svc.writerDone)
		}()
	}
	go func() {
		if err := svc.redisReader.Tail(ctx, svc.stream, lastID, svc.barCh); err != nil && !errors.Is(err, context.Canceled) {
			svc.log.Error("redis tail stopped", slog.Any("err", err))
		}
	}()

	if err := svc.registerJobs(); err != nil {
		svc.log.Warn("maintenance jobs disabled", slog.Any("err", err))
	}
	svc.sched.Start()

	db := svc.sqlDB()
	svc.health.SetRedisConnected(true)
	svc.health.SetSQLiteOK(db != nil)
	svc.health.StartLivenessChecker(ctx, svc.redisReader.Client(), db, 10*time.Second)

	svc.log.Info("chart feed running",
		slog.Int("samples", svc.pipe.Series().Len()),
		slog.String("tail_from", lastID))

	svc.loop(ctx)

	svc.shutdown()
	return nil
}

const jobPrune = "prune"

// registerJobs schedules the SQLite retention job when a writer is open and
// PRUNE_KEEP_DAYS is positive.
func (svc *Service) registerJobs() error {
	if svc.sqlWriter == nil || svc.cfg.PruneKeepDays <= 0 {
		return nil
	}
	return svc.sched.Add(jobPrune, svc.cfg.PruneSchedule, svc.prune)
}

// prune deletes stored buckets older than the keep window.
func (svc *Service) prune() error {
	cutoff := time.Now().UTC().AddDate(0, 0, -svc.cfg.PruneKeepDays)
	n, err := svc.sqlWriter.Prune(svc.cfg.Symbol, svc.cfg.Granularity, cutoff)
	if err != nil {
		return err
	}
	svc.prom.BarsPruned.Add(float64(n))
	svc.log.Info("pruned stored bars", slog.Int64("rows", n), slog.Time("before", cutoff))
	return nil
}

// loadHistory fills the series from SQLite.
func (svc *Service) loadHistory() {
	if svc.sqlReader == nil {
		return
	}
	start := time.Now()
	var (
		bars []model.Bar
		err  error
	)
	if svc.cfg.Retain > 0 {
		bars, err = svc.sqlReader.ReadLatest(svc.cfg.Symbol, svc.cfg.Granularity, svc.cfg.Retain)
	} else {
		bars, err = svc.sqlReader.ReadBuckets(svc.cfg.Symbol, svc.cfg.Granularity, 0)
	}
	svc.prom.SQLiteReadDur.Observe(time.Since(start).Seconds())
	if err != nil {
		svc.log.Warn("sqlite history load failed", slog.Any("err", err))
		return
	}
	n := svc.pipe.Load(bars, sourceSQLite)
	svc.log.Info("history loaded", slog.Int("bars", len(bars)), slog.Int("appended", n),
		slog.Duration("took", time.Since(start)))
}

// catchUp replays the whole Redis stream; bars older than the history are
// skipped by the series. Accepted bars are written to SQLite directly, since
// the background writer is not running yet. Returns the stream ID to tail
// from.
func (svc *Service) catchUp(ctx context.Context) (string, error) {
	replayCh := make(chan model.Bar, barChSize)
	var (
		lastID    = "0"
		replayErr error
	)
	go func() {
		lastID, replayErr = svc.replayFrom(ctx, svc.stream, "0", replayCh)
		close(replayCh)
	}()

	batch := make([]model.Bar, 0, catchUpBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.sqlWriter.InsertBatch(batch); err != nil {
			svc.log.Warn("catch-up batch not stored", slog.Int("bars", len(batch)), slog.Any("err", err))
		}
		batch = batch[:0]
	}

	appended := 0
	for bar := range replayCh {
		if svc.pipe.Ingest(bar, sourceRedis) != nil {
			continue
		}
		appended++
		if svc.sqlWriter == nil {
			continue
		}
		batch = append(batch, svc.pipe.Align(bar))
		if len(batch) >= catchUpBatch {
			flush()
		}
	}
	flush()
	svc.pipe.Settle()

	if appended > 0 {
		svc.log.Info("caught up from redis stream", slog.Int("bars", appended))
	}
	return lastID, replayErr
}

// loop is the only goroutine that touches the pipeline after startup.
func (svc *Service) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-svc.barCh:
			svc.ingestLive(bar)
		case req := <-svc.reqCh:
			req.fn(svc.pipe)
			close(req.done)
		}
	}
}

func (svc *Service) ingestLive(bar model.Bar) {
	ctx := logger.WithTraceID(context.Background(), logger.GenerateTraceID(bar.Symbol, bar.Granularity, bar.TS))
	trace := logger.LogWithTrace(ctx)

	if err := svc.pipe.Ingest(bar, sourceRedis); err != nil {
		svc.log.Warn("live bar rejected", append(trace, slog.Any("err", err))...)
		return
	}
	svc.pipe.Settle()
	svc.persist(svc.pipe.Align(bar))
	svc.publishLast()
	svc.log.Debug("live bar applied", append(trace, slog.Int("samples", svc.pipe.Series().Len()))...)
}

// publishLast pushes the newest sample to websocket clients. Loop goroutine
// only.
func (svc *Service) publishLast() {
	if last := svc.pipe.Series().Last(); last != nil {
		svc.publishSample(last)
	}
}

func (svc *Service) publishSample(s *model.Sample) {
	if _, err := svc.hub.Publish("sample", NewSampleView(s)); err != nil {
		svc.log.Warn("ws publish failed", slog.Any("err", err))
	}
}

func (svc *Service) persist(bar model.Bar) {
	if svc.sqlWriter == nil {
		return
	}
	select {
	case svc.persistCh <- bar:
	default:
		svc.log.Warn("persist queue full, bar not stored", slog.Time("ts", bar.TS))
	}
}

// do runs fn on the loop goroutine and waits for it. Once the loop has taken
// the request, do waits for fn to finish even if ctx is cancelled, so fn
// never writes to a caller that has already returned.
func (svc *Service) do(ctx context.Context, fn func(p *Pipeline)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case svc.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// Reload swaps the indicator set from configs. Safe to call from any goroutine
// while Run is active.
func (svc *Service) Reload(ctx context.Context, configs []indicator.IndicatorConfig) (added, removed []string, err error) {
	if derr := svc.do(ctx, func(p *Pipeline) {
		added, removed, err = p.Reload(configs)
		if err == nil {
			svc.publishLast()
		}
	}); derr != nil {
		return nil, nil, derr
	}
	switch {
	case err != nil:
		svc.prom.IndicatorReloads.WithLabelValues("error").Inc()
	case len(added) == 0 && len(removed) == 0:
		svc.prom.IndicatorReloads.WithLabelValues("unchanged").Inc()
	default:
		svc.prom.IndicatorReloads.WithLabelValues("ok").Inc()
	}
	return added, removed, err
}

// ReloadFile re-reads the configured indicator file and reloads.
func (svc *Service) ReloadFile(ctx context.Context) error {
	configs, err := config.LoadIndicators(svc.cfg.IndicatorsFile)
	if err != nil {
		svc.prom.IndicatorReloads.WithLabelValues("error").Inc()
		return err
	}
	if _, _, err := svc.Reload(ctx, configs); err != nil {
		return fmt.Errorf("reload %s: %w", svc.cfg.IndicatorsFile, err)
	}
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown stops the HTTP server and closes connections.
func (svc *Service) shutdown() {
	svc.log.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if svc.server != nil {
		svc.server.Stop(shutCtx)
	}
	svc.hub.Close()
	svc.sched.Stop()

	if svc.writerDone != nil {
		select {
		case <-svc.writerDone:
		case <-shutCtx.Done():
			svc.log.Warn("sqlite writer did not finish flushing")
		}
	}
	svc.closeSQLite()
	if svc.redisReader != nil {
		svc.redisReader.Close()
	}
	svc.log.Info("shutdown complete")
}

func (svc *Service) closeSQLite() {
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
}
