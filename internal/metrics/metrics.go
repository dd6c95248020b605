package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart feed.
type Metrics struct {
	// Ingest
	BarsIngested  *prometheus.CounterVec // labels: source=sqlite|redis
	BarsRejected  *prometheus.CounterVec // labels: reason=invalid|out_of_order
	SQLiteReadDur prometheus.Histogram
	RedisReadDur  prometheus.Histogram

	// Series
	SeriesSamples   prometheus.Gauge
	SamplesDropped  prometheus.Counter
	RescalePasses   prometheus.Counter
	SamplesRescaled prometheus.Counter
	RescaleDur      prometheus.Histogram
	LabelRebuilds   prometheus.Counter

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorsTotal     prometheus.Counter
	IndicatorReloads    *prometheus.CounterVec // labels: result=ok|error|unchanged

	// Live push
	WSClients   prometheus.Gauge
	WSPublished prometheus.Counter
	WSSlowDrops prometheus.Counter

	// Maintenance
	BarsPruned prometheus.Counter
	JobRuns    *prometheus.CounterVec // labels: job, result=ok|error
}

// NewMetrics registers and returns all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_bars_ingested_total",
			Help: "Bars turned into samples (by source)",
		}, []string{"source"}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_bars_rejected_total",
			Help: "Bars that could not be appended (by reason)",
		}, []string{"reason"}),
		SQLiteReadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_sqlite_read_duration_seconds",
			Help:    "SQLite history load latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisReadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_redis_read_duration_seconds",
			Help:    "Redis stream read latency",
			Buckets: prometheus.DefBuckets,
		}),

		SeriesSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartfeed_series_samples",
			Help: "Samples currently held by the series",
		}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_samples_dropped_total",
			Help: "Samples dropped by the retention window",
		}),
		RescalePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_rescale_passes_total",
			Help: "Precision changes applied to the series",
		}),
		SamplesRescaled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_samples_rescaled_total",
			Help: "Samples whose values changed during a precision pass",
		}),
		RescaleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_rescale_duration_seconds",
			Help:    "Time to apply a precision change to the whole series",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		LabelRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_label_rebuilds_total",
			Help: "Samples whose time labels were rebuilt",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartfeed_indicator_compute_duration_seconds",
			Help:    "Indicator pass latency over the series",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_indicators_total",
			Help: "Total indicator value sets attached to samples",
		}),
		IndicatorReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_indicator_reloads_total",
			Help: "Indicator set reloads (by result)",
		}, []string{"result"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartfeed_ws_clients",
			Help: "Connected websocket clients",
		}),
		WSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_ws_published_total",
			Help: "Envelopes published to websocket clients",
		}),
		WSSlowDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_ws_slow_drops_total",
			Help: "Envelopes dropped because a client's send queue was full",
		}),

		BarsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartfeed_bars_pruned_total",
			Help: "Stored buckets deleted by the retention job",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartfeed_job_runs_total",
			Help: "Scheduled job runs (by job and result)",
		}, []string{"job", "result"}),
	}

	reg.MustRegister(
		m.BarsIngested,
		m.BarsRejected,
		m.SQLiteReadDur,
		m.RedisReadDur,
		m.SeriesSamples,
		m.SamplesDropped,
		m.RescalePasses,
		m.SamplesRescaled,
		m.RescaleDur,
		m.LabelRebuilds,
		m.IndicatorComputeDur,
		m.IndicatorsTotal,
		m.IndicatorReloads,
		m.WSClients,
		m.WSPublished,
		m.WSSlowDrops,
		m.BarsPruned,
		m.JobRuns,
	)

	return m
}

// ObserveRescale matches chart.Series.OnRescale.
func (m *Metrics) ObserveRescale(changed int, took time.Duration) {
	m.RescalePasses.Inc()
	m.SamplesRescaled.Add(float64(changed))
	m.RescaleDur.Observe(took.Seconds())
}

// ObserveJob matches scheduler.Scheduler.OnRun.
func (m *Metrics) ObserveJob(name string, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(name, result).Inc()
}

// ObserveLabels matches chart.Series.OnLabels.
func (m *Metrics) ObserveLabels(rebuilt int) {
	m.LabelRebuilds.Add(float64(rebuilt))
}

// ObserveDropped matches chart.Series.OnDropped.
func (m *Metrics) ObserveDropped(n int) {
	m.SamplesDropped.Add(float64(n))
}

// ObserveCompute matches indicator.Engine.OnCompute.
func (m *Metrics) ObserveCompute(samples, values int, took time.Duration) {
	m.IndicatorComputeDur.Observe(took.Seconds())
	m.IndicatorsTotal.Add(float64(values))
}

// HealthStatus represents the feed health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	Granularity    string    `json:"granularity"`
	LastBarTime    time.Time `json:"last_bar_time"`
	Samples        int       `json:"samples"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	IndicatorOK    bool      `json:"indicator_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol, granularity string) *HealthStatus {
	return &HealthStatus{
		Symbol:      symbol,
		Granularity: granularity,
		StartedAt:   time.Now(),
	}
}

// SetLastBar records the newest bar time and the series length after it.
func (h *HealthStatus) SetLastBar(t time.Time, samples int) {
	h.mu.Lock()
	h.LastBarTime = t
	h.Samples = samples
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicatorOK(v bool) {
	h.mu.Lock()
	h.IndicatorOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK || !h.IndicatorOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	barAge := ""
	lastBar := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
		lastBar = h.LastBarTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Symbol          string  `json:"symbol"`
		Granularity     string  `json:"granularity"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		Samples         int     `json:"samples"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		IndicatorOK     bool    `json:"indicator_ok"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		Granularity:     h.Granularity,
		LastBarTime:     lastBar,
		BarAge:          barAge,
		Samples:         h.Samples,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		IndicatorOK:     h.IndicatorOK,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle registers an extra route. Call before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
