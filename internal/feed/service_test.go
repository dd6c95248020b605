package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chartcore/config"
	"chartcore/internal/indicator"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
	sqlitestore "chartcore/internal/store/sqlite"
)

// newLocalService builds a Service with no stores and runs its loop until
// the test ends.
func newLocalService(t *testing.T, configs ...indicator.IndicatorConfig) (*Service, context.Context) {
	t.Helper()
	p := newTestPipeline(t, model.Precision{Quote: 2, Base: 2}, 0, configs...)
	cfg := &config.Config{Symbol: "BTCUSDT", Granularity: "1m"}
	svc := newService(cfg, p, metrics.NewMetricsWith(prometheus.NewRegistry()), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.loop(ctx)
	return svc, ctx
}

func TestService_IngestLive(t *testing.T) {
	svc, ctx := newLocalService(t, indicator.IndicatorConfig{Type: "MA", Period: 2})

	var got []string
	err := svc.do(ctx, func(p *Pipeline) {
		svc.ingestLive(mkBar(0, "10.00"))
		svc.ingestLive(mkBar(1, "12.00"))
		svc.ingestLive(mkBar(0, "99.00")) // older, rejected
		got = lineValues(t, p.Series().Last(), model.KindMA)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "11.00" {
		t.Errorf("MA after live bars = %v, want [11.00]", got)
	}

	if svc.health.Samples != 2 {
		t.Errorf("health samples = %d, want 2", svc.health.Samples)
	}
	// rejected bars are not pushed
	if seq := svc.hub.Seq(); seq != 2 {
		t.Errorf("ws seq = %d, want 2", seq)
	}
}

func TestService_DoCancelled(t *testing.T) {
	p := newTestPipeline(t, model.Precision{Quote: 2}, 0)
	svc := newService(&config.Config{Symbol: "BTCUSDT", Granularity: "1m"}, p,
		metrics.NewMetricsWith(prometheus.NewRegistry()), slog.Default())

	// no loop running
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.do(ctx, func(*Pipeline) {}); err == nil {
		t.Error("expected context error without a running loop")
	}
}

func TestService_DoWaitsForRunningRequest(t *testing.T) {
	svc, _ := newLocalService(t)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	finished := false
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.do(ctx, func(*Pipeline) {
			cancel()
			<-release
			finished = true
		})
	}()

	select {
	case err := <-errCh:
		t.Fatalf("do returned %v while its request was still running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Errorf("do: %v", err)
	}
	if !finished {
		t.Error("do returned before the request finished")
	}
}

// ─── Persistence ───

func newTestWriter(t *testing.T) (*sqlitestore.Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func storedBars(t *testing.T, path string) []model.Bar {
	t.Helper()
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	bars, err := r.ReadBuckets("BTCUSDT", "1m", 0)
	if err != nil {
		t.Fatal(err)
	}
	return bars
}

func TestService_LiveBarsPersistedPerBucket(t *testing.T) {
	svc, ctx := newLocalService(t)
	w, path := newTestWriter(t)
	svc.sqlWriter = w

	first := mkBar(0, "10.00")
	first.TS = t0.Add(10 * time.Second)
	second := mkBar(0, "11.00")
	second.TS = t0.Add(40 * time.Second)
	svc.do(ctx, func(*Pipeline) {
		svc.ingestLive(first)
		svc.ingestLive(second)
	})

	var queued []model.Bar
	for len(svc.persistCh) > 0 {
		queued = append(queued, <-svc.persistCh)
	}
	if len(queued) != 2 {
		t.Fatalf("queued %d bars, want 2", len(queued))
	}
	for _, b := range queued {
		if !b.TS.Equal(t0) {
			t.Errorf("queued ts = %s, want bucket start %s", b.TS, t0)
		}
	}

	if err := w.InsertBatch(queued); err != nil {
		t.Fatal(err)
	}
	bars := storedBars(t, path)
	if len(bars) != 1 {
		t.Fatalf("stored %d rows for one bucket, want 1", len(bars))
	}
	if bars[0].Close != "11.00" {
		t.Errorf("stored close = %s, want the latest update 11.00", bars[0].Close)
	}
}

func TestService_CatchUpStoresEveryBar(t *testing.T) {
	p := newTestPipeline(t, model.Precision{Quote: 2}, 0)
	svc := newService(&config.Config{Symbol: "BTCUSDT", Granularity: "1m"}, p,
		metrics.NewMetricsWith(prometheus.NewRegistry()), slog.Default())
	w, path := newTestWriter(t)
	svc.sqlWriter = w

	total := persistChSize*2 + 500
	svc.replayFrom = func(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error) {
		if stream != "bars:1m:BTCUSDT" || startID != "0" {
			t.Errorf("replayFrom(%q, %q)", stream, startID)
		}
		for i := 0; i < total; i++ {
			b := mkBar(i, "10.00")
			b.TS = b.TS.Add(5 * time.Second)
			out <- b
		}
		return "1709283600000-0", nil
	}

	lastID, err := svc.catchUp(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lastID != "1709283600000-0" {
		t.Errorf("lastID = %q", lastID)
	}
	if n := p.Series().Len(); n != total {
		t.Errorf("series len = %d, want %d", n, total)
	}
	if len(svc.persistCh) != 0 {
		t.Errorf("catch-up went through the live queue (%d queued)", len(svc.persistCh))
	}

	bars := storedBars(t, path)
	if len(bars) != total {
		t.Fatalf("stored %d bars, want %d", len(bars), total)
	}
	if !bars[0].TS.Equal(t0) {
		t.Errorf("first stored ts = %s, want %s", bars[0].TS, t0)
	}
}

// ─── HTTP ───

func TestHandleSeries(t *testing.T) {
	svc, ctx := newLocalService(t, indicator.IndicatorConfig{Type: "MA", Period: 2})
	svc.do(ctx, func(p *Pipeline) {
		p.Load([]model.Bar{mkBar(0, "10.00"), mkBar(1, "11.00"), mkBar(2, "12.00")}, "test")
		p.Series().At(2).SetMarker(model.MarkerBuy)
	})

	rec := httptest.NewRecorder()
	svc.handleSeries(rec, httptest.NewRequest(http.MethodGet, "/series?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp seriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Samples) != 2 {
		t.Fatalf("total=%d samples=%d, want 3 and 2", resp.Total, len(resp.Samples))
	}
	if resp.Granularity != "1m" || resp.Precision.Quote != 2 {
		t.Errorf("unexpected header %+v", resp)
	}
	last := resp.Samples[1]
	if last.Close != "12.00" || last.Change != "2.00" || last.ChangePct != "20.00" {
		t.Errorf("last sample = %+v", last)
	}
	if last.Marker != "buy" {
		t.Errorf("expected marker buy, got %q", last.Marker)
	}
	if ma := last.Lines["MA"]; len(ma) != 1 || ma[0] != "11.50" {
		t.Errorf("MA = %v, want [11.50]", ma)
	}
}

func TestHandleSeries_BadRequests(t *testing.T) {
	svc, _ := newLocalService(t)

	rec := httptest.NewRecorder()
	svc.handleSeries(rec, httptest.NewRequest(http.MethodGet, "/series?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.handleSeries(rec, httptest.NewRequest(http.MethodPost, "/series", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected 405, got %d", rec.Code)
	}
}

func TestHandlePrecision(t *testing.T) {
	svc, ctx := newLocalService(t)
	svc.do(ctx, func(p *Pipeline) {
		p.Load([]model.Bar{mkBar(0, "10.25")}, "test")
	})

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"quote_scale": 1, "base_scale": 0}`)
	svc.handlePrecision(rec, httptest.NewRequest(http.MethodPost, "/precision", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var closeText string
	svc.do(ctx, func(p *Pipeline) { closeText = p.Series().Last().Close().Text() })
	if closeText != "10.2" {
		t.Errorf("close after precision change = %s, want 10.2", closeText)
	}

	rec = httptest.NewRecorder()
	svc.handlePrecision(rec, httptest.NewRequest(http.MethodPost, "/precision", strings.NewReader(`{"quote_scale": 30}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid precision: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.handlePrecision(rec, httptest.NewRequest(http.MethodPost, "/precision", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestHandleReload(t *testing.T) {
	svc, _ := newLocalService(t, indicator.IndicatorConfig{Type: "MA", Period: 5})

	rec := httptest.NewRecorder()
	body := strings.NewReader("indicators:\n  - type: ema\n    period: 9\n")
	svc.handleReload(rec, httptest.NewRequest(http.MethodPost, "/reload", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Added   []string `json:"added"`
		Removed []string `json:"removed"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Added) != 1 || resp.Added[0] != "EMA9" || len(resp.Removed) != 1 || resp.Removed[0] != "MA5" {
		t.Errorf("unexpected diff %+v", resp)
	}

	rec = httptest.NewRecorder()
	body = strings.NewReader("indicators:\n  - type: bogus\n    period: 9\n")
	svc.handleReload(rec, httptest.NewRequest(http.MethodPost, "/reload", body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: expected 400, got %d", rec.Code)
	}
}

func TestHandleMarker(t *testing.T) {
	svc, ctx := newLocalService(t)
	svc.do(ctx, func(p *Pipeline) {
		p.Load([]model.Bar{mkBar(0, "10.00"), mkBar(1, "11.00")}, "test")
	})
	seq := svc.hub.Seq()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		svc.handleMarker(rec, httptest.NewRequest(http.MethodPost, "/marker", strings.NewReader(body)))
		return rec
	}

	// mid-bucket time lands on the first sample
	at := t0.Add(20 * time.Second).Format(time.RFC3339)
	if rec := post(`{"time":"` + at + `","marker":"sell"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var marker model.MarkerVariant
	svc.do(ctx, func(p *Pipeline) { marker = p.Series().At(0).Marker() })
	if marker != model.MarkerSell {
		t.Errorf("marker = %v, want sell", marker)
	}
	if svc.hub.Seq() != seq+1 {
		t.Errorf("marker change not pushed")
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown marker", `{"time":"` + at + `","marker":"rocket"}`, http.StatusBadRequest},
		{"no sample", `{"time":"2020-01-01T00:00:00Z","marker":"buy"}`, http.StatusNotFound},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := post(tt.body); rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, rec.Code)
		}
	}
}

// ─── Maintenance ───

func TestService_PruneJob(t *testing.T) {
	p := newTestPipeline(t, model.Precision{Quote: 2}, 0)
	cfg := &config.Config{
		Symbol:        "BTCUSDT",
		Granularity:   "1m",
		PruneSchedule: "0 0 3 * * *",
		PruneKeepDays: 7,
	}
	svc := newService(cfg, p, metrics.NewMetricsWith(prometheus.NewRegistry()), slog.Default())

	// no writer, no job
	if err := svc.registerJobs(); err != nil {
		t.Fatal(err)
	}
	if err := svc.sched.RunNow(jobPrune); err == nil {
		t.Fatal("prune registered without a writer")
	}

	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	svc.sqlWriter = w

	old := mkBar(0, "1.00")
	old.TS = time.Now().UTC().AddDate(0, 0, -30).Truncate(time.Minute)
	recent := mkBar(0, "2.00")
	recent.TS = time.Now().UTC().Add(-time.Hour).Truncate(time.Minute)
	if err := w.InsertBatch([]model.Bar{old, recent}); err != nil {
		t.Fatal(err)
	}

	if err := svc.registerJobs(); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	if err := svc.sched.RunNow(jobPrune); err != nil {
		t.Fatalf("prune: %v", err)
	}

	ts, _ := w.LastTimestamp("BTCUSDT", "1m")
	if ts != recent.TS.Unix() {
		t.Errorf("recent bar pruned")
	}
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	bars, _ := r.ReadBuckets("BTCUSDT", "1m", 0)
	if len(bars) != 1 {
		t.Errorf("expected 1 bar after prune, got %d", len(bars))
	}
}
