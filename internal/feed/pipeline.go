// Package feed turns incoming bars into the chart series: it parses them
// into samples, keeps precision and time labels current, trims the series to
// its retention window and reruns the indicator pass.
package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chartcore/internal/chart"
	"chartcore/internal/indicator"
	"chartcore/internal/model"
)

// ErrForeignBar is returned for a bar of another symbol or granularity.
var ErrForeignBar = errors.New("feed: bar for another series")

// Reject reasons reported through OnReject.
const (
	RejectInvalid    = "invalid"
	RejectOutOfOrder = "out_of_order"
	RejectForeign    = "foreign"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Symbol      string
	Granularity model.Granularity
	Precision   model.Precision
	Retain      int // samples kept; 0 keeps everything
}

// Pipeline owns the series for one symbol and granularity.
// Designed for single-goroutine usage, no locks.
type Pipeline struct {
	cfg    PipelineConfig
	series *chart.Series
	engine *indicator.Engine
	log    *slog.Logger

	// Metrics hooks (optional)
	OnIngest func(source string)
	OnReject func(reason string)
	OnUpdate func(last time.Time, samples int)
}

// NewPipeline creates an empty series with cfg's precision and granularity
// active. logger may be nil.
func NewPipeline(cfg PipelineConfig, formatter model.Formatter, engine *indicator.Engine, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Granularity.IsZero() {
		return nil, fmt.Errorf("feed: %w: empty", model.ErrUnknownGranularity)
	}
	series := chart.New(cfg.Symbol, formatter, logger)
	if _, err := series.SetPrecision(cfg.Precision); err != nil {
		return nil, err
	}
	series.SetGranularity(cfg.Granularity)

	return &Pipeline{
		cfg:    cfg,
		series: series,
		engine: engine,
		log:    logger.With(slog.String("symbol", cfg.Symbol), slog.String("granularity", cfg.Granularity.String())),
	}, nil
}

// Series returns the underlying series.
func (p *Pipeline) Series() *chart.Series { return p.series }

// Engine returns the indicator engine.
func (p *Pipeline) Engine() *indicator.Engine { return p.engine }

// Ingest parses bar and appends it to the series. Indicators are not
// recomputed; call Settle once a batch is in.
func (p *Pipeline) Ingest(bar model.Bar, source string) error {
	if bar.Symbol != p.cfg.Symbol || bar.Granularity != p.cfg.Granularity.String() {
		p.reject(RejectForeign)
		return fmt.Errorf("%w: %s %s", ErrForeignBar, bar.Symbol, bar.Granularity)
	}

	bar = p.Align(bar)
	sample, err := bar.Sample(nil)
	if err != nil {
		p.reject(RejectInvalid)
		return err
	}
	if err := p.series.Append(sample); err != nil {
		p.reject(RejectOutOfOrder)
		return err
	}
	if p.OnIngest != nil {
		p.OnIngest(source)
	}
	return nil
}

// Align returns bar with its time moved to the start of its bucket. This is
// the form Ingest stores, so it is also the form to persist.
func (p *Pipeline) Align(bar model.Bar) model.Bar {
	bucket := p.cfg.Granularity.Truncate(bar.TS)
	if !bucket.Equal(bar.TS) {
		p.log.Debug("bar time not on bucket boundary",
			slog.Time("ts", bar.TS), slog.Time("bucket", bucket))
		bar.TS = bucket
	}
	return bar
}

// Load ingests bars in order and settles once. Bars that fail are logged and
// skipped. Returns how many were appended.
func (p *Pipeline) Load(bars []model.Bar, source string) int {
	n := 0
	for _, bar := range bars {
		if err := p.Ingest(bar, source); err != nil {
			if errors.Is(err, chart.ErrOutOfOrder) {
				p.log.Debug("skipping older bar", slog.String("source", source), slog.Time("ts", bar.TS))
			} else {
				p.log.Warn("skipping bar", slog.String("source", source), slog.Any("err", err))
			}
			continue
		}
		n++
	}
	p.Settle()
	return n
}

// Settle trims the series to its retention window and reruns the indicator
// pass over what is left.
func (p *Pipeline) Settle() {
	if p.cfg.Retain > 0 {
		p.series.Retain(p.cfg.Retain)
	}
	if p.engine != nil {
		p.engine.Compute(p.series.Samples(), p.series.Precision())
	}
	if p.OnUpdate != nil {
		var last time.Time
		if s := p.series.Last(); s != nil {
			last = s.Time()
		}
		p.OnUpdate(last, p.series.Len())
	}
}

// SetPrecision switches the display precision and recomputes indicators at
// the new scale. Returns how many samples changed.
func (p *Pipeline) SetPrecision(prec model.Precision) (int, error) {
	changed, err := p.series.SetPrecision(prec)
	if err != nil {
		return 0, err
	}
	p.cfg.Precision = prec
	p.Settle()
	return changed, nil
}

// Reload swaps the indicator set and recomputes.
func (p *Pipeline) Reload(configs []indicator.IndicatorConfig) (added, removed []string, err error) {
	if p.engine == nil {
		return nil, nil, errors.New("feed: no indicator engine")
	}
	added, removed, err = p.engine.Reload(configs)
	if err != nil {
		return nil, nil, err
	}
	if len(added) > 0 || len(removed) > 0 {
		p.Settle()
	}
	return added, removed, nil
}

func (p *Pipeline) reject(reason string) {
	if p.OnReject != nil {
		p.OnReject(reason)
	}
}
