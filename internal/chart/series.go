// Package chart holds the ordered run of samples a chart renders and fans
// precision and granularity changes out to them.
package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chartcore/internal/model"
)

// ErrOutOfOrder is returned by Append for a bucket older than the last one.
var ErrOutOfOrder = errors.New("chart: sample out of order")

// Series is the ordered sequence of samples for one symbol.
// Designed for single-goroutine usage, no locks.
type Series struct {
	symbol    string
	samples   []*model.Sample
	precision model.Precision
	hasPrec   bool
	gran      model.Granularity
	formatter model.Formatter
	log       *slog.Logger

	// Metrics hooks
	OnRescale func(changed int, took time.Duration) // after every SetPrecision (optional)
	OnLabels  func(rebuilt int)                     // after every SetGranularity (optional)
	OnDropped func(n int)                           // samples removed by Retain (optional)
}

// New creates an empty Series. logger may be nil.
func New(symbol string, formatter model.Formatter, logger *slog.Logger) *Series {
	if logger == nil {
		logger = slog.Default()
	}
	return &Series{
		symbol:    symbol,
		samples:   make([]*model.Sample, 0, 256),
		formatter: formatter,
		log:       logger.With(slog.String("symbol", symbol)),
	}
}

func (s *Series) Symbol() string                 { return s.symbol }
func (s *Series) Len() int                       { return len(s.samples) }
func (s *Series) At(i int) *model.Sample         { return s.samples[i] }
func (s *Series) Precision() model.Precision     { return s.precision }
func (s *Series) Granularity() model.Granularity { return s.gran }

// Samples returns the samples in time order. The slice is shared; do not
// modify it.
func (s *Series) Samples() []*model.Sample { return s.samples }

// Last returns the newest sample, or nil if the series is empty.
func (s *Series) Last() *model.Sample {
	if len(s.samples) == 0 {
		return nil
	}
	return s.samples[len(s.samples)-1]
}

// Append adds a sample at the end of the series. A sample for the same
// bucket as the last one replaces it (a live bucket being updated).
// The active precision and granularity are applied before it is stored.
func (s *Series) Append(sample *model.Sample) error {
	if last := s.Last(); last != nil {
		switch {
		case sample.Time().Before(last.Time()):
			return fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
				sample.Time().UTC().Format(time.RFC3339), last.Time().UTC().Format(time.RFC3339))
		case sample.Time().Equal(last.Time()):
			s.prepare(sample)
			s.samples[len(s.samples)-1] = sample
			return nil
		}
	}
	s.prepare(sample)
	s.samples = append(s.samples, sample)
	return nil
}

func (s *Series) prepare(sample *model.Sample) {
	if s.hasPrec {
		sample.ApplyPrecision(s.precision)
	}
	if !s.gran.IsZero() && s.formatter != nil {
		sample.BuildTimeText(s.gran, s.formatter)
	}
}

// SetPrecision applies p to every sample and returns how many changed.
// Calling it repeatedly with the same policy is cheap: unchanged fields
// are skipped per sample.
func (s *Series) SetPrecision(p model.Precision) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	start := time.Now()
	if s.hasPrec && p != s.precision {
		s.log.Info("precision changed",
			slog.Int("quote_from", s.precision.Quote), slog.Int("quote_to", p.Quote),
			slog.Int("base_from", s.precision.Base), slog.Int("base_to", p.Base))
	}
	s.precision = p
	s.hasPrec = true

	changed := 0
	for _, sample := range s.samples {
		if sample.ApplyPrecision(p) {
			changed++
		}
	}
	if s.OnRescale != nil {
		s.OnRescale(changed, time.Since(start))
	}
	return changed, nil
}

// SetGranularity rebuilds time labels for g and returns how many samples
// were relabelled.
func (s *Series) SetGranularity(g model.Granularity) int {
	if g != s.gran {
		s.log.Debug("granularity changed", slog.String("from", s.gran.String()), slog.String("to", g.String()))
	}
	s.gran = g
	if s.formatter == nil || g.IsZero() {
		return 0
	}
	rebuilt := 0
	for _, sample := range s.samples {
		if sample.BuildTimeText(g, s.formatter) {
			rebuilt++
		}
	}
	if s.OnLabels != nil {
		s.OnLabels(rebuilt)
	}
	return rebuilt
}

// Retain keeps only the newest n samples and returns how many were dropped.
func (s *Series) Retain(n int) int {
	if n < 0 || len(s.samples) <= n {
		return 0
	}
	drop := len(s.samples) - n
	old := s.samples
	copy(old, old[drop:])
	for i := n; i < len(old); i++ {
		old[i] = nil
	}
	s.samples = old[:n]
	if s.OnDropped != nil {
		s.OnDropped(drop)
	}
	return drop
}

// UpdateHitRegion sets the marker rectangle of sample i after layout.
func (s *Series) UpdateHitRegion(i int, r model.Rect) {
	if !r.Valid() {
		s.log.Debug("inverted hit region",
			slog.Int("index", i),
			slog.Float64("left", r.Left), slog.Float64("top", r.Top),
			slog.Float64("right", r.Right), slog.Float64("bottom", r.Bottom))
	}
	s.samples[i].UpdateHitRegion(r.Left, r.Top, r.Right, r.Bottom)
}

// HitTest returns the newest sample with a marker whose hit region contains
// (x, y).
func (s *Series) HitTest(x, y float64) (*model.Sample, bool) {
	for i := len(s.samples) - 1; i >= 0; i-- {
		sample := s.samples[i]
		if sample.Marker() == model.MarkerNormal {
			continue
		}
		if sample.HitRegion().Contains(x, y) {
			return sample, true
		}
	}
	return nil, false
}

// IndexOf returns the index of the sample for bucket t, or -1.
func (s *Series) IndexOf(t time.Time) int {
	lo, hi := 0, len(s.samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.samples[mid].Time().Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.samples) && s.samples[lo].Time().Equal(t) {
		return lo
	}
	return -1
}
