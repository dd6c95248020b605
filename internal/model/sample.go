package model

import (
	"fmt"
	"time"

	"chartcore/internal/fixedpoint"
)

// Change proportion is computed as a ratio at ratioScale and stored at
// percentScale: a ratio of 0.0500 is the percentage 5.00.
const (
	ratioScale   = 4
	percentScale = 2
)

// Animator tracks values for interpolated transitions between updates.
// It is handed pointers that stay valid for the life of the sample.
type Animator interface {
	Track(values ...*fixedpoint.Value)
}

// Formatter renders a timestamp with a strftime-style pattern.
type Formatter interface {
	Format(t time.Time, pattern string) string
}

// Sample is one time bucket of OHLCV data as a chart holds it: scaled
// values, derived change fields, attached indicators, marker state and
// cached time labels.
//
// A Sample is not safe for concurrent use.
type Sample struct {
	open   fixedpoint.Value
	high   fixedpoint.Value
	low    fixedpoint.Value
	close  fixedpoint.Value
	volume fixedpoint.Value

	changeAmount     fixedpoint.Value
	changeProportion fixedpoint.Value // percent

	indicators     IndicatorStore // drawn as discrete marks
	lineIndicators IndicatorStore // drawn as lines

	hitRegion Rect
	marker    MarkerVariant

	granularity   Granularity // labels were built for this; zero until first build
	timeText      string
	shortTimeText string

	time time.Time
}

// NewSample parses the OHLCV decimal strings for the bucket starting at t.
// Each field keeps the scale it was written with until ApplyPrecision.
// anim may be nil.
func NewSample(open, high, low, closing, volume string, t time.Time, anim Animator) (*Sample, error) {
	s := &Sample{
		time:             t,
		changeAmount:     fixedpoint.FromRaw(0, 0),
		changeProportion: fixedpoint.FromRaw(0, 0),
	}

	fields := []struct {
		name string
		in   string
		dst  *fixedpoint.Value
	}{
		{"open", open, &s.open},
		{"high", high, &s.high},
		{"low", low, &s.low},
		{"close", closing, &s.close},
		{"volume", volume, &s.volume},
	}
	for _, f := range fields {
		v, err := fixedpoint.Parse(f.in)
		if err != nil {
			return nil, fmt.Errorf("sample %s %s: %w", t.UTC().Format(time.RFC3339), f.name, err)
		}
		*f.dst = v
	}

	if anim != nil {
		anim.Track(&s.close, &s.high, &s.low, &s.volume)
	}
	return s, nil
}

// ApplyPrecision brings every field to the scales of p and recomputes the
// change fields. Fields already at the target scale, and derived fields
// whose value did not move, are left untouched. It reports whether anything
// changed.
//
// An open of zero yields a change proportion of 0.
func (s *Sample) ApplyPrecision(p Precision) bool {
	changed := false
	for _, v := range []*fixedpoint.Value{&s.open, &s.high, &s.low, &s.close} {
		if rescaleInPlace(v, p.Quote) {
			changed = true
		}
	}
	if rescaleInPlace(&s.volume, p.Base) {
		changed = true
	}

	if s.changeAmount.Refresh(s.close.Magnitude()-s.open.Magnitude(), p.Quote) {
		changed = true
	}

	ratio, err := fixedpoint.Divide(s.changeAmount.Magnitude(), s.open.Magnitude(), ratioScale)
	if err != nil {
		ratio = 0
	}
	if s.changeProportion.Refresh(ratio, percentScale) {
		changed = true
	}
	return changed
}

// rescaleInPlace keeps the pointer identity handed to the animator.
func rescaleInPlace(v *fixedpoint.Value, scale int) bool {
	if v.Scale() == scale {
		return false
	}
	*v = fixedpoint.Rescale(*v, scale)
	return true
}

// BuildTimeText formats the bucket labels for g. Calling it again with the
// same granularity, or with the zero granularity, does nothing. It reports
// whether the labels were rebuilt.
func (s *Sample) BuildTimeText(g Granularity, f Formatter) bool {
	if g.IsZero() || g == s.granularity {
		return false
	}
	s.granularity = g
	s.shortTimeText = f.Format(s.time, g.Pattern())
	s.timeText = f.Format(s.time, g.LongPattern())
	return true
}

// QuoteValue builds a Value at the quote scale of p.
func (s *Sample) QuoteValue(p Precision, magnitude int64) fixedpoint.Value {
	return p.QuoteValue(magnitude)
}

// BaseValue builds a Value at the base scale of p.
func (s *Sample) BaseValue(p Precision, magnitude int64) fixedpoint.Value {
	return p.BaseValue(magnitude)
}

func (s *Sample) PutIndicator(kind IndicatorKind, values ...fixedpoint.Value) {
	s.indicators.Put(kind, values...)
}

func (s *Sample) Indicator(kind IndicatorKind) ([]fixedpoint.Value, bool) {
	return s.indicators.Get(kind)
}

func (s *Sample) PutLineIndicator(kind IndicatorKind, values ...fixedpoint.Value) {
	s.lineIndicators.Put(kind, values...)
}

func (s *Sample) LineIndicator(kind IndicatorKind) ([]fixedpoint.Value, bool) {
	return s.lineIndicators.Get(kind)
}

// Indicators returns the store of indicators drawn as discrete marks.
func (s *Sample) Indicators() *IndicatorStore { return &s.indicators }

// LineIndicators returns the store of indicators drawn as lines.
func (s *Sample) LineIndicators() *IndicatorStore { return &s.lineIndicators }

func (s *Sample) Marker() MarkerVariant     { return s.marker }
func (s *Sample) SetMarker(m MarkerVariant) { s.marker = m }

// UpdateHitRegion overwrites the marker hit-test rectangle. The edges are
// stored as given; see Rect.Valid.
func (s *Sample) UpdateHitRegion(left, top, right, bottom float64) {
	s.hitRegion = Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}

func (s *Sample) HitRegion() Rect { return s.hitRegion }

func (s *Sample) Open() fixedpoint.Value             { return s.open }
func (s *Sample) High() fixedpoint.Value             { return s.high }
func (s *Sample) Low() fixedpoint.Value              { return s.low }
func (s *Sample) Close() fixedpoint.Value            { return s.close }
func (s *Sample) Volume() fixedpoint.Value           { return s.volume }
func (s *Sample) ChangeAmount() fixedpoint.Value     { return s.changeAmount }
func (s *Sample) ChangeProportion() fixedpoint.Value { return s.changeProportion }

func (s *Sample) Time() time.Time          { return s.time }
func (s *Sample) Granularity() Granularity { return s.granularity }
func (s *Sample) TimeText() string         { return s.timeText }
func (s *Sample) ShortTimeText() string    { return s.shortTimeText }

func (s *Sample) String() string {
	return fmt.Sprintf("Sample{open=%s, high=%s, low=%s, close=%s, volume=%s, time=%s}",
		s.open, s.high, s.low, s.close, s.volume, s.time.UTC().Format(time.RFC3339))
}
