// Package indicator computes technical indicators over a run of samples and
// attaches the results to each sample's indicator stores.
//
// Indicators work on integer magnitudes at the active scale plus
// guardDigits extra digits, and emit fixedpoint Values at the active scale.
package indicator

import (
	"fmt"
	"strings"

	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// guardDigits are carried internally so repeated averaging does not lose
// the last displayed digit.
const guardDigits = 2

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "MA5", "EMA12").
	Name() string

	// Kind is the store key the values are attached under.
	Kind() model.IndicatorKind

	// Line reports whether the indicator is drawn as a line rather than
	// discrete marks.
	Line() bool

	// Update feeds the next sample. Samples must already be at p.
	Update(s *model.Sample, p model.Precision)

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Values returns the current values at the display scale of p.
	// Only meaningful when Ready.
	Values(p model.Precision) []fixedpoint.Value
}

// IndicatorConfig specifies a single indicator to compute.
type IndicatorConfig struct {
	Type   string `yaml:"type"` // "MA", "EMA", "BOLL", "MACD", "RSI", "VOLMA"
	Period int    `yaml:"period"`
}

// DefaultConfigs is the indicator set used when none is configured. The two
// MA periods share the MA entry of a sample as [MA5, MA10].
var DefaultConfigs = []IndicatorConfig{
	{Type: "MA", Period: 5},
	{Type: "MA", Period: 10},
	{Type: "EMA", Period: 12},
	{Type: "BOLL", Period: 20},
	{Type: "MACD"},
	{Type: "RSI", Period: 14},
	{Type: "VOLMA", Period: 5},
}

// New creates a fresh indicator for cfg.
func New(cfg IndicatorConfig) (Indicator, error) {
	kind, ok := model.ParseIndicatorKind(strings.ToUpper(strings.TrimSpace(cfg.Type)))
	if !ok {
		return nil, fmt.Errorf("indicator: unknown type %q", cfg.Type)
	}
	if kind != model.KindMACD && cfg.Period <= 0 {
		return nil, fmt.Errorf("indicator: %s period must be positive, got %d", kind, cfg.Period)
	}

	switch kind {
	case model.KindMA:
		return NewSMA(cfg.Period), nil
	case model.KindEMA:
		return NewEMA(cfg.Period), nil
	case model.KindBOLL:
		return NewBOLL(cfg.Period, 2), nil
	case model.KindMACD:
		return NewMACD(12, 26, 9), nil
	case model.KindRSI:
		return NewRSI(cfg.Period), nil
	case model.KindVolMA:
		return NewVolMA(cfg.Period), nil
	}
	return nil, fmt.Errorf("indicator: no constructor for %s", kind)
}

// field selects the sample value an indicator consumes.
type field uint8

const (
	closeField field = iota
	volumeField
)

func (f field) scale(p model.Precision) int {
	if f == volumeField {
		return p.Base
	}
	return p.Quote
}

// read returns the field's magnitude at the working scale.
func (f field) read(s *model.Sample, p model.Precision) int64 {
	v := s.Close()
	if f == volumeField {
		v = s.Volume()
	}
	return fixedpoint.Rescale(v, workScale(f.scale(p))).Magnitude()
}

func workScale(scale int) int {
	if w := scale + guardDigits; w <= fixedpoint.MaxScale {
		return w
	}
	return fixedpoint.MaxScale
}

// emit converts a working-scale magnitude to a Value at scale.
func emit(magnitude int64, scale int) fixedpoint.Value {
	return fixedpoint.Rescale(fixedpoint.FromRaw(magnitude, workScale(scale)), scale)
}

// div is a rounded integer division for positive b.
func div(a, b int64) int64 {
	q, err := fixedpoint.Divide(a, b, 0)
	if err != nil {
		return 0
	}
	return q
}

// itoaInd converts int to string without importing strconv.
func itoaInd(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
