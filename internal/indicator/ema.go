package indicator

import (
	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// ema is an exponential moving average over working-scale magnitudes,
// seeded with the simple average of the first period inputs.
type ema struct {
	period  int
	count   int
	sum     int64
	current int64
}

func (e *ema) update(v int64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = div(e.sum, int64(e.period))
		}
		return
	}

	// EMA = (2*v + (period-1)*EMA_prev) / (period+1)
	e.current = div(2*v+int64(e.period-1)*e.current, int64(e.period+1))
}

func (e *ema) ready() bool { return e.count >= e.period }

// EMA calculates Exponential Moving Average of close prices.
// O(1) per update; no window storage.
type EMA struct {
	e ema
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{e: ema{period: period}}
}

func (e *EMA) Name() string              { return "EMA" + itoaInd(e.e.period) }
func (e *EMA) Kind() model.IndicatorKind { return model.KindEMA }
func (e *EMA) Line() bool                { return true }
func (e *EMA) Ready() bool               { return e.e.ready() }

func (e *EMA) Update(s *model.Sample, p model.Precision) {
	e.e.update(closeField.read(s, p))
}

func (e *EMA) Values(p model.Precision) []fixedpoint.Value {
	return []fixedpoint.Value{emit(e.e.current, p.Quote)}
}
