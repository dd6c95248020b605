package indicator

import (
	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// MACD calculates DIF (fast EMA - slow EMA), DEA (signal EMA of DIF) and
// the histogram 2*(DIF-DEA). It is drawn as discrete bars.
type MACD struct {
	fast, slow, signal ema
	dif                int64
}

// NewMACD creates a MACD with the given fast, slow and signal periods
// (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   ema{period: fast},
		slow:   ema{period: slow},
		signal: ema{period: signal},
	}
}

func (m *MACD) Name() string {
	return "MACD" + itoaInd(m.fast.period) + "_" + itoaInd(m.slow.period) + "_" + itoaInd(m.signal.period)
}

func (m *MACD) Kind() model.IndicatorKind { return model.KindMACD }
func (m *MACD) Line() bool                { return false }
func (m *MACD) Ready() bool               { return m.signal.ready() }

func (m *MACD) Update(s *model.Sample, p model.Precision) {
	price := closeField.read(s, p)
	m.fast.update(price)
	m.slow.update(price)
	if !m.slow.ready() {
		return
	}
	m.dif = m.fast.current - m.slow.current
	m.signal.update(m.dif)
}

// Values returns [DIF, DEA, histogram].
func (m *MACD) Values(p model.Precision) []fixedpoint.Value {
	dea := m.signal.current
	return []fixedpoint.Value{
		emit(m.dif, p.Quote),
		emit(dea, p.Quote),
		emit(2*(m.dif-dea), p.Quote),
	}
}
