package indicator

import (
	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// rsiScale is the display scale of RSI values (0.00 to 100.00).
const rsiScale = 2

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per sample.
type RSI struct {
	period    int
	started   bool
	prevClose int64
	gain      smma
	loss      smma
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gain:   smma{period: period},
		loss:   smma{period: period},
	}
}

func (r *RSI) Name() string              { return "RSI" + itoaInd(r.period) }
func (r *RSI) Kind() model.IndicatorKind { return model.KindRSI }
func (r *RSI) Line() bool                { return true }
func (r *RSI) Ready() bool               { return r.gain.ready() }

func (r *RSI) Update(s *model.Sample, p model.Precision) {
	price := closeField.read(s, p)
	if !r.started {
		// First sample: record price, no delta yet
		r.started = true
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	var gain, loss int64
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gain.update(gain)
	r.loss.update(loss)
}

func (r *RSI) Values(model.Precision) []fixedpoint.Value {
	total := r.gain.current + r.loss.current
	if r.loss.current == 0 || total == 0 {
		return []fixedpoint.Value{fixedpoint.FromRaw(100*100, rsiScale)}
	}
	// 100 * gain / (gain + loss), at rsiScale
	m, err := fixedpoint.Divide(100*r.gain.current, total, rsiScale)
	if err != nil {
		m = 0
	}
	return []fixedpoint.Value{fixedpoint.FromRaw(m, rsiScale)}
}
