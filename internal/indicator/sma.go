package indicator

import (
	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// window is a preallocated circular buffer with a running sum.
type window struct {
	buf   []int64
	idx   int // current write position
	count int // total values received
	sum   int64
}

func newWindow(period int) window {
	return window{buf: make([]int64, period)}
}

func (w *window) push(v int64) {
	if w.count >= len(w.buf) {
		// Subtract the oldest value being overwritten
		w.sum -= w.buf[w.idx]
	}
	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

func (w *window) full() bool  { return w.count >= len(w.buf) }
func (w *window) mean() int64 { return div(w.sum, int64(len(w.buf))) }

// SMA calculates a Simple Moving Average of close or volume over a rolling
// window.
type SMA struct {
	period int
	src    field
	kind   model.IndicatorKind
	win    window
	name   string
}

// NewSMA creates a moving average of close prices.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		src:    closeField,
		kind:   model.KindMA,
		win:    newWindow(period),
		name:   "MA" + itoaInd(period),
	}
}

// NewVolMA creates a moving average of volume.
func NewVolMA(period int) *SMA {
	return &SMA{
		period: period,
		src:    volumeField,
		kind:   model.KindVolMA,
		win:    newWindow(period),
		name:   "VOLMA" + itoaInd(period),
	}
}

func (s *SMA) Name() string              { return s.name }
func (s *SMA) Kind() model.IndicatorKind { return s.kind }
func (s *SMA) Line() bool                { return true }
func (s *SMA) Ready() bool               { return s.win.full() }

func (s *SMA) Update(sample *model.Sample, p model.Precision) {
	s.win.push(s.src.read(sample, p))
}

func (s *SMA) Values(p model.Precision) []fixedpoint.Value {
	return []fixedpoint.Value{emit(s.win.mean(), s.src.scale(p))}
}
