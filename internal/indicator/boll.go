package indicator

import (
	"math/big"

	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// BOLL calculates Bollinger Bands over close prices: the period SMA and
// the bands k population standard deviations above and below it.
type BOLL struct {
	period int
	k      int64
	win    window
}

// NewBOLL creates Bollinger Bands with the given period and band width k.
func NewBOLL(period int, k int64) *BOLL {
	return &BOLL{period: period, k: k, win: newWindow(period)}
}

func (b *BOLL) Name() string              { return "BOLL" + itoaInd(b.period) }
func (b *BOLL) Kind() model.IndicatorKind { return model.KindBOLL }
func (b *BOLL) Line() bool                { return true }
func (b *BOLL) Ready() bool               { return b.win.full() }

func (b *BOLL) Update(s *model.Sample, p model.Precision) {
	b.win.push(closeField.read(s, p))
}

// Values returns [mid, upper, lower].
func (b *BOLL) Values(p model.Precision) []fixedpoint.Value {
	mid := b.win.mean()
	band := b.k * b.stddev(mid)
	return []fixedpoint.Value{
		emit(mid, p.Quote),
		emit(mid+band, p.Quote),
		emit(mid-band, p.Quote),
	}
}

// stddev is the integer square root of the population variance. Squares
// are summed in big.Int since they outgrow int64 for large magnitudes.
func (b *BOLL) stddev(mean int64) int64 {
	var sum, d big.Int
	for _, v := range b.win.buf {
		d.SetInt64(v - mean)
		d.Mul(&d, &d)
		sum.Add(&sum, &d)
	}
	sum.Quo(&sum, big.NewInt(int64(len(b.win.buf))))
	return sum.Sqrt(&sum).Int64()
}
