package fixedpoint

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// All rounding in this package is round-half-to-even.

var pow10 = [MaxScale + 1]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

// Pow10 returns 10^n for n in [0, MaxScale].
func Pow10(n int) (int64, error) {
	if n < 0 || n > MaxScale {
		return 0, fmt.Errorf("%w: 10^%d", ErrOverflow, n)
	}
	return pow10[n], nil
}

// Rescale re-expresses v with target fractional digits. When target equals
// v's scale, v is returned unchanged. Dropping digits rounds half to even;
// magnitudes beyond the int64 range saturate.
func Rescale(v Value, target int) Value {
	if target == v.scale {
		return v
	}
	if target > v.scale {
		if p, err := Pow10(target - v.scale); err == nil {
			if m, ok := mulExact(v.magnitude, p); ok {
				return FromRaw(m, target)
			}
		}
	}
	d := v.Decimal().RoundBank(int32(target)).Shift(int32(target))
	return FromRaw(saturate(d.BigInt()), target)
}

// Divide returns numerator * 10^resultScale / denominator rounded half to
// even. The intermediate product is computed exactly.
func Divide(numerator, denominator int64, resultScale int) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}
	if resultScale < 0 || resultScale > MaxScale {
		return 0, fmt.Errorf("%w: result scale %d", ErrOverflow, resultScale)
	}

	num := decimal.New(numerator, int32(resultScale))
	den := decimal.NewFromInt(denominator)
	q, r := num.QuoRem(den, 0)

	if !r.IsZero() {
		step := decimal.NewFromInt(1)
		if (numerator < 0) != (denominator < 0) {
			step = step.Neg()
		}
		switch r.Abs().Mul(decimal.NewFromInt(2)).Cmp(den.Abs()) {
		case 1:
			q = q.Add(step)
		case 0:
			if q.BigInt().Bit(0) == 1 {
				q = q.Add(step)
			}
		}
	}

	b := q.BigInt()
	if !b.IsInt64() {
		return 0, fmt.Errorf("%w: %d / %d at scale %d", ErrOverflow, numerator, denominator, resultScale)
	}
	return b.Int64(), nil
}

// mulExact returns a*p for positive p, or false if the product overflows.
func mulExact(a, p int64) (int64, bool) {
	if a == 0 {
		return 0, true
	}
	prod := a * p
	if prod/p != a || (a > 0) != (prod > 0) {
		return 0, false
	}
	return prod, true
}

func saturate(b *big.Int) int64 {
	switch {
	case b.IsInt64():
		return b.Int64()
	case b.Sign() < 0:
		return math.MinInt64
	default:
		return math.MaxInt64
	}
}
