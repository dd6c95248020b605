// Package fixedpoint provides scaled-integer decimal values.
//
// A Value is an int64 magnitude paired with a decimal scale (the number of
// fractional digits the magnitude represents) and the text rendering of the
// two. Prices and volumes are carried as Values so they never pass through
// float64.
package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxScale is the largest scale whose power of ten fits in an int64.
const MaxScale = 18

var (
	// ErrInvalidValue is returned for decimal input that cannot be represented.
	ErrInvalidValue = errors.New("fixedpoint: invalid value")

	// ErrDivisionByZero is returned by Divide when the denominator is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrOverflow is returned when a result does not fit in an int64.
	ErrOverflow = errors.New("fixedpoint: overflow")
)

// Value is a fixed-point decimal. The zero Value is 0 at scale 0 with an
// empty text; use FromRaw or Parse to get a rendered value.
//
// Fields are only ever written together, so Text always matches
// Magnitude at Scale.
type Value struct {
	magnitude int64
	scale     int
	text      string
}

// FromRaw builds a Value from a raw magnitude and scale.
func FromRaw(magnitude int64, scale int) Value {
	return Value{
		magnitude: magnitude,
		scale:     scale,
		text:      format(magnitude, scale),
	}
}

// Parse reads a decimal string such as "100.25" or "-0.5". The scale of the
// result is the number of fractional digits written, so "100.00" parses to
// magnitude 10000 at scale 2. Exponent notation is rejected.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "eE") {
		return Value{}, fmt.Errorf("%w: %q uses exponent notation", ErrInvalidValue, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}

	scale := 0
	if exp := d.Exponent(); exp < 0 {
		scale = int(-exp)
	}
	if scale > MaxScale {
		return Value{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidValue, s, MaxScale)
	}

	coef := d.Shift(int32(scale)).BigInt()
	if !coef.IsInt64() {
		return Value{}, fmt.Errorf("%w: %q out of range", ErrInvalidValue, s)
	}
	return FromRaw(coef.Int64(), scale), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) Magnitude() int64 { return v.magnitude }
func (v Value) Scale() int       { return v.scale }
func (v Value) Text() string     { return v.text }
func (v Value) String() string   { return v.text }

// Decimal returns v as a shopspring decimal.
func (v Value) Decimal() decimal.Decimal {
	return decimal.New(v.magnitude, -int32(v.scale))
}

// SetRaw overwrites the magnitude and scale and regenerates the text.
func (v *Value) SetRaw(magnitude int64, scale int) {
	v.magnitude = magnitude
	v.scale = scale
	v.text = format(magnitude, scale)
}

// Refresh calls SetRaw only when the candidate state differs from the
// current one. It reports whether v changed.
func (v *Value) Refresh(magnitude int64, scale int) bool {
	if v.scale == scale && v.magnitude == magnitude && v.text != "" {
		return false
	}
	v.SetRaw(magnitude, scale)
	return true
}

// format renders magnitude at scale, keeping trailing zeros: 500@2 is "5.00".
func format(magnitude int64, scale int) string {
	if scale <= 0 {
		return decimal.NewFromInt(magnitude).String()
	}
	return decimal.New(magnitude, -int32(scale)).StringFixed(int32(scale))
}
