package model

import (
	"errors"
	"fmt"

	"chartcore/internal/fixedpoint"
)

// ErrInvalidPrecision is returned for a scale outside [0, fixedpoint.MaxScale].
var ErrInvalidPrecision = errors.New("model: invalid precision")

// Precision is the pair of decimal scales in force for an instrument.
// Quote governs price-like fields, Base governs volume-like fields.
type Precision struct {
	Quote int `json:"quote_scale" yaml:"quote_scale"`
	Base  int `json:"base_scale" yaml:"base_scale"`
}

// Validate checks both scales are representable.
func (p Precision) Validate() error {
	if p.Quote < 0 || p.Quote > fixedpoint.MaxScale {
		return fmt.Errorf("%w: quote scale %d", ErrInvalidPrecision, p.Quote)
	}
	if p.Base < 0 || p.Base > fixedpoint.MaxScale {
		return fmt.Errorf("%w: base scale %d", ErrInvalidPrecision, p.Base)
	}
	return nil
}

// QuoteValue builds a Value of magnitude at the quote scale.
func (p Precision) QuoteValue(magnitude int64) fixedpoint.Value {
	return fixedpoint.FromRaw(magnitude, p.Quote)
}

// BaseValue builds a Value of magnitude at the base scale.
func (p Precision) BaseValue(magnitude int64) fixedpoint.Value {
	return fixedpoint.FromRaw(magnitude, p.Base)
}
