// Package timefmt renders bucket timestamps with strftime patterns.
package timefmt

import (
	"time"

	"github.com/ncruces/go-strftime"
)

// Formatter formats timestamps in a fixed location. The zero value formats
// in UTC.
type Formatter struct {
	loc *time.Location
}

// New returns a Formatter for loc; nil means UTC.
func New(loc *time.Location) *Formatter {
	return &Formatter{loc: loc}
}

// Format renders t with a strftime pattern such as "%Y-%m-%d %H:%M".
func (f *Formatter) Format(t time.Time, pattern string) string {
	loc := time.UTC
	if f != nil && f.loc != nil {
		loc = f.loc
	}
	return strftime.Format(pattern, t.In(loc))
}

// Location returns the location labels are rendered in.
func (f *Formatter) Location() *time.Location {
	if f == nil || f.loc == nil {
		return time.UTC
	}
	return f.loc
}
