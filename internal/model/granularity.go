package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Long label patterns. Day-or-coarser buckets show the date only.
const (
	PatternDate       = "%Y-%m-%d"
	PatternDateMinute = "%Y-%m-%d %H:%M"
)

// ErrUnknownGranularity is returned by ParseGranularity.
var ErrUnknownGranularity = errors.New("model: unknown granularity")

// Granularity is a time-bucket duration class. Values outside this package
// can only be the predefined ones or the zero value, which means "none".
type Granularity struct {
	name    string
	pattern string // strftime pattern for the short label
	span    time.Duration
}

var (
	Minute1  = Granularity{"1m", "%H:%M", time.Minute}
	Minute5  = Granularity{"5m", "%H:%M", 5 * time.Minute}
	Minute15 = Granularity{"15m", "%H:%M", 15 * time.Minute}
	Minute30 = Granularity{"30m", "%H:%M", 30 * time.Minute}
	Hour1    = Granularity{"1h", "%m-%d %H:%M", time.Hour}
	Hour4    = Granularity{"4h", "%m-%d %H:%M", 4 * time.Hour}
	Day      = Granularity{"1d", "%Y-%m-%d", 24 * time.Hour}
	Week     = Granularity{"1w", "%Y-%m-%d", 7 * 24 * time.Hour}
	Month    = Granularity{"1M", "%Y-%m", 30 * 24 * time.Hour}
)

// Granularities lists every supported granularity, finest first.
var Granularities = []Granularity{Minute1, Minute5, Minute15, Minute30, Hour1, Hour4, Day, Week, Month}

// ParseGranularity maps a name such as "15m" or "1d" to its Granularity.
// "1M" is a month; "1m" is a minute.
func ParseGranularity(s string) (Granularity, error) {
	s = strings.TrimSpace(s)
	for _, g := range Granularities {
		if g.name == s {
			return g, nil
		}
	}
	return Granularity{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
}

func (g Granularity) String() string       { return g.name }
func (g Granularity) Pattern() string      { return g.pattern }
func (g Granularity) Span() time.Duration  { return g.span }
func (g Granularity) IsZero() bool         { return g == Granularity{} }
func (g Granularity) IsDayOrCoarser() bool { return g.span >= 24*time.Hour }

// LongPattern is the pattern used for the full time label.
func (g Granularity) LongPattern() string {
	if g.IsDayOrCoarser() {
		return PatternDate
	}
	return PatternDateMinute
}

// Truncate aligns t to the start of its bucket (UTC). Months align to the
// first of the calendar month, weeks to Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	if g.span <= 0 {
		return t
	}
	return t.Truncate(g.span)
}
