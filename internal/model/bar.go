package model

import (
	"encoding/json"
	"time"
)

// Bar is a bucket as it arrives from a data source: OHLCV as decimal
// strings, so the source's precision survives until a Sample is built.
type Bar struct {
	Symbol      string    `json:"symbol"`
	Granularity string    `json:"granularity"` // e.g. "1m", "1d"
	TS          time.Time `json:"ts"`          // bucket start time (UTC)
	Open        string    `json:"open"`
	High        string    `json:"high"`
	Low         string    `json:"low"`
	Close       string    `json:"close"`
	Volume      string    `json:"volume"`
}

// StreamKey returns the Redis stream key: "bars:{granularity}:{symbol}".
func (b *Bar) StreamKey() string {
	return StreamKey(b.Granularity, b.Symbol)
}

// StreamKey builds the Redis stream key for a granularity and symbol.
func StreamKey(granularity, symbol string) string {
	return "bars:" + granularity + ":" + symbol
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// Sample parses the bar into a Sample.
func (b *Bar) Sample(anim Animator) (*Sample, error) {
	return NewSample(b.Open, b.High, b.Low, b.Close, b.Volume, b.TS, anim)
}

// BarFromSample renders s back into a Bar using each field's current text.
func BarFromSample(symbol string, g Granularity, s *Sample) Bar {
	return Bar{
		Symbol:      symbol,
		Granularity: g.String(),
		TS:          s.Time().UTC(),
		Open:        s.Open().Text(),
		High:        s.High().Text(),
		Low:         s.Low().Text(),
		Close:       s.Close().Text(),
		Volume:      s.Volume().Text(),
	}
}
