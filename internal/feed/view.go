package feed

import (
	"time"

	"chartcore/internal/model"
)

// SampleView is the JSON shape of one sample served on /series.
type SampleView struct {
	Time          time.Time           `json:"time"`
	TimeText      string              `json:"time_text"`
	ShortTimeText string              `json:"short_time_text"`
	Open          string              `json:"open"`
	High          string              `json:"high"`
	Low           string              `json:"low"`
	Close         string              `json:"close"`
	Volume        string              `json:"volume"`
	Change        string              `json:"change"`
	ChangePct     string              `json:"change_pct"`
	Marker        string              `json:"marker,omitempty"`
	Indicators    map[string][]string `json:"indicators,omitempty"`
	Lines         map[string][]string `json:"lines,omitempty"`
}

// NewSampleView renders s with every value's current text.
func NewSampleView(s *model.Sample) SampleView {
	v := SampleView{
		Time:          s.Time().UTC(),
		TimeText:      s.TimeText(),
		ShortTimeText: s.ShortTimeText(),
		Open:          s.Open().Text(),
		High:          s.High().Text(),
		Low:           s.Low().Text(),
		Close:         s.Close().Text(),
		Volume:        s.Volume().Text(),
		Change:        s.ChangeAmount().Text(),
		ChangePct:     s.ChangeProportion().Text(),
		Indicators:    storeView(s.Indicators()),
		Lines:         storeView(s.LineIndicators()),
	}
	if m := s.Marker(); m != model.MarkerNormal {
		v.Marker = m.String()
	}
	return v
}

func storeView(store *model.IndicatorStore) map[string][]string {
	if store.Len() == 0 {
		return nil
	}
	out := make(map[string][]string, store.Len())
	for _, kind := range store.Kinds() {
		values, _ := store.Get(kind)
		texts := make([]string, len(values))
		for i, v := range values {
			texts[i] = v.Text()
		}
		out[kind.String()] = texts
	}
	return out
}
