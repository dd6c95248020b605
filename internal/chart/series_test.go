package chart

import (
	"errors"
	"testing"
	"time"

	"chartcore/internal/model"
	"chartcore/internal/timefmt"
)

var baseTS = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// makeSample creates a 1m sample i minutes after baseTS.
func makeSample(t *testing.T, i int, open, closing string) *model.Sample {
	t.Helper()
	s, err := model.NewSample(open, open, closing, closing, "10", baseTS.Add(time.Duration(i)*time.Minute), nil)
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	return s
}

func newSeries(t *testing.T, n int) *Series {
	t.Helper()
	s := New("TEST", timefmt.New(nil), nil)
	for i := 0; i < n; i++ {
		if err := s.Append(makeSample(t, i, "100.00", "101.00")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	return s
}

func TestSeries_SetPrecision(t *testing.T) {
	s := newSeries(t, 5)

	var hookChanged []int
	s.OnRescale = func(changed int, _ time.Duration) { hookChanged = append(hookChanged, changed) }

	n, err := s.SetPrecision(model.Precision{Quote: 2, Base: 0})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("first pass changed %d samples, want 5", n)
	}
	if n, _ := s.SetPrecision(model.Precision{Quote: 2, Base: 0}); n != 0 {
		t.Errorf("repeat pass changed %d samples, want 0", n)
	}
	if n, _ := s.SetPrecision(model.Precision{Quote: 4, Base: 0}); n != 5 {
		t.Errorf("quote change touched %d samples, want 5", n)
	}
	if len(hookChanged) != 3 || hookChanged[1] != 0 {
		t.Errorf("OnRescale calls = %v", hookChanged)
	}

	for i, sample := range s.Samples() {
		if sample.Open().Text() != "100.0000" || sample.ChangeAmount().Text() != "1.0000" {
			t.Errorf("sample %d: open=%s change=%s", i, sample.Open(), sample.ChangeAmount())
		}
		if sample.ChangeProportion().Text() != "1.00" {
			t.Errorf("sample %d: proportion=%s", i, sample.ChangeProportion())
		}
	}
}

func TestSeries_SetPrecision_Invalid(t *testing.T) {
	s := newSeries(t, 1)
	if _, err := s.SetPrecision(model.Precision{Quote: 30}); !errors.Is(err, model.ErrInvalidPrecision) {
		t.Errorf("err = %v", err)
	}
}

func TestSeries_AppendAppliesActiveState(t *testing.T) {
	s := newSeries(t, 0)
	s.SetPrecision(model.Precision{Quote: 3, Base: 2})
	s.SetGranularity(model.Minute1)

	if err := s.Append(makeSample(t, 0, "1.5", "1.25")); err != nil {
		t.Fatal(err)
	}
	got := s.Last()
	if got.Close().Text() != "1.250" || got.Volume().Text() != "10.00" {
		t.Errorf("appended sample not rescaled: close=%s volume=%s", got.Close(), got.Volume())
	}
	if got.ShortTimeText() != "09:00" || got.TimeText() != "2024-03-01 09:00" {
		t.Errorf("appended sample labels = %q / %q", got.ShortTimeText(), got.TimeText())
	}
}

func TestSeries_AppendReplacesSameBucket(t *testing.T) {
	s := newSeries(t, 3)
	live := makeSample(t, 2, "100.00", "99.00")
	if err := s.Append(live); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 || s.Last() != live {
		t.Errorf("same-bucket append should replace the last sample, len=%d", s.Len())
	}
}

func TestSeries_AppendOutOfOrder(t *testing.T) {
	s := newSeries(t, 3)
	err := s.Append(makeSample(t, 1, "1", "1"))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
	if s.Len() != 3 {
		t.Errorf("rejected sample changed length to %d", s.Len())
	}
}

func TestSeries_SetGranularity(t *testing.T) {
	s := newSeries(t, 4)
	rebuilt := -1
	s.OnLabels = func(n int) { rebuilt = n }

	if n := s.SetGranularity(model.Day); n != 4 || rebuilt != 4 {
		t.Errorf("first relabel = %d (hook %d), want 4", n, rebuilt)
	}
	if n := s.SetGranularity(model.Day); n != 0 {
		t.Errorf("repeat relabel = %d, want 0", n)
	}
	if s.At(0).TimeText() != "2024-03-01" {
		t.Errorf("day label = %q", s.At(0).TimeText())
	}
	if s.Granularity() != model.Day {
		t.Errorf("Granularity() = %v", s.Granularity())
	}
}

func TestSeries_Retain(t *testing.T) {
	s := newSeries(t, 10)
	dropped := 0
	s.OnDropped = func(n int) { dropped = n }

	if n := s.Retain(4); n != 6 || dropped != 6 {
		t.Fatalf("Retain(4) dropped %d (hook %d), want 6", n, dropped)
	}
	if s.Len() != 4 {
		t.Fatalf("Len() = %d", s.Len())
	}
	if !s.At(0).Time().Equal(baseTS.Add(6 * time.Minute)) {
		t.Errorf("oldest retained = %v", s.At(0).Time())
	}
	if n := s.Retain(10); n != 0 {
		t.Errorf("Retain above length dropped %d", n)
	}
}

func TestSeries_HitTest(t *testing.T) {
	s := newSeries(t, 3)
	s.UpdateHitRegion(0, model.Rect{Left: 0, Top: 0, Right: 10, Bottom: 10})
	s.UpdateHitRegion(1, model.Rect{Left: 5, Top: 0, Right: 15, Bottom: 10})
	s.UpdateHitRegion(2, model.Rect{Left: 20, Top: 10, Right: 10, Bottom: 0}) // inverted

	if _, ok := s.HitTest(7, 5); ok {
		t.Error("samples without a marker should not be hit")
	}

	s.At(0).SetMarker(model.MarkerBuy)
	s.At(1).SetMarker(model.MarkerSell)
	s.At(2).SetMarker(model.MarkerAlert)

	got, ok := s.HitTest(7, 5)
	if !ok || got != s.At(1) {
		t.Errorf("overlapping hit should return the newest sample")
	}
	got, ok = s.HitTest(2, 2)
	if !ok || got != s.At(0) {
		t.Errorf("HitTest(2,2) = %v, %v", got, ok)
	}
	if _, ok := s.HitTest(17, 5); ok {
		t.Error("inverted region should never be hit")
	}
}

func TestSeries_IndexOf(t *testing.T) {
	s := newSeries(t, 6)
	if i := s.IndexOf(baseTS.Add(4 * time.Minute)); i != 4 {
		t.Errorf("IndexOf = %d, want 4", i)
	}
	if i := s.IndexOf(baseTS.Add(90 * time.Second)); i != -1 {
		t.Errorf("IndexOf missing bucket = %d", i)
	}
}
