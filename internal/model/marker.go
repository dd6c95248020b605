package model

// MarkerVariant selects the marker glyph drawn at a bucket, if any.
type MarkerVariant uint8

const (
	MarkerNormal MarkerVariant = iota // no marker
	MarkerBuy
	MarkerSell
	MarkerAlert
)

func (m MarkerVariant) String() string {
	switch m {
	case MarkerNormal:
		return "normal"
	case MarkerBuy:
		return "buy"
	case MarkerSell:
		return "sell"
	case MarkerAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// ParseMarkerVariant maps a name such as "buy" back to its variant.
func ParseMarkerVariant(s string) (MarkerVariant, bool) {
	for m := MarkerNormal; m <= MarkerAlert; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return MarkerNormal, false
}

// Rect is an axis-aligned rectangle in rendered coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

// Valid reports whether the edges are ordered.
func (r Rect) Valid() bool {
	return r.Left <= r.Right && r.Top <= r.Bottom
}

// Empty reports whether r encloses no area.
func (r Rect) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() && x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}
