package model

import (
	"sort"

	"chartcore/internal/fixedpoint"
)

// IndicatorKind identifies a technical indicator series.
type IndicatorKind uint8

const (
	KindMA IndicatorKind = iota + 1
	KindEMA
	KindBOLL
	KindMACD
	KindRSI
	KindVolMA
)

var kindNames = map[IndicatorKind]string{
	KindMA:    "MA",
	KindEMA:   "EMA",
	KindBOLL:  "BOLL",
	KindMACD:  "MACD",
	KindRSI:   "RSI",
	KindVolMA: "VOLMA",
}

func (k IndicatorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// Valid reports whether k is one of the declared kinds.
func (k IndicatorKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseIndicatorKind maps a name such as "EMA" back to its kind.
func ParseIndicatorKind(s string) (IndicatorKind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// IndicatorStore is a sparse per-bucket map of indicator values.
// The zero value is ready to use.
type IndicatorStore struct {
	m map[IndicatorKind][]fixedpoint.Value
}

// Put stores values under kind, replacing any previous entry.
func (s *IndicatorStore) Put(kind IndicatorKind, values ...fixedpoint.Value) {
	if s.m == nil {
		s.m = make(map[IndicatorKind][]fixedpoint.Value, 4)
	}
	s.m[kind] = values
}

// Get returns the values stored under kind; ok is false if none were put.
func (s *IndicatorStore) Get(kind IndicatorKind) ([]fixedpoint.Value, bool) {
	v, ok := s.m[kind]
	return v, ok
}

// Delete removes kind from the store.
func (s *IndicatorStore) Delete(kind IndicatorKind) {
	delete(s.m, kind)
}

func (s *IndicatorStore) Len() int { return len(s.m) }

// Kinds returns the stored kinds in ascending order.
func (s *IndicatorStore) Kinds() []IndicatorKind {
	kinds := make([]IndicatorKind, 0, len(s.m))
	for k := range s.m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
