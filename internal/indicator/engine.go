package indicator

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"chartcore/internal/fixedpoint"
	"chartcore/internal/model"
)

// Engine computes a configured indicator set over a run of samples and
// pushes the results into each sample's stores.
// Designed for single-goroutine usage, no locks.
type Engine struct {
	configs []IndicatorConfig
	log     *slog.Logger

	// kinds dropped by Reload, cleared from every sample on the next pass
	dropped []model.IndicatorKind

	// OnCompute is called after every Compute pass (optional).
	OnCompute func(samples, values int, took time.Duration)
}

// NewEngine validates configs and returns an Engine. logger may be nil.
func NewEngine(configs []IndicatorConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, cfg := range configs {
		if _, err := New(cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{configs: configs, log: logger}, nil
}

// group is the set of indicators that share one store key, shortest period
// first.
type group struct {
	kind    model.IndicatorKind
	line    bool
	parts   []Indicator
	periods []int
}

// readyParts returns how many leading parts are ready.
func (g *group) readyParts() int {
	for i, ind := range g.parts {
		if !ind.Ready() {
			return i
		}
	}
	return len(g.parts)
}

// Compute recomputes every indicator from scratch over samples, which must
// be in time order and already at precision p.
//
// Indicators of one kind share a store entry. Their values are laid out by
// ascending period (MA5 then MA10, each BOLL as mid/upper/lower), and a
// sample carries the values of the periods that are already warmed up, so
// MA5 shows from the fifth sample and MA10 joins it from the tenth. While no
// period of a kind is ready any stale entry for it is removed. Returns the
// number of store entries written.
func (e *Engine) Compute(samples []*model.Sample, p model.Precision) int {
	start := time.Now()
	groups := e.groups()

	written := 0
	for _, s := range samples {
		for _, kind := range e.dropped {
			s.Indicators().Delete(kind)
			s.LineIndicators().Delete(kind)
		}
		for _, g := range groups {
			for _, ind := range g.parts {
				ind.Update(s, p)
			}

			store := s.Indicators()
			if g.line {
				store = s.LineIndicators()
			}
			n := g.readyParts()
			if n == 0 {
				store.Delete(g.kind)
				continue
			}

			values := make([]fixedpoint.Value, 0, n*3)
			for _, ind := range g.parts[:n] {
				values = append(values, ind.Values(p)...)
			}
			store.Put(g.kind, values...)
			written++
		}
	}

	e.dropped = nil

	took := time.Since(start)
	e.log.Debug("indicators computed",
		slog.Int("samples", len(samples)),
		slog.Int("entries", written),
		slog.Duration("took", took))
	if e.OnCompute != nil {
		e.OnCompute(len(samples), written, took)
	}
	return written
}

// groups builds fresh indicator instances, grouped by kind in config order.
func (e *Engine) groups() []*group {
	byKind := make(map[model.IndicatorKind]*group, len(e.configs))
	var out []*group
	for _, cfg := range e.configs {
		ind, err := New(cfg)
		if err != nil {
			// configs were validated in NewEngine
			panic(fmt.Sprintf("indicator: %v", err))
		}
		g, ok := byKind[ind.Kind()]
		if !ok {
			g = &group{kind: ind.Kind(), line: ind.Line()}
			byKind[ind.Kind()] = g
			out = append(out, g)
		}
		g.parts = append(g.parts, ind)
		g.periods = append(g.periods, cfg.Period)
	}
	for _, g := range out {
		sort.Stable(g)
	}
	return out
}

func (g *group) Len() int           { return len(g.parts) }
func (g *group) Less(i, j int) bool { return g.periods[i] < g.periods[j] }
func (g *group) Swap(i, j int) {
	g.parts[i], g.parts[j] = g.parts[j], g.parts[i]
	g.periods[i], g.periods[j] = g.periods[j], g.periods[i]
}

// Names returns the configured indicator names in config order.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.configs))
	for _, cfg := range e.configs {
		if ind, err := New(cfg); err == nil {
			names = append(names, ind.Name())
		}
	}
	return names
}
