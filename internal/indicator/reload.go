package indicator

import (
	"log/slog"

	"chartcore/internal/model"
)

// Reload swaps the engine's indicator set. Configs are validated first; on
// error the current set is kept. Since every Compute pass rebuilds its
// indicators from scratch, no warm-up state has to be migrated: the next
// Compute over the retained samples fills the new indicators in.
// Returns the names that were added and removed; both are nil when the set
// is unchanged.
func (e *Engine) Reload(newConfigs []IndicatorConfig) (added, removed []string, err error) {
	for _, cfg := range newConfigs {
		if _, err := New(cfg); err != nil {
			return nil, nil, err
		}
	}

	if indicatorSetsEqual(e.configs, newConfigs) {
		return nil, nil, nil
	}

	oldNames := e.Names()
	oldKinds := e.kinds()
	e.configs = newConfigs
	newNames := e.Names()
	newKinds := e.kinds()
	for k := range oldKinds {
		if !newKinds[k] {
			e.dropped = append(e.dropped, k)
		}
	}

	added = diffNames(newNames, oldNames)
	removed = diffNames(oldNames, newNames)

	e.log.Info("indicator set reloaded",
		slog.Int("count", len(newConfigs)),
		slog.Any("added", added),
		slog.Any("removed", removed))
	return added, removed, nil
}

// kinds returns the store keys the current configs write.
func (e *Engine) kinds() map[model.IndicatorKind]bool {
	out := make(map[model.IndicatorKind]bool, len(e.configs))
	for _, cfg := range e.configs {
		if ind, err := New(cfg); err == nil {
			out[ind.Kind()] = true
		}
	}
	return out
}

// indicatorSetsEqual checks if two indicator config slices are identical.
func indicatorSetsEqual(a, b []IndicatorConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffNames returns the names in a that are not in b.
func diffNames(a, b []string) []string {
	seen := make(map[string]bool, len(b))
	for _, n := range b {
		seen[n] = true
	}
	var out []string
	for _, n := range a {
		if !seen[n] {
			out = append(out, n)
		}
	}
	return out
}
