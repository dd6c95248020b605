// Package replay reads stored bars and emits them at a configurable speed,
// used to seed a live stream from history.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"chartcore/internal/model"
)

// maxGap caps the simulated wait between two bars.
const maxGap = 5 * time.Second

// Source is the bar history a Replayer reads from.
// *sqlite.Reader satisfies it.
type Source interface {
	ReadBuckets(symbol, granularity string, afterTS int64) ([]model.Bar, error)
}

// Replayer reads historical bars and replays them at a configurable speed
// multiplier.
type Replayer struct {
	source Source
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by source.
func New(source Source) *Replayer {
	return &Replayer{source: source, sleep: sleepCtx}
}

// Run replays the bars of every symbol in symbols at granularity, merged in
// time order, into outCh. speed controls the playback rate: 1.0 = real-time,
// 10.0 = 10x, 0 = as fast as possible. fromTS filters bars to those after this
// Unix timestamp (0 = all). Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, symbols []string, granularity string, fromTS int64, speed float64, outCh chan<- model.Bar) (int, error) {
	var all []model.Bar
	for _, sym := range symbols {
		bars, err := r.source.ReadBuckets(sym, granularity, fromTS)
		if err != nil {
			return 0, err
		}
		all = append(all, bars...)
	}

	if len(all) == 0 {
		log.Println("[replay] no bars found")
		return 0, nil
	}

	// bars of different symbols interleave
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(all), len(symbols), speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range all {
		if !prevTS.IsZero() {
			if gap := ScaledGap(b.TS.Sub(prevTS), speed); gap > 0 {
				if err := r.sleep(ctx, gap); err != nil {
					log.Printf("[replay] cancelled after %d bars", emitted)
					return emitted, err
				}
			}
		}
		prevTS = b.TS

		select {
		case outCh <- b:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}

// ScaledGap is the wall-clock wait between two bars gap apart at speed.
// Zero speed or a non-positive gap means no wait; waits are capped at maxGap.
func ScaledGap(gap time.Duration, speed float64) time.Duration {
	if speed <= 0 || gap <= 0 {
		return 0
	}
	scaled := time.Duration(float64(gap) / speed)
	if scaled > maxGap {
		return maxGap
	}
	return scaled
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
