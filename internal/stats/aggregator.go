// Package stats implements the Stats Aggregator: a live-stats query and a
// red-vs-blue comparison query, both served from a short-lived cache over
// the events a bout's round has accumulated so far.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ringlogic/fightcore/internal/cache"
	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/internal/normalize"
	"github.com/ringlogic/fightcore/internal/scoring"
	"github.com/ringlogic/fightcore/internal/storage"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

const (
	queryKindLive       = "live"
	queryKindComparison = "comparison"

	cacheTTL             = time.Second
	latencyWarnThreshold = 200 * time.Millisecond
	recentWindowMS       = 60_000
)

// LiveStats is the current-round snapshot for one bout: per-fighter
// running totals, a last-60s window total, and the active impact flags.
type LiveStats struct {
	BoutID      string
	Round       int
	Totals      map[model.Fighter]float64
	Recent60s   map[model.Fighter]float64
	ImpactFlags map[model.Fighter][]model.ImpactFlag
}

// MetricDelta compares one normalisation dimension across both fighters.
type MetricDelta struct {
	A      float64
	B      float64
	Delta  float64
	Leader model.Fighter // "" when tied
}

// Comparison is the red-vs-blue comparison query result.
type Comparison struct {
	BoutID     string
	Round      int
	Totals     map[model.Fighter]float64
	Damage     MetricDelta
	Control    MetricDelta
	Aggression MetricDelta
}

// Aggregator serves cached live-stats and comparison queries, scoring the
// round's events on the fly on a cache miss. A round verdict need not be
// persisted yet for a live query to succeed — "live" means computed from
// whatever events have landed so far, not from a finalised verdict.
type Aggregator struct {
	events    storage.EventStore
	scoring   *scoring.Engine
	normalize *normalize.Engine
	cache     cache.Cache
	log       *logger.Logger
	retry     core.RetryPolicy
}

// New builds an Aggregator. A nil cache defaults to an in-memory,
// 1-second-TTL MemoryCache; callers that want a shared, multi-instance
// cache pass a RedisCache instead.
func New(events storage.EventStore, scoringEngine *scoring.Engine, c cache.Cache, log *logger.Logger) *Aggregator {
	if c == nil {
		c = cache.NewMemoryCache(cacheTTL)
	}
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Aggregator{
		events:    events,
		scoring:   scoringEngine,
		normalize: normalize.New(),
		cache:     c,
		log:       log,
		retry: core.RetryPolicy{
			Attempts:       2,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Multiplier:     2,
		},
	}
}

// Descriptor advertises this component's placement.
func (a *Aggregator) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "stats-aggregator",
		Domain: "compute",
		Layer:  core.LayerCompute,
	}.WithCapabilities("live-stats", "comparison")
}

func cacheKey(boutID, kind string, round int) string {
	return fmt.Sprintf("%s|%s|%d", boutID, kind, round)
}

// LiveStats returns boutID's live-stats snapshot for round, as of nowMS.
func (a *Aggregator) LiveStats(ctx context.Context, boutID string, round int, nowMS int64) (LiveStats, error) {
	key := cacheKey(boutID, queryKindLive, round)
	if cached, ok := a.cache.Get(ctx, key); ok {
		if ls, ok := cached.(LiveStats); ok {
			metrics.RecordStatsCacheOutcome("hit")
			return ls, nil
		}
	}
	metrics.RecordStatsCacheOutcome("miss")

	start := time.Now()
	result, err := a.computeLiveStats(ctx, boutID, round, nowMS)
	if err != nil {
		return LiveStats{}, err
	}
	a.warnIfSlow(boutID, queryKindLive, time.Since(start))

	a.cache.Set(ctx, key, result, cacheTTL)
	return result, nil
}

func (a *Aggregator) computeLiveStats(ctx context.Context, boutID string, round int, nowMS int64) (LiveStats, error) {
	events, err := a.listEventsWithRetry(ctx, boutID, round)
	if err != nil {
		return LiveStats{}, err
	}

	verdict := a.scoring.Score(boutID, round, events)

	recent := map[model.Fighter]float64{model.FighterA: 0, model.FighterB: 0}
	for _, ev := range events {
		if nowMS < ev.TimestampMS || nowMS-ev.TimestampMS > recentWindowMS {
			continue
		}
		w := a.normalize.Weigh(ev)
		recent[ev.Fighter] += w.Total.Damage + w.Total.Control + w.Total.Aggression
	}

	return LiveStats{
		BoutID:      boutID,
		Round:       round,
		Totals:      cloneFloatMap(verdict.RawPoints),
		Recent60s:   recent,
		ImpactFlags: cloneFlagMap(verdict.ImpactFlags),
	}, nil
}

// Comparison returns a red-vs-blue comparison for boutID's round.
func (a *Aggregator) Comparison(ctx context.Context, boutID string, round int) (Comparison, error) {
	key := cacheKey(boutID, queryKindComparison, round)
	if cached, ok := a.cache.Get(ctx, key); ok {
		if cmp, ok := cached.(Comparison); ok {
			metrics.RecordStatsCacheOutcome("hit")
			return cmp, nil
		}
	}
	metrics.RecordStatsCacheOutcome("miss")

	start := time.Now()
	result, err := a.computeComparison(ctx, boutID, round)
	if err != nil {
		return Comparison{}, err
	}
	a.warnIfSlow(boutID, queryKindComparison, time.Since(start))

	a.cache.Set(ctx, key, result, cacheTTL)
	return result, nil
}

func (a *Aggregator) computeComparison(ctx context.Context, boutID string, round int) (Comparison, error) {
	events, err := a.listEventsWithRetry(ctx, boutID, round)
	if err != nil {
		return Comparison{}, err
	}

	verdict := a.scoring.Score(boutID, round, events)

	totals := map[model.Fighter]normalize.Weights{
		model.FighterA: {},
		model.FighterB: {},
	}
	for _, ev := range events {
		w := a.normalize.Weigh(ev)
		t := totals[ev.Fighter]
		t.Damage += w.Total.Damage
		t.Control += w.Total.Control
		t.Aggression += w.Total.Aggression
		totals[ev.Fighter] = t
	}

	return Comparison{
		BoutID:     boutID,
		Round:      round,
		Totals:     cloneFloatMap(verdict.RawPoints),
		Damage:     buildDelta(totals[model.FighterA].Damage, totals[model.FighterB].Damage),
		Control:    buildDelta(totals[model.FighterA].Control, totals[model.FighterB].Control),
		Aggression: buildDelta(totals[model.FighterA].Aggression, totals[model.FighterB].Aggression),
	}, nil
}

// InvalidateRound drops both cached queries for boutID's round. The
// composition root calls this on every new event write, per §4.9's
// "manual invalidation on new event" rule — the 1s TTL alone is the
// staleness backstop, not the primary invalidation path.
func (a *Aggregator) InvalidateRound(ctx context.Context, boutID string, round int) {
	a.cache.Invalidate(ctx, cacheKey(boutID, queryKindLive, round))
	a.cache.Invalidate(ctx, cacheKey(boutID, queryKindComparison, round))
}

func (a *Aggregator) listEventsWithRetry(ctx context.Context, boutID string, round int) ([]model.CombatEvent, error) {
	var events []model.CombatEvent
	err := core.Retry(ctx, a.retry, func() error {
		evs, err := a.events.ListEvents(ctx, boutID, round)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	return events, err
}

func (a *Aggregator) warnIfSlow(boutID, kind string, elapsed time.Duration) {
	if elapsed <= latencyWarnThreshold {
		return
	}
	a.log.WithField("bout_id", boutID).
		WithField("query", kind).
		WithField("latency_ms", elapsed.Milliseconds()).
		Warn("stats query exceeded cache-miss latency budget")
}

func buildDelta(a, b float64) MetricDelta {
	d := MetricDelta{A: a, B: b, Delta: a - b}
	switch {
	case a > b:
		d.Leader = model.FighterA
	case b > a:
		d.Leader = model.FighterB
	}
	return d
}

func cloneFloatMap(in map[model.Fighter]float64) map[model.Fighter]float64 {
	out := make(map[model.Fighter]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFlagMap(in map[model.Fighter][]model.ImpactFlag) map[model.Fighter][]model.ImpactFlag {
	out := make(map[model.Fighter][]model.ImpactFlag, len(in))
	for fighter, flags := range in {
		cp := make([]model.ImpactFlag, len(flags))
		copy(cp, flags)
		out[fighter] = cp
	}
	return out
}
