package stats

import (
	"context"
	"testing"

	"github.com/ringlogic/fightcore/internal/cache"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/internal/scoring"
	"github.com/ringlogic/fightcore/internal/storage"
)

func seedEvents(t *testing.T, store storage.EventStore, boutID string, round int) {
	t.Helper()
	ctx := context.Background()
	events := []model.CombatEvent{
		{BoutID: boutID, Round: round, Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 1000, Severity: 0.8, Confidence: 0.9},
		{BoutID: boutID, Round: round, Fighter: model.FighterB, Kind: model.KindTakedownLanded, TimestampMS: 2000, Severity: 0.6, Confidence: 0.9},
	}
	for _, ev := range events {
		if _, err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
}

func TestLiveStats_ComputesOnCacheMiss(t *testing.T) {
	store := storage.NewMemory()
	seedEvents(t, store, "bout-1", 1)

	agg := New(store, scoring.New(nil), nil, nil)
	stats, err := agg.LiveStats(context.Background(), "bout-1", 1, 2000)
	if err != nil {
		t.Fatalf("live stats: %v", err)
	}
	if stats.Totals[model.FighterA] <= 0 {
		t.Errorf("expected fighter A to have scored points, got %v", stats.Totals[model.FighterA])
	}
}

func TestLiveStats_SecondCallServedFromCache(t *testing.T) {
	store := storage.NewMemory()
	seedEvents(t, store, "bout-1", 1)

	agg := New(store, scoring.New(nil), nil, nil)
	ctx := context.Background()

	first, err := agg.LiveStats(ctx, "bout-1", 1, 2000)
	if err != nil {
		t.Fatalf("live stats: %v", err)
	}

	// Append another event directly to the store, bypassing
	// InvalidateRound — the cached result must still be served until the
	// TTL elapses or InvalidateRound is called.
	store.AppendEvent(ctx, model.CombatEvent{BoutID: "bout-1", Round: 1, Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 3000})

	second, err := agg.LiveStats(ctx, "bout-1", 1, 3000)
	if err != nil {
		t.Fatalf("live stats: %v", err)
	}
	if second.Totals[model.FighterA] != first.Totals[model.FighterA] {
		t.Errorf("expected cached result to be unaffected by the new event, got %v vs %v", second.Totals[model.FighterA], first.Totals[model.FighterA])
	}
}

func TestLiveStats_RecomputesAfterInvalidate(t *testing.T) {
	store := storage.NewMemory()
	seedEvents(t, store, "bout-1", 1)

	agg := New(store, scoring.New(nil), nil, nil)
	ctx := context.Background()

	first, _ := agg.LiveStats(ctx, "bout-1", 1, 2000)

	store.AppendEvent(ctx, model.CombatEvent{BoutID: "bout-1", Round: 1, Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 3000})
	agg.InvalidateRound(ctx, "bout-1", 1)

	second, _ := agg.LiveStats(ctx, "bout-1", 1, 3000)
	if second.Totals[model.FighterA] <= first.Totals[model.FighterA] {
		t.Errorf("expected invalidated query to recompute higher total, got %v vs %v", second.Totals[model.FighterA], first.Totals[model.FighterA])
	}
}

func TestLiveStats_Recent60sExcludesOlderEvents(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	store.AppendEvent(ctx, model.CombatEvent{BoutID: "bout-1", Round: 1, Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 0, Severity: 1, Confidence: 1})
	store.AppendEvent(ctx, model.CombatEvent{BoutID: "bout-1", Round: 1, Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 90_000, Severity: 1, Confidence: 1})

	agg := New(store, scoring.New(nil), nil, nil)
	stats, err := agg.LiveStats(ctx, "bout-1", 1, 90_000)
	if err != nil {
		t.Fatalf("live stats: %v", err)
	}
	if stats.Recent60s[model.FighterA] <= 0 {
		t.Error("expected the recent event to contribute to the 60s window total")
	}
	if stats.Recent60s[model.FighterA] >= stats.Totals[model.FighterA] {
		t.Errorf("expected the 60s window to be smaller than the whole-round total once the older event ages out, got recent=%v total=%v", stats.Recent60s[model.FighterA], stats.Totals[model.FighterA])
	}
}

func TestComparison_LeaderReflectsHigherTotal(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	store.AppendEvent(ctx, model.CombatEvent{BoutID: "bout-1", Round: 1, Fighter: model.FighterA, Kind: model.KindTakedownLanded, TimestampMS: 1000, Severity: 1, Confidence: 1})

	agg := New(store, scoring.New(nil), nil, nil)
	cmp, err := agg.Comparison(ctx, "bout-1", 1)
	if err != nil {
		t.Fatalf("comparison: %v", err)
	}
	if cmp.Control.Leader != model.FighterA {
		t.Errorf("expected fighter A to lead control, got leader=%v delta=%+v", cmp.Control.Leader, cmp.Control)
	}
}

func TestComparison_TiedMetricHasNoLeader(t *testing.T) {
	store := storage.NewMemory()
	agg := New(store, scoring.New(nil), nil, nil)
	cmp, err := agg.Comparison(context.Background(), "bout-empty", 1)
	if err != nil {
		t.Fatalf("comparison: %v", err)
	}
	if cmp.Damage.Leader != "" {
		t.Errorf("expected no leader for an event-free round, got %v", cmp.Damage.Leader)
	}
}

func TestNew_DefaultsToMemoryCacheWhenNil(t *testing.T) {
	store := storage.NewMemory()
	agg := New(store, scoring.New(nil), nil, nil)
	if _, ok := agg.cache.(*cache.MemoryCache); !ok {
		t.Errorf("expected default cache to be a MemoryCache, got %T", agg.cache)
	}
}
