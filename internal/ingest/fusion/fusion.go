// Package fusion implements the Multi-camera Fuser: it merges
// same-fighter, same-event-type detections arriving from multiple
// camera angles within a short window into one canonical event.
package fusion

import (
	"context"
	"sort"
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
)

const (
	// DefaultWindowMS is the fusion window in milliseconds.
	DefaultWindowMS int64 = 150

	frontArcWeight  = 1.0
	sideArcWeight   = 0.7
	noAngleWeight   = 0.8
	frontArcLowDeg  = 45.0
	frontArcHighDeg = 135.0
	backArcLowDeg   = 225.0
	backArcHighDeg  = 315.0
)

// Fuser groups a batch of classified events and resolves each group to
// one canonical event.
type Fuser struct {
	mu       sync.Mutex
	windowMS int64
	hooks    core.ObservationHooks
}

// New builds a Fuser with the given fusion window; windowMS <= 0 uses
// DefaultWindowMS.
func New(windowMS int64) *Fuser {
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}
	return &Fuser{windowMS: windowMS, hooks: core.NoopObservationHooks}
}

// WithObservationHooks configures optional callbacks around each fusion
// window evaluation.
func (f *Fuser) WithObservationHooks(hooks core.ObservationHooks) {
	f.mu.Lock()
	f.hooks = hooks
	f.mu.Unlock()
}

// Descriptor advertises this component's placement.
func (f *Fuser) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "multi-camera-fuser",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("multi-camera-fusion")
}

// Fuse groups events by (fighter, kind, window bucket) and replaces
// each group of size > 1 with one canonical event; singleton groups
// pass through unchanged. Applying Fuse to an already-fused stream is
// idempotent: every group in a fused stream has size 1.
func (f *Fuser) Fuse(ctx context.Context, events []model.CombatEvent) []model.CombatEvent {
	if len(events) == 0 {
		return events
	}

	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	done := core.StartObservation(ctx, hooks, map[string]string{"bout_id": events[0].BoutID})
	var err error
	defer func() { done(err) }()

	sorted := make([]model.CombatEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMS < sorted[j].TimestampMS
	})

	type groupKey struct {
		fighter model.Fighter
		kind    model.EventKind
		bucket  int64
	}

	groups := make(map[groupKey][]model.CombatEvent)
	order := make([]groupKey, 0, len(sorted))
	for _, e := range sorted {
		key := groupKey{fighter: e.Fighter, kind: e.Kind, bucket: e.TimestampMS / f.windowMS}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	out := make([]model.CombatEvent, 0, len(sorted))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		out = append(out, f.canonicalize(group))
	}
	return out
}

func (f *Fuser) canonicalize(group []model.CombatEvent) model.CombatEvent {
	best := group[0]
	bestScore := fusionScore(best)
	var confSum float64

	for _, e := range group {
		confSum += e.Confidence
		if score := fusionScore(e); score > bestScore {
			best = e
			bestScore = score
		}
	}

	canonical := best
	canonical.Confidence = confSum / float64(len(group))
	canonical.Canonical = true
	canonical.WithExt("camera_count", float64(len(group)))
	return canonical
}

func fusionScore(e model.CombatEvent) float64 {
	return e.Confidence * e.Severity * angleWeight(e.CameraAngle)
}

func angleWeight(angle *float64) float64 {
	if angle == nil {
		return noAngleWeight
	}
	a := normalizeDegrees(*angle)
	if a >= frontArcLowDeg && a <= frontArcHighDeg {
		return frontArcWeight
	}
	if a >= backArcLowDeg && a <= backArcHighDeg {
		return frontArcWeight
	}
	return sideArcWeight
}

func normalizeDegrees(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}
