// Package harmonize implements the Harmonizer: it merges concurrent
// judge-operator and CV-system event streams into one conflict-resolved
// output stream.
package harmonize

import (
	"context"
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
)

const (
	// DefaultProximityWindowMS bounds how close two events from
	// different streams must be to be considered conflict candidates.
	DefaultProximityWindowMS int64 = 200
	// RecentBufferSize is the per-stream recent-event buffer size.
	RecentBufferSize = 100

	severityMismatchThreshold = 0.3
	judgeOverrideConfidence   = 0.8
	cvPriorityConfidence      = 0.9
)

// ConflictKind classifies why two candidate events conflict.
type ConflictKind string

const (
	ConflictNone             ConflictKind = ""
	ConflictDuplicate        ConflictKind = "duplicate"
	ConflictTypeContradiction ConflictKind = "type-contradiction"
	ConflictSeverityMismatch ConflictKind = "severity-mismatch"
	ConflictTimestampProximity ConflictKind = "timestamp-proximity"
)

// Strategy names the resolution strategy chosen for a conflict.
type Strategy string

const (
	StrategySingleton         Strategy = "singleton"
	StrategyJudgeOverride     Strategy = "judge-override"
	StrategyCVPriority        Strategy = "cv-priority"
	StrategySeverityPriority  Strategy = "severity-priority"
	StrategyWeightedConfidence Strategy = "weighted-confidence"
	StrategyHybrid            Strategy = "hybrid"
)

// HarmonisedEvent is the Harmonizer's output: a resolved event plus the
// source ids it was derived from and the strategy that resolved it.
type HarmonisedEvent struct {
	Event     model.CombatEvent
	SourceIDs []string
	Strategy  Strategy
	Conflict  ConflictKind
}

type streamBuffer struct {
	events []model.CombatEvent
}

func (b *streamBuffer) push(e model.CombatEvent) {
	b.events = append(b.events, e)
	if len(b.events) > RecentBufferSize {
		b.events = b.events[len(b.events)-RecentBufferSize:]
	}
}

// Harmonizer runs a single-threaded cooperative merge loop per bout so
// conflict detection stays deterministic despite judge and CV events
// arriving from independent producers.
type Harmonizer struct {
	mu              sync.Mutex
	judgeBuffers    map[string]*streamBuffer // keyed by bout id
	cvBuffers       map[string]*streamBuffer
	proximityWindowMS int64
	log             *logger.Logger
	hooks           core.ObservationHooks
}

// New builds a Harmonizer. proximityWindowMS <= 0 uses the documented default.
func New(proximityWindowMS int64, log *logger.Logger) *Harmonizer {
	if proximityWindowMS <= 0 {
		proximityWindowMS = DefaultProximityWindowMS
	}
	if log == nil {
		log = logger.NewDefault("harmonize")
	}
	return &Harmonizer{
		judgeBuffers:      make(map[string]*streamBuffer),
		cvBuffers:         make(map[string]*streamBuffer),
		proximityWindowMS: proximityWindowMS,
		log:               log,
		hooks:             core.NoopObservationHooks,
	}
}

// WithObservationHooks configures optional callbacks around each compute
// loop iteration (spent time, in-flight count, error outcome).
func (h *Harmonizer) WithObservationHooks(hooks core.ObservationHooks) {
	h.mu.Lock()
	h.hooks = hooks
	h.mu.Unlock()
}

// Descriptor advertises this component's placement.
func (h *Harmonizer) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "harmonizer",
		Domain: "compute",
		Layer:  core.LayerCompute,
	}.WithCapabilities("stream-merge", "conflict-resolution")
}

// Name satisfies system.Service.
func (h *Harmonizer) Name() string { return "harmonizer" }

// Start is a no-op: the Harmonizer has no standalone background loop,
// it runs synchronously as callers push events through Ingest.
func (h *Harmonizer) Start(ctx context.Context) error { return nil }

// Stop is a no-op for the same reason Start is.
func (h *Harmonizer) Stop(ctx context.Context) error { return nil }

// IngestJudge merges one judge-operator event against the CV stream's
// recent buffer.
func (h *Harmonizer) IngestJudge(ctx context.Context, e model.CombatEvent) HarmonisedEvent {
	return h.ingest(ctx, e, true)
}

// IngestCV merges one CV-system event against the judge stream's recent buffer.
func (h *Harmonizer) IngestCV(ctx context.Context, e model.CombatEvent) HarmonisedEvent {
	return h.ingest(ctx, e, false)
}

func (h *Harmonizer) ingest(ctx context.Context, e model.CombatEvent, fromJudge bool) HarmonisedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	done := core.StartObservation(ctx, h.hooks, map[string]string{"bout_id": e.BoutID})
	var err error
	defer func() { done(err) }()

	ownBuffers, otherBuffers := h.judgeBuffers, h.cvBuffers
	if !fromJudge {
		ownBuffers, otherBuffers = h.cvBuffers, h.judgeBuffers
	}

	own := bufferFor(ownBuffers, e.BoutID)
	other := bufferFor(otherBuffers, e.BoutID)

	candidate, found := findCandidate(other, e, h.proximityWindowMS)
	own.push(e)

	if !found {
		return HarmonisedEvent{Event: e, SourceIDs: []string{e.ID}, Strategy: StrategySingleton}
	}

	var judgeEvent, cvEvent model.CombatEvent
	if fromJudge {
		judgeEvent, cvEvent = e, candidate
	} else {
		judgeEvent, cvEvent = candidate, e
	}

	conflict := classifyConflict(judgeEvent, cvEvent)
	resolved, strategy := resolve(judgeEvent, cvEvent, conflict)
	resolved.SourceIDs = []string{judgeEvent.ID, cvEvent.ID}

	h.log.WithField("bout_id", e.BoutID).WithField("conflict", conflict).WithField("strategy", strategy).Debug("harmonised conflicting events")

	return HarmonisedEvent{Event: resolved, SourceIDs: resolved.SourceIDs, Strategy: strategy, Conflict: conflict}
}

func bufferFor(buffers map[string]*streamBuffer, boutID string) *streamBuffer {
	b, ok := buffers[boutID]
	if !ok {
		b = &streamBuffer{}
		buffers[boutID] = b
	}
	return b
}

func findCandidate(other *streamBuffer, e model.CombatEvent, windowMS int64) (model.CombatEvent, bool) {
	for i := len(other.events) - 1; i >= 0; i-- {
		c := other.events[i]
		if c.Fighter != e.Fighter {
			continue
		}
		delta := e.TimestampMS - c.TimestampMS
		if delta < 0 {
			delta = -delta
		}
		if delta <= windowMS {
			return c, true
		}
	}
	return model.CombatEvent{}, false
}

func classifyConflict(judgeEvent, cvEvent model.CombatEvent) ConflictKind {
	if judgeEvent.Kind == cvEvent.Kind {
		return ConflictDuplicate
	}
	if isKnockdown(judgeEvent.Kind) && isKnockdown(cvEvent.Kind) {
		return ConflictTypeContradiction
	}
	diff := judgeEvent.Severity - cvEvent.Severity
	if diff < 0 {
		diff = -diff
	}
	if diff > severityMismatchThreshold {
		return ConflictSeverityMismatch
	}
	return ConflictTimestampProximity
}

func isKnockdown(k model.EventKind) bool {
	switch k {
	case model.KindKnockdownFlash, model.KindKnockdownHard, model.KindKnockdownNearFinish:
		return true
	default:
		return false
	}
}

func resolve(judgeEvent, cvEvent model.CombatEvent, conflict ConflictKind) (model.CombatEvent, Strategy) {
	switch {
	case judgeEvent.Confidence >= judgeOverrideConfidence:
		out := judgeEvent
		out.Canonical = true
		return out, StrategyJudgeOverride
	case cvEvent.Confidence >= cvPriorityConfidence:
		out := cvEvent
		out.Canonical = true
		return out, StrategyCVPriority
	case conflict == ConflictTypeContradiction:
		if judgeEvent.Severity >= cvEvent.Severity {
			out := judgeEvent
			out.Canonical = true
			return out, StrategySeverityPriority
		}
		out := cvEvent
		out.Canonical = true
		return out, StrategySeverityPriority
	case conflict == ConflictDuplicate:
		out := judgeEvent
		totalConf := judgeEvent.Confidence + cvEvent.Confidence
		if totalConf > 0 {
			out.Severity = (judgeEvent.Severity*judgeEvent.Confidence + cvEvent.Severity*cvEvent.Confidence) / totalConf
		}
		out.Confidence = (judgeEvent.Confidence + cvEvent.Confidence) / 2
		out.Canonical = true
		return out, StrategyWeightedConfidence
	default:
		out := judgeEvent
		out.Severity = 0.6*judgeEvent.Severity + 0.4*cvEvent.Severity
		meanConfidence := (judgeEvent.Confidence + cvEvent.Confidence) / 2
		out.Confidence = meanConfidence * 1.1
		if out.Confidence > 1.0 {
			out.Confidence = 1.0
		}
		out.Canonical = true
		return out, StrategyHybrid
	}
}
