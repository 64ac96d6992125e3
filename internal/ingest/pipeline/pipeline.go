// Package pipeline implements the Event Pipeline: deduplication and
// confidence gating in front of harmonisation and scoring.
package pipeline

import (
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

const (
	// DefaultWindowMS is the deduplication bucket width in milliseconds.
	DefaultWindowMS int64 = 100
	// DefaultConfidenceThreshold is the minimum confidence for a
	// non-judge event to be accepted.
	DefaultConfidenceThreshold float64 = 0.6
)

// RejectReason explains why Accept returned false.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectDuplicate   RejectReason = "duplicate"
	RejectConfidence  RejectReason = "confidence"
)

type fingerprint struct {
	bout    string
	round   int
	fighter model.Fighter
	kind    model.EventKind
	bucket  int64
}

// Pipeline deduplicates and confidence-gates a stream of combat events.
// Guarded by a single mutex; fingerprint entries are evicted lazily on
// access rather than by a background sweep.
type Pipeline struct {
	mu                  sync.Mutex
	windowMS            int64
	confidenceThreshold float64
	seen                map[fingerprint]int64 // fingerprint -> bucket-of-insertion (== bucket)
}

// New builds a Pipeline. windowMS <= 0 and threshold <= 0 fall back to
// their documented defaults.
func New(windowMS int64, confidenceThreshold float64) *Pipeline {
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Pipeline{
		windowMS:            windowMS,
		confidenceThreshold: confidenceThreshold,
		seen:                make(map[fingerprint]int64),
	}
}

// Descriptor advertises this component's placement.
func (p *Pipeline) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "event-pipeline",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("deduplication", "confidence-gate")
}

// Accept evaluates one event against the dedup and confidence gates.
// Judge-originated events bypass the confidence gate.
func (p *Pipeline) Accept(e model.CombatEvent) (bool, RejectReason) {
	bucket := e.TimestampMS / p.windowMS
	fp := fingerprint{bout: e.BoutID, round: e.Round, fighter: e.Fighter, kind: e.Kind, bucket: bucket}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictExpired(bucket)

	if _, exists := p.seen[fp]; exists {
		metrics.RecordDedupOutcome(string(RejectDuplicate))
		return false, RejectDuplicate
	}

	if e.Source != model.SourceManualOperator && e.Confidence < p.confidenceThreshold {
		metrics.RecordDedupOutcome(string(RejectConfidence))
		return false, RejectConfidence
	}

	p.seen[fp] = bucket
	metrics.RecordDedupOutcome("accepted")
	return true, RejectNone
}

// evictExpired drops fingerprints whose bucket lies more than twice the
// window in the past relative to currentBucket. Callers must hold p.mu.
func (p *Pipeline) evictExpired(currentBucket int64) {
	for fp, bucket := range p.seen {
		if currentBucket-bucket > 2 {
			delete(p.seen, fp)
		}
	}
}

// Size returns the number of fingerprints currently tracked (exposed for tests).
func (p *Pipeline) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
