// Package smoother implements the Temporal Smoother: a per-stream
// rolling window that gates bursty, low-confidence CV output before it
// reaches classification.
package smoother

import (
	"context"
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
)

const (
	// DefaultWindow is W from §4.3.
	DefaultWindow = 5
	// ConsistencyGate is the minimum share the most common action label
	// must hold across the window for the window to pass.
	ConsistencyGate = 0.6
	// ConfidenceFloor is the minimum window-averaged top-1 confidence.
	ConfidenceFloor = 0.6
	// FlowGate is the optical-flow magnitude required alongside a
	// heavy/critical impact tier.
	FlowGate = 3.0
)

// streamWindow holds the rolling buffer for one bout+camera stream.
// Stateful and not restartable: restarting a stream loses the W-1
// warm-up frames already buffered.
type streamWindow struct {
	mu      sync.Mutex
	window  int
	buffer  []model.RawCVInput
}

// Smoother owns one rolling window per stream key.
type Smoother struct {
	mu      sync.Mutex
	streams map[string]*streamWindow
	window  int
	log     *logger.Logger
	hooks   core.ObservationHooks
}

// New builds a Smoother using window as the rolling-window size
// (DefaultWindow when window <= 0).
func New(window int, log *logger.Logger) *Smoother {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = logger.NewDefault("ingest.smoother")
	}
	return &Smoother{
		streams: make(map[string]*streamWindow),
		window:  window,
		log:     log,
		hooks:   core.NoopObservationHooks,
	}
}

// WithObservationHooks configures optional callbacks around each window
// evaluation.
func (s *Smoother) WithObservationHooks(hooks core.ObservationHooks) {
	s.mu.Lock()
	s.hooks = hooks
	s.mu.Unlock()
}

// Descriptor advertises this component's placement.
func (s *Smoother) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "temporal-smoother",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("temporal-consistency-gate")
}

// Push feeds one raw CV input into its stream's rolling window. It
// returns the smoothed frame (most recent sample, confidence replaced
// by the window-averaged top-1 confidence) and true when the window
// passes the consistency, confidence, and optical-flow gates; false
// means the sample was absorbed into the window but nothing should be
// emitted yet or the gates rejected it.
func (s *Smoother) Push(ctx context.Context, streamID string, in model.RawCVInput) (model.RawCVInput, bool) {
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	done := core.StartObservation(ctx, hooks, map[string]string{"stream_id": streamID})
	var err error
	defer func() { done(err) }()

	sw := s.windowFor(streamID)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.buffer = append(sw.buffer, in)
	if len(sw.buffer) > sw.window {
		sw.buffer = sw.buffer[len(sw.buffer)-sw.window:]
	}
	if len(sw.buffer) < sw.window {
		return model.RawCVInput{}, false
	}

	counts := make(map[model.ActionLabel]int, sw.window)
	var confSum float64
	for _, f := range sw.buffer {
		counts[f.Action]++
		confSum += topConfidence(f)
	}

	mostCommon, mostCommonCount := majority(counts)
	share := float64(mostCommonCount) / float64(sw.window)
	avgConfidence := confSum / float64(sw.window)

	latest := sw.buffer[len(sw.buffer)-1]

	if share < ConsistencyGate {
		return model.RawCVInput{}, false
	}
	if avgConfidence < ConfidenceFloor {
		return model.RawCVInput{}, false
	}
	if (latest.ImpactTier == model.ImpactHeavy || latest.ImpactTier == model.ImpactCritical) && latest.ImpactDetected {
		if latest.FlowMagnitude == nil || *latest.FlowMagnitude <= FlowGate {
			return model.RawCVInput{}, false
		}
	}

	out := latest
	out.Action = mostCommon
	if out.ActionLogits == nil {
		out.ActionLogits = map[model.ActionLabel]float64{}
	}
	out.ActionLogits[mostCommon] = avgConfidence
	return out, true
}

func (s *Smoother) windowFor(streamID string) *streamWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.streams[streamID]
	if !ok {
		sw = &streamWindow{window: s.window}
		s.streams[streamID] = sw
	}
	return sw
}

// Reset drops a stream's buffered warm-up state.
func (s *Smoother) Reset(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
}

func topConfidence(in model.RawCVInput) float64 {
	best := 0.0
	for _, v := range in.ActionLogits {
		if v > best {
			best = v
		}
	}
	return best
}

func majority(counts map[model.ActionLabel]int) (model.ActionLabel, int) {
	var best model.ActionLabel
	bestCount := -1
	for label, count := range counts {
		if count > bestCount {
			best = label
			bestCount = count
		}
	}
	return best, bestCount
}
