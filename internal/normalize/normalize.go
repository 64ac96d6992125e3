// Package normalize implements the Normalisation Engine: it maps a
// typed combat event onto a {damage, control, aggression} weight
// bundle for scoring and downstream analytics to consume.
package normalize

import (
	core "github.com/ringlogic/fightcore/internal/core/service"
	"github.com/ringlogic/fightcore/internal/model"
)

// confidenceFloor is the confidence above which the confidence factor
// starts boosting a weight beyond its severity-scaled base.
const confidenceFloor = 0.7
const confidenceGain = 0.5

// baseWeight holds the per-type base {damage, control, aggression}
// weights before severity/confidence scaling.
type baseWeight struct {
	Damage     float64
	Control    float64
	Aggression float64
}

var baseWeights = map[model.EventKind]baseWeight{
	model.KindStrikeSignificant:   {Damage: 1.0, Control: 0, Aggression: 0.6},
	model.KindStrikeHighImpact:    {Damage: 0.7, Control: 0, Aggression: 0.4},
	model.KindKnockdownFlash:      {Damage: 3.0, Control: 0, Aggression: 0.3},
	model.KindKnockdownHard:       {Damage: 4.0, Control: 0, Aggression: 0.3},
	model.KindKnockdownNearFinish: {Damage: 5.0, Control: 0, Aggression: 0.2},
	model.KindRocked:              {Damage: 2.0, Control: 0, Aggression: 0},
	model.KindTakedownLanded:      {Damage: 0.2, Control: 0.8, Aggression: 0.5},
	model.KindTakedownAttempt:     {Damage: 0, Control: 0.1, Aggression: 0.5},
	model.KindSubmissionAttempt:   {Damage: 0.3, Control: 0.9, Aggression: 0.7},
	model.KindControlStart:        {Damage: 0, Control: 1.0, Aggression: 0},
	model.KindControlEnd:          {Damage: 0, Control: 1.0, Aggression: 0},
	model.KindMomentumSwing:       {Damage: 0.1, Control: 0, Aggression: 0.8},
}

// Weights is the weight bundle produced for one event.
type Weights struct {
	Damage     float64
	Control    float64
	Aggression float64
}

// Breakdown explains how a Weights bundle was derived.
type Breakdown struct {
	BaseWeight        Weights
	SeverityFactor    float64
	ConfidenceFactor  float64
	Total             Weights
}

// Engine computes weight bundles for typed events.
type Engine struct{}

// New builds an Engine. It is stateless, so New takes no arguments.
func New() *Engine {
	return &Engine{}
}

// Descriptor advertises this component's placement.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "normalisation-engine",
		Domain: "compute",
		Layer:  core.LayerCompute,
	}.WithCapabilities("event-weighting")
}

// Weigh computes the weight bundle and full breakdown for ev.
func (e *Engine) Weigh(ev model.CombatEvent) Breakdown {
	base, ok := baseWeights[ev.Kind]
	if !ok {
		base = baseWeight{}
	}

	severityFactor := ev.Severity * ev.Severity
	confidenceFactor := 1.0
	if ev.Confidence > confidenceFloor {
		confidenceFactor = 1 + confidenceGain*(ev.Confidence-confidenceFloor)
	}

	scale := severityFactor * confidenceFactor

	return Breakdown{
		BaseWeight:       Weights(base),
		SeverityFactor:   severityFactor,
		ConfidenceFactor: confidenceFactor,
		Total: Weights{
			Damage:     base.Damage * scale,
			Control:    base.Control * scale,
			Aggression: base.Aggression * scale,
		},
	}
}
