package normalize

import (
	"testing"

	"github.com/ringlogic/fightcore/internal/model"
)

func TestWeigh_AppliesSeveritySquared(t *testing.T) {
	e := New()
	b := e.Weigh(model.CombatEvent{Kind: model.KindStrikeSignificant, Severity: 0.5, Confidence: 0.5})
	if diff := b.SeverityFactor - 0.25; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected severity factor 0.25, got %v", b.SeverityFactor)
	}
}

func TestWeigh_ConfidenceFactorAtFloorIsOne(t *testing.T) {
	e := New()
	b := e.Weigh(model.CombatEvent{Kind: model.KindStrikeSignificant, Severity: 1, Confidence: 0.7})
	if b.ConfidenceFactor != 1.0 {
		t.Errorf("expected confidence factor 1.0 at the floor, got %v", b.ConfidenceFactor)
	}
}

func TestWeigh_ConfidenceFactorAboveFloorBoosts(t *testing.T) {
	e := New()
	b := e.Weigh(model.CombatEvent{Kind: model.KindStrikeSignificant, Severity: 1, Confidence: 0.9})
	want := 1 + 0.5*(0.9-0.7)
	if diff := b.ConfidenceFactor - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence factor %v, got %v", want, b.ConfidenceFactor)
	}
}

func TestWeigh_UnknownKindYieldsZeroBase(t *testing.T) {
	e := New()
	b := e.Weigh(model.CombatEvent{Kind: model.EventKind("unmapped"), Severity: 1, Confidence: 1})
	if b.Total.Damage != 0 || b.Total.Control != 0 || b.Total.Aggression != 0 {
		t.Errorf("expected zero weights for unmapped kind, got %+v", b.Total)
	}
}

func TestWeigh_TotalIsBaseTimesScale(t *testing.T) {
	e := New()
	b := e.Weigh(model.CombatEvent{Kind: model.KindTakedownLanded, Severity: 0.8, Confidence: 0.9})
	scale := b.SeverityFactor * b.ConfidenceFactor
	want := Weights{
		Damage:     b.BaseWeight.Damage * scale,
		Control:    b.BaseWeight.Control * scale,
		Aggression: b.BaseWeight.Aggression * scale,
	}
	if b.Total != want {
		t.Errorf("total = %+v, want %+v", b.Total, want)
	}
}
