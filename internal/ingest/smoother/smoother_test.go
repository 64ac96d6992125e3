package smoother

import (
	"context"
	"testing"

	"github.com/ringlogic/fightcore/internal/model"
)

func sample(action model.ActionLabel, conf float64) model.RawCVInput {
	return model.RawCVInput{
		BoutID:       "bout-1",
		Action:       action,
		ActionLogits: map[model.ActionLabel]float64{action: conf},
	}
}

func TestPush_WaitsForFullWindow(t *testing.T) {
	s := New(5, nil)
	for i := 0; i < 4; i++ {
		if _, ok := s.Push(context.Background(), "stream-1", sample(model.ActionPunch, 0.9)); ok {
			t.Fatalf("expected no emission before window fills")
		}
	}
	_, ok := s.Push(context.Background(), "stream-1", sample(model.ActionPunch, 0.9))
	if !ok {
		t.Fatalf("expected emission once window fills with consistent high-confidence samples")
	}
}

func TestPush_RejectsLowConsistency(t *testing.T) {
	s := New(5, nil)
	actions := []model.ActionLabel{
		model.ActionPunch, model.ActionKick, model.ActionKnee, model.ActionElbow, model.ActionClinch,
	}
	var lastOK bool
	for _, a := range actions {
		_, lastOK = s.Push(context.Background(), "stream-1", sample(a, 0.9))
	}
	if lastOK {
		t.Fatalf("expected window with no majority action to fail the consistency gate")
	}
}

func TestPush_RejectsLowConfidence(t *testing.T) {
	s := New(5, nil)
	var lastOK bool
	for i := 0; i < 5; i++ {
		_, lastOK = s.Push(context.Background(), "stream-1", sample(model.ActionPunch, 0.2))
	}
	if lastOK {
		t.Fatalf("expected low average confidence to fail the confidence floor")
	}
}

func TestPush_RequiresFlowGateForHeavyImpact(t *testing.T) {
	s := New(5, nil)
	var lastOK bool
	for i := 0; i < 5; i++ {
		in := sample(model.ActionPunch, 0.9)
		in.ImpactDetected = true
		in.ImpactTier = model.ImpactHeavy
		low := 1.0
		in.FlowMagnitude = &low
		_, lastOK = s.Push(context.Background(), "stream-1", in)
	}
	if lastOK {
		t.Fatalf("expected heavy impact with flow below gate to be rejected")
	}

	s2 := New(5, nil)
	for i := 0; i < 5; i++ {
		in := sample(model.ActionPunch, 0.9)
		in.ImpactDetected = true
		in.ImpactTier = model.ImpactHeavy
		high := 5.0
		in.FlowMagnitude = &high
		_, lastOK = s2.Push(context.Background(), "stream-1", in)
	}
	if !lastOK {
		t.Fatalf("expected heavy impact with flow above gate to pass")
	}
}

func TestPush_EmitsWindowAveragedConfidence(t *testing.T) {
	s := New(5, nil)
	confidences := []float64{0.6, 0.7, 0.8, 0.9, 1.0}
	var out model.RawCVInput
	var ok bool
	for _, c := range confidences {
		out, ok = s.Push(context.Background(), "stream-1", sample(model.ActionPunch, c))
	}
	if !ok {
		t.Fatalf("expected emission")
	}
	want := (0.6 + 0.7 + 0.8 + 0.9 + 1.0) / 5
	got := out.ActionLogits[model.ActionPunch]
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("window-averaged confidence = %v, want %v", got, want)
	}
}

func TestReset_ClearsWarmup(t *testing.T) {
	s := New(5, nil)
	for i := 0; i < 3; i++ {
		s.Push(context.Background(), "stream-1", sample(model.ActionPunch, 0.9))
	}
	s.Reset("stream-1")

	// After reset, a single sample should not be enough to emit.
	if _, ok := s.Push(context.Background(), "stream-1", sample(model.ActionPunch, 0.9)); ok {
		t.Fatalf("expected reset to clear warm-up buffer")
	}
}
