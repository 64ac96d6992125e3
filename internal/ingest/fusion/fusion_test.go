package fusion

import (
	"context"
	"testing"

	"github.com/ringlogic/fightcore/internal/model"
)

func angle(v float64) *float64 { return &v }

func TestFuse_SingletonPassesThrough(t *testing.T) {
	f := New(150)
	events := []model.CombatEvent{
		{Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 1000, Confidence: 0.8, Severity: 0.5},
	}
	out := f.Fuse(context.Background(), events)
	if len(out) != 1 || out[0].Canonical {
		t.Fatalf("expected singleton to pass through unmodified, got %+v", out)
	}
}

func TestFuse_MergesWithinWindow(t *testing.T) {
	f := New(150)
	events := []model.CombatEvent{
		{Fighter: model.FighterA, Kind: model.KindKnockdownHard, TimestampMS: 1000, Confidence: 0.7, Severity: 0.8, CameraAngle: angle(90)},
		{Fighter: model.FighterA, Kind: model.KindKnockdownHard, TimestampMS: 1040, Confidence: 0.9, Severity: 0.8, CameraAngle: angle(270)},
	}
	out := f.Fuse(context.Background(), events)
	if len(out) != 1 {
		t.Fatalf("expected fusion to merge into one event, got %d", len(out))
	}
	if !out[0].Canonical {
		t.Errorf("expected merged event to be marked canonical")
	}
	if got := out[0].ExtFloat("camera_count"); got != 2 {
		t.Errorf("camera_count = %v, want 2", got)
	}
	wantConf := (0.7 + 0.9) / 2
	if diff := out[0].Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want mean %v", out[0].Confidence, wantConf)
	}
}

func TestFuse_PrefersFrontArcCamera(t *testing.T) {
	f := New(150)
	events := []model.CombatEvent{
		{Fighter: model.FighterB, Kind: model.KindStrikeHighImpact, TimestampMS: 1000, Confidence: 0.8, Severity: 0.8, CameraAngle: angle(90), CameraID: "front"},
		{Fighter: model.FighterB, Kind: model.KindStrikeHighImpact, TimestampMS: 1010, Confidence: 0.8, Severity: 0.8, CameraAngle: angle(0), CameraID: "side"},
	}
	out := f.Fuse(context.Background(), events)
	if len(out) != 1 {
		t.Fatalf("expected a single fused event")
	}
	if out[0].CameraID != "front" {
		t.Errorf("expected front-arc camera to win canonical selection, got %s", out[0].CameraID)
	}
}

func TestFuse_SeparatesDifferentFighters(t *testing.T) {
	f := New(150)
	events := []model.CombatEvent{
		{Fighter: model.FighterA, Kind: model.KindStrikeSignificant, TimestampMS: 1000, Confidence: 0.8, Severity: 0.5},
		{Fighter: model.FighterB, Kind: model.KindStrikeSignificant, TimestampMS: 1000, Confidence: 0.8, Severity: 0.5},
	}
	out := f.Fuse(context.Background(), events)
	if len(out) != 2 {
		t.Fatalf("expected per-fighter groups to stay separate, got %d", len(out))
	}
}

func TestFuse_Idempotent(t *testing.T) {
	f := New(150)
	events := []model.CombatEvent{
		{Fighter: model.FighterA, Kind: model.KindKnockdownHard, TimestampMS: 1000, Confidence: 0.7, Severity: 0.8, CameraAngle: angle(90)},
		{Fighter: model.FighterA, Kind: model.KindKnockdownHard, TimestampMS: 1040, Confidence: 0.9, Severity: 0.8, CameraAngle: angle(270)},
	}
	once := f.Fuse(context.Background(), events)
	twice := f.Fuse(context.Background(), once)
	if len(once) != len(twice) {
		t.Fatalf("expected fusing an already-fused stream to be a no-op, got %d vs %d", len(once), len(twice))
	}
	if twice[0].Confidence != once[0].Confidence {
		t.Errorf("expected idempotent confidence, got %v vs %v", once[0].Confidence, twice[0].Confidence)
	}
}
