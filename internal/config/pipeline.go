package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the nested tuning surface for the combat pipeline.
// Every field below corresponds to one recognised dotted-key option
// (dedup.window_ms, scoring.regularisation.r1_technique_diminishing, ...); the YAML tags spell
// out that mapping.
type PipelineConfig struct {
	Dedup       DedupConfig       `yaml:"dedup"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Smoother    SmootherConfig    `yaml:"smoother"`
	Harmoniser  HarmoniserConfig  `yaml:"harmoniser"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Worker      WorkerConfig      `yaml:"worker"`
	Stats       StatsConfig       `yaml:"stats"`
}

// DedupConfig tunes the event pipeline's fingerprint dedup gate.
type DedupConfig struct {
	WindowMS            int     `yaml:"window_ms"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// FusionConfig tunes the multi-camera fuser.
type FusionConfig struct {
	WindowMS int `yaml:"window_ms"`
}

// SmootherConfig tunes the temporal smoother.
type SmootherConfig struct {
	WindowFrames int     `yaml:"window_frames"`
	Consistency  float64 `yaml:"consistency"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// HarmoniserConfig tunes conflict resolution between judge and CV events.
type HarmoniserConfig struct {
	ProximityWindowMS       int     `yaml:"proximity_window_ms"`
	JudgeOverrideThreshold  float64 `yaml:"judge_override_threshold"`
	CVConfidenceThreshold   float64 `yaml:"cv_confidence_threshold"`
}

// ThresholdMultiplier is one (threshold, multiplier) step of a
// regularisation rule's piecewise schedule.
type ThresholdMultiplier struct {
	Threshold  int     `yaml:"threshold"`
	Multiplier float64 `yaml:"multiplier"`
}

// RegularisationConfig holds the five R1-R5 rule tables.
type RegularisationConfig struct {
	R1TechniqueDiminishing []ThresholdMultiplier `yaml:"r1_technique_diminishing"`
	R2SignificantStrikeCap []ThresholdMultiplier `yaml:"r2_significant_strike_cap"`
	R3ControlContinuitySec int                   `yaml:"r3_control_continuity_sec"`
	R3ControlGapResetSec   int                   `yaml:"r3_control_gap_reset_sec"`
	R3ContinuityMultiplier float64               `yaml:"r3_continuity_multiplier"`
	R4ControlMinPoints     float64               `yaml:"r4_control_min_points"`
	R4StrikeMaxPoints      float64               `yaml:"r4_strike_max_points"`
	R4HeavyGroundMaxPoints float64               `yaml:"r4_heavy_ground_max_points"`
	R4DiscountMultiplier   float64               `yaml:"r4_discount_multiplier"`
	R5TakedownStuffCap     []ThresholdMultiplier `yaml:"r5_takedown_stuff_cap"`
}

// ImpactLock describes one priority-ordered lock rule.
type ImpactLock struct {
	Name           string  `yaml:"name"`
	DeltaThreshold float64 `yaml:"delta_threshold"`
}

// ScoringConfig tunes the scoring engine.
type ScoringConfig struct {
	BaseValues       map[string]float64  `yaml:"base_values"`
	ControlBucketSec int                 `yaml:"control_bucket_sec"`
	Regularisation   RegularisationConfig `yaml:"regularisation"`
	ImpactLocks      []ImpactLock         `yaml:"impact_locks"`
	Round            RoundConfig          `yaml:"round"`
}

// RoundConfig tunes 10-point-must assignment.
type RoundConfig struct {
	DrawThreshold    float64  `yaml:"draw_threshold"`
	MinDelta10_8     float64  `yaml:"min_delta_10_8"`
	MinDelta10_7     float64  `yaml:"min_delta_10_7"`
	ProtectedEvents  []string `yaml:"protected_events"`
	MinProtected10_8 int      `yaml:"min_protected_10_8"`
	MinProtected10_7 int      `yaml:"min_protected_10_7"`
}

// WorkerHealthConfig tunes worker health-state transitions.
type WorkerHealthConfig struct {
	HeartbeatOfflineSec  int     `yaml:"heartbeat_offline_sec"`
	HeartbeatDegradedSec int     `yaml:"heartbeat_degraded_sec"`
	LatencyDegradedMS    int     `yaml:"latency_degraded_ms"`
	ErrorRateUnhealthy   float64 `yaml:"error_rate_unhealthy"`
}

// WorkerLoadWeights tunes the router's load-score formula.
type WorkerLoadWeights struct {
	Latency         float64 `yaml:"latency"`
	Queue           float64 `yaml:"queue"`
	QueuePenaltyMS  float64 `yaml:"queue_penalty_ms"`
}

// WorkerConfig tunes the worker manager.
type WorkerConfig struct {
	Health      WorkerHealthConfig `yaml:"health"`
	LoadWeights WorkerLoadWeights  `yaml:"load_weights"`
}

// StatsConfig tunes the stats aggregator.
type StatsConfig struct {
	CacheTTLSec float64 `yaml:"cache_ttl_sec"`
}

// DefaultPipelineConfig returns the documented tuning defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Dedup: DedupConfig{
			WindowMS:            100,
			ConfidenceThreshold: 0.6,
		},
		Fusion: FusionConfig{
			WindowMS: 150,
		},
		Smoother: SmootherConfig{
			WindowFrames:    5,
			Consistency:     0.6,
			ConfidenceFloor: 0.6,
		},
		Harmoniser: HarmoniserConfig{
			ProximityWindowMS:      200,
			JudgeOverrideThreshold: 0.8,
			CVConfidenceThreshold:  0.9,
		},
		Scoring: ScoringConfig{
			BaseValues: map[string]float64{
				"jab":                1,
				"cross":              3,
				"hook":               3,
				"uppercut":           3,
				"kick":               4,
				"elbow":              5,
				"knee":               5,
				"rocked":             60,
				"kd-flash":           100,
				"kd-hard":            150,
				"kd-near-finish":     210,
				"sub-light":          12,
				"sub-deep":           28,
				"sub-near-finish":    60,
				"takedown":           10,
				"takedown-stuffed":   5,
				"top-control":        1,
				"back-control":       1,
				"cage-control":       1,
			},
			ControlBucketSec: 10,
			Regularisation: RegularisationConfig{
				R1TechniqueDiminishing: []ThresholdMultiplier{
					{Threshold: 10, Multiplier: 1.0},
					{Threshold: 20, Multiplier: 0.75},
					{Threshold: 0, Multiplier: 0.50}, // k >= 21, unbounded tail
				},
				R2SignificantStrikeCap: []ThresholdMultiplier{
					{Threshold: 8, Multiplier: 1.0},
					{Threshold: 14, Multiplier: 0.75},
					{Threshold: 0, Multiplier: 0.50}, // n >= 15, unbounded tail
				},
				R3ControlContinuitySec: 60,
				R3ControlGapResetSec:   15,
				R3ContinuityMultiplier: 0.5,
				R4ControlMinPoints:     20,
				R4StrikeMaxPoints:      10,
				R4HeavyGroundMaxPoints: 10,
				R4DiscountMultiplier:   0.75,
				R5TakedownStuffCap: []ThresholdMultiplier{
					{Threshold: 3, Multiplier: 1.0},
					{Threshold: 0, Multiplier: 0.5}, // k >= 4, unbounded tail
				},
			},
			ImpactLocks: []ImpactLock{
				{Name: "rocked", DeltaThreshold: 40},
				{Name: "kd-flash", DeltaThreshold: 50},
				{Name: "kd-hard", DeltaThreshold: 110},
				{Name: "kd-nf", DeltaThreshold: 150},
				{Name: "sub-near-finish", DeltaThreshold: 90},
			},
			Round: RoundConfig{
				DrawThreshold:    1,
				MinDelta10_8:     100,
				MinDelta10_7:     200,
				ProtectedEvents:  []string{"rocked", "kd-flash", "kd-hard", "kd-nf", "sub-near-finish"},
				MinProtected10_8: 2,
				MinProtected10_7: 3,
			},
		},
		Worker: WorkerConfig{
			Health: WorkerHealthConfig{
				HeartbeatOfflineSec:  30,
				HeartbeatDegradedSec: 15,
				LatencyDegradedMS:    200,
				ErrorRateUnhealthy:   0.10,
			},
			LoadWeights: WorkerLoadWeights{
				Latency:        0.6,
				Queue:          0.4,
				QueuePenaltyMS: 10,
			},
		},
		Stats: StatsConfig{
			CacheTTLSec: 1.0,
		},
	}
}

// LoadPipelineConfig reads a YAML file at path and overlays it onto the
// spec's documented defaults. A missing file is not an error: the
// defaults apply unmodified.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the pipeline config for values that would make the
// scoring and routing formulas nonsensical.
func (p PipelineConfig) Validate() error {
	if p.Dedup.WindowMS <= 0 {
		return fmt.Errorf("dedup.window_ms must be positive")
	}
	if p.Fusion.WindowMS <= 0 {
		return fmt.Errorf("fusion.window_ms must be positive")
	}
	if p.Smoother.WindowFrames <= 0 {
		return fmt.Errorf("smoother.window_frames must be positive")
	}
	if p.Worker.LoadWeights.Latency+p.Worker.LoadWeights.Queue <= 0 {
		return fmt.Errorf("worker.load_weights must sum to a positive value")
	}
	if p.Stats.CacheTTLSec <= 0 {
		return fmt.Errorf("stats.cache_ttl_sec must be positive")
	}
	return nil
}
