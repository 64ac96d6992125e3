// Package classify implements the Event Classifier: a deterministic
// mapping from raw CV action/impact output to typed combat events, plus
// two synthetic, stateful event derivations (momentum swing, rocked).
package classify

import (
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
)

const (
	momentumWindowMS       int64   = 1500
	momentumStrikeCount    int     = 4
	momentumSeverity       float64 = 0.7
	momentumConfidence     float64 = 0.88
	rockedThreshold        float64 = 0.7
	rockedSeverity         float64 = 0.8
	rockedConfidence       float64 = 0.85
	rockedTimestampOffsetMS int64  = 100
)

func severityByTier(tier model.ImpactTier) float64 {
	switch tier {
	case model.ImpactLight:
		return 0.3
	case model.ImpactMedium:
		return 0.6
	case model.ImpactHeavy:
		return 0.8
	case model.ImpactCritical:
		return 1.0
	default:
		return 0.3
	}
}

func severity(tier model.ImpactTier, flow *float64) float64 {
	s := severityByTier(tier)
	if flow != nil {
		bonus := *flow / 10
		if bonus > 0.2 {
			bonus = 0.2
		}
		s += bonus
	}
	if s > 1.0 {
		s = 1.0
	}
	return s
}

type strikeSample struct {
	timestampMS int64
	fighter     model.Fighter
}

// Classifier converts CV detections into typed combat events and
// derives the momentum-swing and rocked synthetic events.
type Classifier struct {
	mu sync.Mutex

	recentStrikes map[string][]strikeSample // keyed by bout id
	damage        map[string]map[model.Fighter]float64

	log *logger.Logger
}

// New builds a Classifier.
func New(log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.NewDefault("ingest.classify")
	}
	return &Classifier{
		recentStrikes: make(map[string][]strikeSample),
		damage:        make(map[string]map[model.Fighter]float64),
		log:           log,
	}
}

// Descriptor advertises this component's placement.
func (c *Classifier) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "event-classifier",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("event-classification", "synthetic-event-derivation")
}

// Classify maps one raw CV input to zero or more combat events: the
// primary classification (suppressed light strikes yield none) plus
// any synthetic momentum-swing/rocked events it triggers.
func (c *Classifier) Classify(in model.RawCVInput) []model.CombatEvent {
	var out []model.CombatEvent

	primary, ok := c.primaryEvent(in)
	if ok {
		out = append(out, primary)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok && (primary.Kind == model.KindStrikeSignificant || primary.Kind == model.KindStrikeHighImpact) {
		if swing, triggered := c.trackMomentum(in.BoutID, in.FighterID, in.TimestampMS); triggered {
			out = append(out, swing)
		}
	}

	if ok && (primary.Kind == model.KindStrikeHighImpact || isKnockdown(primary.Kind)) {
		if rocked, triggered := c.trackDamage(in.BoutID, in.FighterID, primary.Severity, in.TimestampMS); triggered {
			out = append(out, rocked)
		}
	}

	return out
}

func isKnockdown(k model.EventKind) bool {
	switch k {
	case model.KindKnockdownFlash, model.KindKnockdownHard, model.KindKnockdownNearFinish:
		return true
	default:
		return false
	}
}

func (c *Classifier) primaryEvent(in model.RawCVInput) (model.CombatEvent, bool) {
	base := model.CombatEvent{
		BoutID:      in.BoutID,
		Round:       in.Round,
		Fighter:     in.FighterID,
		Source:      model.SourceCVSystem,
		TimestampMS: in.TimestampMS,
		CameraID:    "",
		Confidence:  topConfidence(in),
	}

	var kind model.EventKind
	switch in.Action {
	case model.ActionKnockdown:
		switch in.ImpactTier {
		case model.ImpactCritical:
			kind = model.KindKnockdownNearFinish
		case model.ImpactHeavy:
			kind = model.KindKnockdownHard
		default:
			kind = model.KindKnockdownFlash
		}
	case model.ActionPunch, model.ActionKick, model.ActionKnee, model.ActionElbow:
		switch in.ImpactTier {
		case model.ImpactHeavy, model.ImpactCritical:
			kind = model.KindStrikeHighImpact
		case model.ImpactMedium:
			kind = model.KindStrikeSignificant
		default:
			return model.CombatEvent{}, false
		}
	case model.ActionTakedown:
		if in.ImpactDetected {
			kind = model.KindTakedownLanded
		} else {
			kind = model.KindTakedownAttempt
		}
	case model.ActionSubmission:
		kind = model.KindSubmissionAttempt
	case model.ActionGroundControl:
		kind = model.KindControlStart
	case model.ActionStandup:
		kind = model.KindControlEnd
	default:
		c.log.WithError(fcerrors.UnknownKind(string(in.Action))).WithField("action", in.Action).Warn("unrecognised action label; falling back to best-effort classification")
		base.Kind = model.EventKind(in.Action)
		base.Severity = 0
		return base, true
	}

	base.Kind = kind
	base.Severity = severity(in.ImpactTier, in.FlowMagnitude)
	return base, true
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

func (c *Classifier) trackMomentum(boutID string, fighter model.Fighter, timestampMS int64) (model.CombatEvent, bool) {
	samples := c.recentStrikes[boutID]
	samples = append(samples, strikeSample{timestampMS: timestampMS, fighter: fighter})

	cutoff := timestampMS - momentumWindowMS
	kept := samples[:0]
	for _, s := range samples {
		if s.timestampMS >= cutoff {
			kept = append(kept, s)
		}
	}
	c.recentStrikes[boutID] = kept

	count := 0
	for _, s := range kept {
		if s.fighter == fighter {
			count++
		}
	}

	if count < momentumStrikeCount {
		return model.CombatEvent{}, false
	}

	return model.CombatEvent{
		BoutID:      boutID,
		Fighter:     fighter,
		Kind:        model.KindMomentumSwing,
		Severity:    momentumSeverity,
		Confidence:  momentumConfidence,
		Source:      model.SourceAnalyticsDerived,
		TimestampMS: timestampMS,
	}, true
}

func (c *Classifier) trackDamage(boutID string, fighter model.Fighter, incomingSeverity float64, timestampMS int64) (model.CombatEvent, bool) {
	byFighter, ok := c.damage[boutID]
	if !ok {
		byFighter = make(map[model.Fighter]float64)
		c.damage[boutID] = byFighter
	}

	opponent := fighter.Opponent()
	byFighter[opponent] += incomingSeverity

	if byFighter[opponent] < rockedThreshold {
		return model.CombatEvent{}, false
	}

	byFighter[opponent] = 0
	return model.CombatEvent{
		BoutID:      boutID,
		Fighter:     opponent,
		Kind:        model.KindRocked,
		Severity:    rockedSeverity,
		Confidence:  rockedConfidence,
		Source:      model.SourceAnalyticsDerived,
		TimestampMS: timestampMS + rockedTimestampOffsetMS,
	}, true
}
