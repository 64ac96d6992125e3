// Package scoring implements Scoring Engine v3: per-round point
// tallying under the R1-R5 regularisation rules, impact-lock
// resolution, and 10-point-must assignment.
package scoring

import (
	"sort"
	"time"

	core "github.com/ringlogic/fightcore/internal/core/service"
	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

// techniqueBase are the per-technique base point values from §4.8,
// keyed by the "technique" extension field a strike event carries
// (e.g. "jab", "cross", "hook", "uppercut", "kick", "elbow", "knee").
// defaultTechnique is used when a strike event carries none.
var techniqueBase = map[string]float64{
	"jab":      1,
	"cross":    3,
	"hook":     3,
	"uppercut": 3,
	"kick":     4,
	"elbow":    5,
	"knee":     5,
}

const defaultTechnique = "cross"

// basePoints are the non-strike base point values from §4.8.
var basePoints = map[model.EventKind]float64{
	model.KindRocked:              60,
	model.KindKnockdownFlash:      100,
	model.KindKnockdownHard:       150,
	model.KindKnockdownNearFinish: 210,
	model.KindSubmissionAttempt:   12,
	model.KindTakedownLanded:      10,
	model.KindTakedownAttempt:     0,
	model.KindControlStart:        0,
	model.KindControlEnd:          0,
	model.KindMomentumSwing:       0,
}

func strikeBase(ev model.CombatEvent) float64 {
	technique := ev.ExtString("technique")
	if technique == "" {
		technique = defaultTechnique
	}
	base, ok := techniqueBase[technique]
	if !ok {
		base = techniqueBase[defaultTechnique]
	}
	if ev.Kind == model.KindStrikeSignificant {
		base *= 2
	}
	return base
}

const (
	takedownStuffedBase = 5.0
	controlBucketSeconds = 10
	controlPointsPerBucket = 1.0

	r1TierOneMax   = 10
	r1TierTwoMax   = 20
	r1TierOneMult  = 1.0
	r1TierTwoMult  = 0.75
	r1TierThreeMult = 0.50

	r2TierOneMax   = 8
	r2TierTwoMax   = 14
	r2TierOneMult  = 1.0
	r2TierTwoMult  = 0.75
	r2TierThreeMult = 0.50

	r3ContinuitySeconds = 60
	r3GapResetSeconds   = 15
	r3Multiplier        = 0.5

	r4ControlSubtotalFloor = 20.0
	r4StrikePointsCeiling  = 10.0
	r4HeavyGroundCeiling   = 10.0
	r4Discount             = 0.75

	r5StuffCapK     = 3
	r5StuffMultLow  = 1.0
	r5StuffMultHigh = 0.5

	draw10PointThreshold = 0 // delta below which a 0-0 raw tie stays a draw
	deltaThreshold10_7   = 200.0
	deltaThreshold10_8   = 100.0
	protectedCount10_7   = 3
	protectedCount10_8   = 2
)

// impactLockOrder orders lock kinds from weakest to strongest; index
// is also used as the tie-break priority (higher index wins).
var impactLockOrder = []model.ImpactFlag{
	model.FlagRocked, model.FlagKDFlash, model.FlagKDHard,
	model.FlagKDNearFinish, model.FlagSubNearFinish,
}

var deltaThresholdByFlag = map[model.ImpactFlag]float64{
	model.FlagRocked:      40,
	model.FlagKDFlash:     50,
	model.FlagKDHard:      110,
	model.FlagKDNearFinish: 150,
	model.FlagSubNearFinish: 90,
}

// Engine computes round verdicts.
type Engine struct {
	log *logger.Logger
}

// New builds an Engine.
func New(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("scoring")
	}
	return &Engine{log: log}
}

// Descriptor advertises this component's placement.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "scoring-engine",
		Domain: "compute",
		Layer:  core.LayerCompute,
	}.WithCapabilities("round-scoring", "regularisation", "impact-lock")
}

// Score computes the round verdict for the given round and event list.
func (e *Engine) Score(boutID string, round int, events []model.CombatEvent) model.RoundVerdict {
	start := time.Now()
	defer func() { metrics.RecordScoringDuration("ok", time.Since(start)) }()

	sorted := stableOrder(events)

	states := map[model.Fighter]*model.FighterRoundState{
		model.FighterA: model.NewFighterRoundState(model.FighterA),
		model.FighterB: model.NewFighterRoundState(model.FighterB),
	}
	pendingControlStart := map[model.Fighter]map[string]int64{
		model.FighterA: {},
		model.FighterB: {},
	}

	for _, ev := range sorted {
		e.scoreEvent(states[ev.Fighter], pendingControlStart[ev.Fighter], ev)
	}

	for _, s := range states {
		applyR4(s)
	}

	rawA := states[model.FighterA].RawPoints
	rawB := states[model.FighterB].RawPoints

	winner, reason := decideWinner(states[model.FighterA], states[model.FighterB], rawA, rawB)
	tenPoint := assignTenPoint(states[model.FighterA], states[model.FighterB], winner, rawA, rawB)

	sharePct := shareOf(rawA, rawB)

	breakdown := map[model.Fighter]map[model.EventKind]float64{}
	degraded := false
	for fighter, s := range states {
		b := map[model.EventKind]float64{}
		for _, se := range s.ScoredEvents {
			b[se.Event.Kind] += se.FinalPoints
			if !model.ValidateScoredEvent(se) {
				degraded = true
				metrics.RecordScoringInvariantViolation(boutID)
				e.log.WithField("bout_id", boutID).WithField("event_kind", se.Event.Kind).
					Error("scored event failed point-conservation invariant")
			}
		}
		breakdown[fighter] = b
	}

	return model.RoundVerdict{
		BoutID: boutID,
		Round:  round,
		RawPoints: map[model.Fighter]float64{
			model.FighterA: rawA,
			model.FighterB: rawB,
		},
		SharePct: sharePct,
		ImpactFlags: map[model.Fighter][]model.ImpactFlag{
			model.FighterA: flagsHeld(states[model.FighterA]),
			model.FighterB: flagsHeld(states[model.FighterB]),
		},
		Winner:    winner,
		Reason:    reason,
		TenPoint:  tenPoint,
		Breakdown: breakdown,
		Degraded:  degraded,
	}
}

func stableOrder(events []model.CombatEvent) []model.CombatEvent {
	sorted := make([]model.CombatEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TimestampMS != sorted[j].TimestampMS {
			return sorted[i].TimestampMS < sorted[j].TimestampMS
		}
		if sorted[i].Fighter != sorted[j].Fighter {
			return sorted[i].Fighter < sorted[j].Fighter
		}
		return sorted[i].Kind < sorted[j].Kind
	})
	return sorted
}

func (e *Engine) scoreEvent(s *model.FighterRoundState, pendingControlStart map[string]int64, ev model.CombatEvent) {
	switch ev.Kind {
	case model.KindTakedownAttempt:
		s.TakedownStuffCount++
		k := s.TakedownStuffCount
		mult := r5StuffMultLow
		if k > r5StuffCapK {
			mult = r5StuffMultHigh
		}
		final := takedownStuffedBase * mult
		s.RawPoints += final
		s.ScoredEvents = append(s.ScoredEvents, model.ScoredEvent{
			Event:       ev,
			BasePoints:  takedownStuffedBase,
			Multipliers: model.Multipliers{Technique: 1, Strike: 1, Control: 1, Stuff: mult},
			FinalPoints: final,
		})
		return
	case model.KindControlStart, model.KindControlEnd:
		e.scoreControl(s, pendingControlStart, ev)
		return
	case model.KindSubmissionAttempt, model.KindRocked, model.KindKnockdownFlash,
		model.KindKnockdownHard, model.KindKnockdownNearFinish:
		e.applyImpactFlag(s, ev)
	}

	var base float64
	switch ev.Kind {
	case model.KindStrikeSignificant, model.KindStrikeHighImpact:
		base = strikeBase(ev)
	default:
		var ok bool
		base, ok = basePoints[ev.Kind]
		if !ok {
			return
		}
	}

	s.TechniqueCounts[ev.Kind]++
	k := s.TechniqueCounts[ev.Kind]
	r1 := r1Multiplier(k)

	r2 := 1.0
	if ev.Kind == model.KindStrikeSignificant {
		s.SignificantStrikeCount++
		r2 = r2Multiplier(s.SignificantStrikeCount)
	}

	mult := model.Multipliers{Technique: r1, Strike: r2, Control: 1, Stuff: 1}
	final := base * mult.Product()

	s.RawPoints += final
	s.StrikePoints += final
	s.ScoredEvents = append(s.ScoredEvents, model.ScoredEvent{
		Event: ev, BasePoints: base, Multipliers: mult, FinalPoints: final,
	})
}

func (e *Engine) applyImpactFlag(s *model.FighterRoundState, ev model.CombatEvent) {
	var flag model.ImpactFlag
	switch ev.Kind {
	case model.KindRocked:
		flag = model.FlagRocked
	case model.KindKnockdownFlash:
		flag = model.FlagKDFlash
	case model.KindKnockdownHard:
		flag = model.FlagKDHard
	case model.KindKnockdownNearFinish:
		flag = model.FlagKDNearFinish
	case model.KindSubmissionAttempt:
		s.HasSubmission = true
		if ev.Severity >= 0.9 {
			flag = model.FlagSubNearFinish
		} else {
			return
		}
	default:
		return
	}
	s.ImpactFlags[flag] = true
}

func r1Multiplier(k int) float64 {
	switch {
	case k <= r1TierOneMax:
		return r1TierOneMult
	case k <= r1TierTwoMax:
		return r1TierTwoMult
	default:
		return r1TierThreeMult
	}
}

func r2Multiplier(n int) float64 {
	switch {
	case n <= r2TierOneMax:
		return r2TierOneMult
	case n <= r2TierTwoMax:
		return r2TierTwoMult
	default:
		return r2TierThreeMult
	}
}

// scoreControl implements R3 continuity, crediting the previously-open
// control interval pro rata at 1 point per 10 seconds when a
// control-end event closes it. An interval still open when the event
// list ends is not credited. A gap of more than 15 seconds between
// same-kind control events resets the continuous accumulator. A
// control interval whose duration straddles the 60-second continuity
// threshold is scored as two sub-totals (the portion below 60s at full
// multiplier, the portion above at 0.5) rather than one multiplier
// applied to the whole interval, a deliberate refinement over a
// single-multiplier-per-event approximation.
func (e *Engine) scoreControl(s *model.FighterRoundState, pendingStart map[string]int64, ev model.CombatEvent) {
	kind := ev.ExtString("control_kind")
	if kind == "" {
		kind = "top-control"
	}

	acc, ok := s.ControlAccumulators[kind]
	if !ok {
		acc = &model.ControlAccumulator{}
		s.ControlAccumulators[kind] = acc
	}
	if acc.LastTimestampMS != 0 && ev.TimestampMS-acc.LastTimestampMS > r3GapResetSeconds*1000 {
		acc.ContinuousSeconds = 0
	}

	switch ev.Kind {
	case model.KindControlStart:
		acc.LastTimestampMS = ev.TimestampMS
		pendingStart[kind] = ev.TimestampMS
	case model.KindControlEnd:
		startMS, started := pendingStart[kind]
		if !started {
			return
		}
		durationSeconds := float64(ev.TimestampMS-startMS) / 1000.0
		final := creditControlDuration(float64(acc.ContinuousSeconds), durationSeconds)
		basePoints := durationSeconds / controlBucketSeconds * controlPointsPerBucket

		acc.ContinuousSeconds += int(durationSeconds)
		acc.LastTimestampMS = ev.TimestampMS
		delete(pendingStart, kind)

		s.RawPoints += final
		s.ControlPoints += final
		if kind == "heavy-ground" {
			s.HeavyGroundStrikePoints += final
		}

		controlMult := 1.0
		if basePoints > 1e-9 {
			controlMult = final / basePoints
		}
		s.ScoredEvents = append(s.ScoredEvents, model.ScoredEvent{
			Event:       ev,
			BasePoints:  basePoints,
			Multipliers: model.Multipliers{Technique: 1, Strike: 1, Control: controlMult, Stuff: 1},
			FinalPoints: final,
		})
	}
}

// creditControlDuration scores a control interval of durationSeconds
// that began after alreadyAccumulated continuous seconds of the same
// kind. The portion of the interval below the 60s continuity threshold
// is charged at full value; the portion above it at 0.5.
func creditControlDuration(alreadyAccumulated, durationSeconds float64) float64 {
	remaining := r3ContinuitySeconds - alreadyAccumulated
	if remaining < 0 {
		remaining = 0
	}

	fullSeconds := durationSeconds
	discountedSeconds := 0.0
	if durationSeconds > remaining {
		fullSeconds = remaining
		discountedSeconds = durationSeconds - remaining
	}

	fullPoints := fullSeconds / controlBucketSeconds * controlPointsPerBucket
	discountedPoints := discountedSeconds / controlBucketSeconds * controlPointsPerBucket * r3Multiplier
	return fullPoints + discountedPoints
}

// applyR4 applies the control-without-work discount in place.
func applyR4(s *model.FighterRoundState) {
	if s.ControlPoints < r4ControlSubtotalFloor {
		return
	}
	if s.StrikePoints >= r4StrikePointsCeiling {
		return
	}
	if s.HasSubmission {
		return
	}
	if s.HeavyGroundStrikePoints >= r4HeavyGroundCeiling {
		return
	}

	discount := s.ControlPoints * (1 - r4Discount)
	s.ControlPoints -= discount
	s.RawPoints -= discount
}

func decideWinner(a, b *model.FighterRoundState, rawA, rawB float64) (model.Winner, model.WinReason) {
	lockA, prioA := strongestLock(a)
	lockB, prioB := strongestLock(b)

	if lockA != "" && lockB == "" {
		return applyImpactLock(model.WinnerA, lockA, rawA, rawB)
	}
	if lockB != "" && lockA == "" {
		return applyImpactLock(model.WinnerB, lockB, rawA, rawB)
	}
	if lockA != "" && lockB != "" {
		if prioA > prioB {
			return applyImpactLock(model.WinnerA, lockA, rawA, rawB)
		}
		if prioB > prioA {
			return applyImpactLock(model.WinnerB, lockB, rawA, rawB)
		}
		return rawWinner(rawA - rawB)
	}
	return rawWinner(rawA - rawB)
}

// applyImpactLock decides the winner once holder is known to hold the
// deciding lock: the lock holder wins outright if it is already the raw
// points leader (or on a draw), and otherwise wins on points only if the
// opponent hasn't overcome the lock's delta threshold.
func applyImpactLock(holder model.Winner, lock model.ImpactFlag, rawA, rawB float64) (model.Winner, model.WinReason) {
	leader, delta := pointsLeader(rawA, rawB)
	if leader == holder || leader == model.WinnerDraw {
		if leader == model.WinnerDraw {
			return holder, lockReason(lock)
		}
		return holder, model.ReasonPoints
	}
	if delta >= deltaThresholdByFlag[lock] {
		return leader, model.ReasonPoints
	}
	return holder, lockReason(lock)
}

// pointsLeader reports the raw-points leader and the absolute delta
// between the two fighters.
func pointsLeader(rawA, rawB float64) (model.Winner, float64) {
	switch {
	case rawA > rawB:
		return model.WinnerA, rawA - rawB
	case rawB > rawA:
		return model.WinnerB, rawB - rawA
	default:
		return model.WinnerDraw, 0
	}
}

func rawWinner(delta float64) (model.Winner, model.WinReason) {
	switch {
	case delta > 0:
		return model.WinnerA, model.ReasonPoints
	case delta < 0:
		return model.WinnerB, model.ReasonPoints
	default:
		return model.WinnerDraw, model.ReasonPoints
	}
}

func lockReason(flag model.ImpactFlag) model.WinReason {
	switch flag {
	case model.FlagRocked:
		return model.ReasonLockRocked
	case model.FlagKDFlash:
		return model.ReasonLockKDFlash
	case model.FlagKDHard:
		return model.ReasonLockKDHard
	case model.FlagKDNearFinish:
		return model.ReasonLockKDNF
	case model.FlagSubNearFinish:
		return model.ReasonLockSubNF
	default:
		return model.ReasonPoints
	}
}

// strongestLock returns the highest-priority impact flag a fighter
// holds and its priority index (higher wins), or "" if none.
func strongestLock(s *model.FighterRoundState) (model.ImpactFlag, int) {
	best := model.ImpactFlag("")
	bestPriority := -1
	for i, flag := range impactLockOrder {
		if s.ImpactFlags[flag] && i > bestPriority {
			best = flag
			bestPriority = i
		}
	}
	return best, bestPriority
}

func flagsHeld(s *model.FighterRoundState) []model.ImpactFlag {
	var out []model.ImpactFlag
	for _, flag := range impactLockOrder {
		if s.ImpactFlags[flag] {
			out = append(out, flag)
		}
	}
	return out
}

func protectedCount(s *model.FighterRoundState) int {
	count := 0
	for _, flag := range impactLockOrder {
		if s.ImpactFlags[flag] {
			count++
		}
	}
	return count
}

func assignTenPoint(a, b *model.FighterRoundState, winner model.Winner, rawA, rawB float64) model.TenPointScore {
	delta := rawA - rawB
	if delta < 0 {
		delta = -delta
	}

	if winner == model.WinnerDraw {
		return model.TenPointScore{A: 10, B: 10}
	}

	var winnerState *model.FighterRoundState
	if winner == model.WinnerA {
		winnerState = a
	} else {
		winnerState = b
	}
	p := protectedCount(winnerState)

	var loser int
	switch {
	case p >= protectedCount10_7 || delta >= deltaThreshold10_7:
		loser = 7
	case p >= protectedCount10_8 || delta >= deltaThreshold10_8:
		loser = 8
	default:
		loser = 9
	}

	if winner == model.WinnerA {
		return model.TenPointScore{A: 10, B: loser}
	}
	return model.TenPointScore{A: loser, B: 10}
}

// Validate re-checks a computed verdict against the verdict-level scoring
// invariants (share percentages summing to 100 and a legal 10-point-must
// pair). Per-event point conservation is checked inside Score, which marks
// the verdict Degraded on a violation. A failure here is always fatal: the
// verdict must be withheld and the bout marked degraded per spec §7.
func Validate(verdict model.RoundVerdict) error {
	if !model.ValidateShares(verdict.SharePct[model.FighterA], verdict.SharePct[model.FighterB]) {
		return fcerrors.ScoringInvariant("share percentages do not sum to 100")
	}
	if !model.ValidateTenPoint(verdict.TenPoint, verdict.Winner) {
		return fcerrors.ScoringInvariant("illegal ten-point-must assignment")
	}
	return nil
}

func shareOf(rawA, rawB float64) map[model.Fighter]float64 {
	total := rawA + rawB
	if total <= 0 {
		return map[model.Fighter]float64{model.FighterA: 50, model.FighterB: 50}
	}
	return map[model.Fighter]float64{
		model.FighterA: rawA / total * 100,
		model.FighterB: rawB / total * 100,
	}
}
