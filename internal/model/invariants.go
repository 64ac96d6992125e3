package model

import "math"

const epsilon = 1e-6

// ValidateScoredEvent checks invariant 1: final-points = base-points ×
// technique-mult × strike-mult × control-mult × stuff-mult.
func ValidateScoredEvent(se ScoredEvent) bool {
	expected := se.BasePoints * se.Multipliers.Product()
	return math.Abs(expected-se.FinalPoints) < epsilon
}

// ValidateShares checks invariant 4: share percentages sum to 100 (or
// both 50 when both raw totals are 0).
func ValidateShares(shareA, shareB float64) bool {
	return math.Abs((shareA+shareB)-100) < epsilon
}

// ValidateTenPoint checks invariant 5: both values <= 10, the loser's
// value is one of {7,8,9,10}, and (winner,loser) is one of the four
// permitted pairs.
func ValidateTenPoint(s TenPointScore, winner Winner) bool {
	if s.A > 10 || s.B > 10 {
		return false
	}
	permitted := func(winnerScore, loserScore int) bool {
		if winnerScore != 10 {
			return false
		}
		switch loserScore {
		case 7, 8, 9, 10:
			return true
		default:
			return false
		}
	}
	switch winner {
	case WinnerA:
		return permitted(s.A, s.B)
	case WinnerB:
		return permitted(s.B, s.A)
	case WinnerDraw:
		return s.A == 10 && s.B == 10
	default:
		return false
	}
}
