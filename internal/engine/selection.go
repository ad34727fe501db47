package engine

import (
	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// SelectProtected picks the outcome that minimizes operator liability for a
// low-liquidity period. Selection policy, in priority order:
//
//  1. a candidate with zero liability (lowest value among them)
//  2. a candidate no placed bet names directly (lowest value)
//  3. the candidate with globally minimum liability (lowest value tie-break)
//
// Rule 1 dominates because it guarantees zero payout; rule 2 is the weaker
// fallback when combination bets leave every candidate with some liability;
// rule 3 bounds the loss when neither applies.
func SelectProtected(g models.GameType, bets []models.Bet) models.Outcome {
	space := models.OutcomeSpace(g)
	liability := LiabilityByOutcome(space, bets)

	for _, candidate := range space { // space is ordered by ascending value
		if liability[candidate.Value()] == 0 {
			return candidate
		}
	}

	for _, candidate := range space {
		if !directlyBet(candidate, bets) {
			return candidate
		}
	}

	best := space[0]
	for _, candidate := range space[1:] {
		if liability[candidate.Value()] < liability[best.Value()] {
			best = candidate
		}
	}
	return best
}

// LiabilityByOutcome sums, for each candidate outcome, the stakes of bets
// that would win under it, keyed by the candidate's ordering value.
func LiabilityByOutcome(space []models.Outcome, bets []models.Bet) map[int]float64 {
	liability := make(map[int]float64, len(space))
	for _, candidate := range space {
		total := 0.0
		for _, b := range bets {
			if candidate.Wins(b) {
				total += b.Stake
			}
		}
		liability[candidate.Value()] = total
	}
	return liability
}

func directlyBet(candidate models.Outcome, bets []models.Bet) bool {
	for _, b := range bets {
		if candidate.DirectlyBet(b) {
			return true
		}
	}
	return false
}
