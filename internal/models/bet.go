package models

import (
	"strconv"
	"strings"
)

// BetType enumerates the wager shapes the liability engine understands.
type BetType string

const (
	BetTypeNumber  BetType = "number"  // digit games: exact digit
	BetTypeColor   BetType = "color"   // digit games: red/green/violet
	BetTypeSize    BetType = "size"    // both families: big/small
	BetTypeSum     BetType = "sum"     // dice games: exact sum
	BetTypeParity  BetType = "parity"  // dice games: odd/even
	BetTypePattern BetType = "pattern" // dice games: triple/pair/straight/distinct
)

// Bet is one placed wager as returned by the bet-ledger collaborator.
// Stake is the amount at risk; payout math lives outside this module.
type Bet struct {
	UserID string  `json:"user_id"`
	Type   BetType `json:"bet_type"`
	Value  string  `json:"bet_value"`
	Stake  float64 `json:"stake"`
}

const betColorViolet = "violet"

// Wins reports whether the bet pays out under this outcome.
func (o Outcome) Wins(b Bet) bool {
	switch o.Kind {
	case OutcomeKindDigit:
		return o.Digit.wins(b)
	case OutcomeKindDice:
		return o.Dice.wins(b)
	}
	return false
}

func (d *DigitOutcome) wins(b Bet) bool {
	switch b.Type {
	case BetTypeNumber:
		n, err := strconv.Atoi(b.Value)
		return err == nil && n == d.Number
	case BetTypeColor:
		switch b.Value {
		case ColorRed:
			return d.Color == ColorRed || d.Color == ColorRedViolet
		case ColorGreen:
			return d.Color == ColorGreen || d.Color == ColorGreenViolet
		case betColorViolet:
			return d.Color == ColorRedViolet || d.Color == ColorGreenViolet
		}
		return false
	case BetTypeSize:
		return b.Value == d.Size
	}
	return false
}

func (d *DiceOutcome) wins(b Bet) bool {
	switch b.Type {
	case BetTypeSum:
		n, err := strconv.Atoi(b.Value)
		return err == nil && n == d.Sum
	case BetTypeSize:
		return b.Value == d.Size
	case BetTypeParity:
		return b.Value == d.Parity
	case BetTypePattern:
		// "triple:4" wagers an exact triple, bare values match the pattern
		if face, ok := strings.CutPrefix(b.Value, PatternTriple+":"); ok {
			if d.Pattern != PatternTriple {
				return false
			}
			n, err := strconv.Atoi(face)
			return err == nil && len(d.Faces) > 0 && d.Faces[0] == n && allEqual(d.Faces)
		}
		return b.Value == d.Pattern
	}
	return false
}

func allEqual(faces []int) bool {
	for _, f := range faces[1:] {
		if f != faces[0] {
			return false
		}
	}
	return true
}

// DirectlyBet reports whether the bet names this outcome's value outright
// (an exact number or sum wager). Combination bets such as color or size
// never count as direct, which is what separates the "no one bet on it"
// selection rule from the zero-liability rule.
func (o Outcome) DirectlyBet(b Bet) bool {
	switch {
	case o.Kind == OutcomeKindDigit && b.Type == BetTypeNumber:
		n, err := strconv.Atoi(b.Value)
		return err == nil && n == o.Digit.Number
	case o.Kind == OutcomeKindDice && b.Type == BetTypeSum:
		n, err := strconv.Atoi(b.Value)
		return err == nil && n == o.Dice.Sum
	}
	return false
}
