package models

import (
	"fmt"
	"sort"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind string

const (
	OutcomeKindDigit OutcomeKind = "digit"
	OutcomeKindDice  OutcomeKind = "dice"
)

// Color values derived from a digit outcome.
const (
	ColorRed         = "red"
	ColorGreen       = "green"
	ColorRedViolet   = "red_violet"
	ColorGreenViolet = "green_violet"
)

// Size values derived from digit and dice outcomes.
const (
	SizeBig   = "big"
	SizeSmall = "small"
)

// Parity values derived from dice outcomes.
const (
	ParityOdd  = "odd"
	ParityEven = "even"
)

// Dice patterns, most specific first.
const (
	PatternTriple   = "triple"
	PatternStraight = "straight"
	PatternPair     = "pair"
	PatternDistinct = "distinct"
)

// DigitOutcome is a single drawn digit 0-9 with its derived attributes.
type DigitOutcome struct {
	Number int    `json:"number"`
	Color  string `json:"color"`
	Size   string `json:"size"`
}

// NewDigitOutcome derives color and size for a digit. Zero and five carry
// the violet overlay, other even digits are red, odd digits are green.
func NewDigitOutcome(number int) DigitOutcome {
	o := DigitOutcome{Number: number}
	switch {
	case number == 0:
		o.Color = ColorRedViolet
	case number == 5:
		o.Color = ColorGreenViolet
	case number%2 == 0:
		o.Color = ColorRed
	default:
		o.Color = ColorGreen
	}
	if number >= 5 {
		o.Size = SizeBig
	} else {
		o.Size = SizeSmall
	}
	return o
}

// DiceOutcome is a set of drawn dice faces with derived sum attributes.
type DiceOutcome struct {
	Faces   []int  `json:"faces"`
	Sum     int    `json:"sum"`
	Size    string `json:"size"`
	Parity  string `json:"parity"`
	Pattern string `json:"pattern"`
}

// NewDiceOutcome derives sum, size, parity and pattern for a set of faces.
// The big/small boundary is the midpoint of the sum range for the dice count.
func NewDiceOutcome(faces []int) DiceOutcome {
	o := DiceOutcome{Faces: append([]int(nil), faces...)}
	for _, f := range faces {
		o.Sum += f
	}
	// midpoint of [n, 6n]
	if o.Sum >= (len(faces)*7+1)/2 {
		o.Size = SizeBig
	} else {
		o.Size = SizeSmall
	}
	if o.Sum%2 == 0 {
		o.Parity = ParityEven
	} else {
		o.Parity = ParityOdd
	}
	o.Pattern = dicePattern(o.Faces)
	return o
}

func dicePattern(faces []int) string {
	counts := make(map[int]int, len(faces))
	for _, f := range faces {
		counts[f]++
	}
	maxRun := 0
	for _, c := range counts {
		if c > maxRun {
			maxRun = c
		}
	}
	switch {
	case maxRun >= 3:
		return PatternTriple
	case maxRun == 2:
		return PatternPair
	case isStraight(faces):
		return PatternStraight
	default:
		return PatternDistinct
	}
}

func isStraight(faces []int) bool {
	if len(faces) < 3 {
		return false
	}
	sorted := append([]int(nil), faces...)
	sort.Ints(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]+1 {
			return false
		}
	}
	return true
}

// Outcome is the tagged variant written once per period and never mutated.
type Outcome struct {
	Kind  OutcomeKind   `json:"kind"`
	Digit *DigitOutcome `json:"digit,omitempty"`
	Dice  *DiceOutcome  `json:"dice,omitempty"`
}

// DigitResult wraps a digit draw in the common Outcome shape.
func DigitResult(number int) Outcome {
	d := NewDigitOutcome(number)
	return Outcome{Kind: OutcomeKindDigit, Digit: &d}
}

// DiceResult wraps a dice draw in the common Outcome shape.
func DiceResult(faces []int) Outcome {
	d := NewDiceOutcome(faces)
	return Outcome{Kind: OutcomeKindDice, Dice: &d}
}

// Value returns the candidate's ordering value: the digit for digit games,
// the face sum for dice games. Lowest value wins protection-mode tie-breaks.
func (o Outcome) Value() int {
	switch o.Kind {
	case OutcomeKindDigit:
		return o.Digit.Number
	case OutcomeKindDice:
		return o.Dice.Sum
	}
	return 0
}

// ProofDigit returns the digit a fairness proof must end in for this outcome.
func (o Outcome) ProofDigit() int {
	switch o.Kind {
	case OutcomeKindDigit:
		return o.Digit.Number
	case OutcomeKindDice:
		return o.Dice.Sum % 10
	}
	return 0
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeKindDigit:
		return fmt.Sprintf("digit(%d %s %s)", o.Digit.Number, o.Digit.Color, o.Digit.Size)
	case OutcomeKindDice:
		return fmt.Sprintf("dice(%v sum=%d %s)", o.Dice.Faces, o.Dice.Sum, o.Dice.Pattern)
	}
	return "outcome(?)"
}

// OutcomeSpace enumerates the finite candidate space for a game type: the
// ten digits for digit games, one canonical dice combination per reachable
// sum for dice games. Candidates are ordered by ascending value.
func OutcomeSpace(g GameType) []Outcome {
	switch g.Family() {
	case FamilyDigit:
		space := make([]Outcome, 0, 10)
		for n := 0; n < 10; n++ {
			space = append(space, DigitResult(n))
		}
		return space
	case FamilyDice:
		n := g.DiceCount()
		space := make([]Outcome, 0, 5*n+1)
		for sum := n; sum <= 6*n; sum++ {
			space = append(space, DiceResult(CanonicalFaces(n, sum)))
		}
		return space
	}
	return nil
}

// CanonicalFaces distributes a target sum across n dice as evenly as
// possible, producing a deterministic representative combination.
func CanonicalFaces(n, sum int) []int {
	faces := make([]int, n)
	remaining := sum
	for i := 0; i < n; i++ {
		f := remaining / (n - i)
		if f < 1 {
			f = 1
		}
		if f > 6 {
			f = 6
		}
		faces[i] = f
		remaining -= f
	}
	// distribute any leftover from rounding
	for i := 0; remaining > 0 && i < n; i++ {
		add := 6 - faces[i]
		if add > remaining {
			add = remaining
		}
		faces[i] += add
		remaining -= add
	}
	return faces
}
