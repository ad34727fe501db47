package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GameType identifies one of the supported game families.
type GameType string

const (
	GameTypeWingo  GameType = "wingo"
	GameTypeTrxWin GameType = "trxwin"
	GameTypeK3     GameType = "k3"
	GameTypeFiveD  GameType = "fived"
)

// OutcomeFamily distinguishes the two outcome shapes the engine knows about.
type OutcomeFamily string

const (
	FamilyDigit OutcomeFamily = "digit"
	FamilyDice  OutcomeFamily = "dice"
)

// Family returns the outcome family for a game type.
func (g GameType) Family() OutcomeFamily {
	switch g {
	case GameTypeK3, GameTypeFiveD:
		return FamilyDice
	default:
		return FamilyDigit
	}
}

// DiceCount returns the number of dice rolled per period for dice games.
func (g GameType) DiceCount() int {
	switch g {
	case GameTypeK3:
		return 3
	case GameTypeFiveD:
		return 5
	default:
		return 0
	}
}

// Valid reports whether g is one of the known game types.
func (g GameType) Valid() bool {
	switch g {
	case GameTypeWingo, GameTypeTrxWin, GameTypeK3, GameTypeFiveD:
		return true
	}
	return false
}

// Room is one independent rotating betting queue, identified by game type
// and round duration. The room catalog is fixed at startup.
type Room struct {
	GameType GameType      `json:"game_type"`
	Duration time.Duration `json:"duration"`
}

// Key returns the canonical room identifier, e.g. "wingo:30".
func (r Room) Key() string {
	return fmt.Sprintf("%s:%d", r.GameType, r.Seconds())
}

// Seconds returns the round duration in whole seconds.
func (r Room) Seconds() int {
	return int(r.Duration / time.Second)
}

// ParseRoomKey parses a "gameType:seconds" key back into a Room.
func ParseRoomKey(key string) (Room, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return Room{}, fmt.Errorf("malformed room key %q", key)
	}
	gt := GameType(parts[0])
	if !gt.Valid() {
		return Room{}, fmt.Errorf("unknown game type %q", parts[0])
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil || secs <= 0 {
		return Room{}, fmt.Errorf("invalid duration in room key %q", key)
	}
	return Room{GameType: gt, Duration: time.Duration(secs) * time.Second}, nil
}
