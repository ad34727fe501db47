package models

import "time"

// PeriodSnapshot is the cross-process handoff record for a room's live
// period. It is owned exclusively by the lifecycle manager, rewritten every
// tick, and read-only to every other process.
type PeriodSnapshot struct {
	PeriodID        string    `json:"period_id"`
	GameType        GameType  `json:"game_type"`
	DurationSeconds int       `json:"duration_seconds"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	TimeRemaining   int       `json:"time_remaining"`
	BettingOpen     bool      `json:"betting_open"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Room reconstructs the room this snapshot belongs to.
func (s PeriodSnapshot) Room() Room {
	return Room{GameType: s.GameType, Duration: time.Duration(s.DurationSeconds) * time.Second}
}

// Proof provenance values recorded with a settled result.
const (
	ProofSourceExternal    = "external"
	ProofSourceSynthesized = "synthesized"
)

// PeriodResult is the committed outcome of one period. Written exactly once;
// immutable history afterwards.
type PeriodResult struct {
	GameType        GameType  `json:"game_type"`
	DurationSeconds int       `json:"duration_seconds"`
	PeriodID        string    `json:"period_id"`
	Outcome         Outcome   `json:"outcome"`
	Proof           string    `json:"proof"`
	ProofSource     string    `json:"proof_source"`
	Fallback        bool      `json:"fallback"`
	SettledAt       time.Time `json:"settled_at"`
}

// Room reconstructs the room this result belongs to.
func (r PeriodResult) Room() Room {
	return Room{GameType: r.GameType, Duration: time.Duration(r.DurationSeconds) * time.Second}
}
