// Package engine decides and commits the outcome of a period exactly once.
// Callers must hold the settlement lock for the (room, period) before
// calling Settle; the engine's own idempotency check is the second line of
// defense, covering a prior attempt that committed but crashed before
// broadcasting.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/metrics"
	"github.com/arjunm-dev/wheelhouse/internal/models"
	"github.com/arjunm-dev/wheelhouse/internal/periodclock"
)

// BetLedger is the bet-ledger collaborator contract.
type BetLedger interface {
	ListBets(ctx context.Context, room models.Room, periodID string) ([]models.Bet, error)
	CountDistinctBettors(ctx context.Context, room models.Room, periodID string) (int, error)
}

// ResultStore is the result-commit collaborator contract. CommitResult must
// be idempotent by period and safe under concurrent callers.
type ResultStore interface {
	GetResult(ctx context.Context, room models.Room, periodID string) (*models.PeriodResult, error)
	CommitResult(ctx context.Context, res models.PeriodResult) (*models.PeriodResult, error)
}

// ProofProvider supplies fairness proofs. The bool reports external origin.
type ProofProvider interface {
	Proof(ctx context.Context, digit, durationSeconds int) (string, bool)
}

// Status classifies a settlement attempt. Timing rejections and lock-style
// short-circuits are expected control flow, not errors.
type Status int

const (
	// StatusSettled: a fresh outcome was committed.
	StatusSettled Status = iota
	// StatusRepublished: an outcome already existed; it was returned for
	// re-broadcast instead of generating a new one.
	StatusRepublished
	// StatusFallback: primary generation failed; a context-free fallback
	// outcome was committed inside the grace window.
	StatusFallback
	// StatusNotDue: the period's end is still too far in the future.
	StatusNotDue
	// StatusStale: the period ended too long ago to settle safely.
	StatusStale
	// StatusAbandoned: fallback also failed or the window lapsed mid-flight.
	// The period is surfaced as an error event and never retried.
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusSettled:
		return "settled"
	case StatusRepublished:
		return "republished"
	case StatusFallback:
		return "fallback"
	case StatusNotDue:
		return "not_due"
	case StatusStale:
		return "stale"
	case StatusAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Settlement is the outcome of one Settle call.
type Settlement struct {
	Status Status
	Result *models.PeriodResult
	// Mode records how the outcome was selected (fair/protected/fallback);
	// empty for republished and rejected attempts.
	Mode string
}

// Config tunes the engine. Zero values are replaced by defaults.
type Config struct {
	// PrematureMargin guards against clock skew: settlement is rejected
	// while now < end - margin.
	PrematureMargin time.Duration
	// StaleAfter abandons periods whose end is further than this in the
	// past; they belong to out-of-band reconciliation.
	StaleAfter time.Duration
	// GenerationTimeout caps primary outcome generation.
	GenerationTimeout time.Duration
	// LiquidityThreshold is the distinct-bettor count at which protection
	// mode switches off in favor of fair random selection.
	LiquidityThreshold int
}

func (c Config) withDefaults() Config {
	if c.PrematureMargin <= 0 {
		c.PrematureMargin = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 120 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 20 * time.Second
	}
	if c.LiquidityThreshold <= 0 {
		c.LiquidityThreshold = 100
	}
	return c
}

// Engine selects and commits period outcomes.
type Engine struct {
	ledger  BetLedger
	results ResultStore
	proofs  ProofProvider
	cfg     Config
	clock   clockwork.Clock

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an engine with its own seeded RNG.
func New(ledger BetLedger, results ResultStore, proofs ProofProvider, cfg Config, clock clockwork.Clock) *Engine {
	return &Engine{
		ledger:  ledger,
		results: results,
		proofs:  proofs,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Settle runs the full settlement flow for one period: timing gate,
// idempotency check, liquidity-gated selection, commit, and fallback. The
// returned error is non-nil only for terminal failures; expected rejections
// come back as statuses.
func (e *Engine) Settle(ctx context.Context, room models.Room, periodID string) (Settlement, error) {
	_, end, err := periodclock.Bounds(periodID, room.Duration)
	if err != nil {
		return Settlement{Status: StatusAbandoned}, fmt.Errorf("resolve period bounds: %w", err)
	}

	now := e.clock.Now()
	if now.Before(end.Add(-e.cfg.PrematureMargin)) {
		log.Info().
			Str("room", room.Key()).
			Str("period_id", periodID).
			Time("period_end", end).
			Msg("settlement attempted before period end")
		return Settlement{Status: StatusNotDue}, nil
	}
	if now.After(end.Add(e.cfg.StaleAfter)) {
		log.Warn().
			Str("room", room.Key()).
			Str("period_id", periodID).
			Time("period_end", end).
			Msg("period too old to settle, leaving to reconciliation")
		return Settlement{Status: StatusStale}, nil
	}

	// A prior attempt may have committed and crashed before broadcasting.
	// A failed read here is transient, not terminal: the commit below is
	// idempotent, so proceeding can never produce a second outcome.
	existing, err := e.results.GetResult(ctx, room, periodID)
	if err != nil {
		log.Warn().Err(err).
			Str("room", room.Key()).
			Str("period_id", periodID).
			Msg("idempotency pre-check failed, relying on commit-time conflict handling")
	} else if existing != nil {
		metrics.SettlementsTotal.WithLabelValues(string(room.GameType), metrics.ModeRepublished).Inc()
		return Settlement{Status: StatusRepublished, Result: existing}, nil
	}

	started := e.clock.Now()
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	result, mode, genErr := e.generate(genCtx, room, periodID)
	cancel()

	if genErr == nil {
		stored, err := e.results.CommitResult(ctx, *result)
		if err != nil {
			genErr = fmt.Errorf("commit result: %w", err)
		} else {
			metrics.SettlementsTotal.WithLabelValues(string(room.GameType), mode).Inc()
			metrics.SettlementDuration.WithLabelValues(string(room.GameType)).Observe(e.clock.Now().Sub(started).Seconds())
			return Settlement{Status: StatusSettled, Result: stored, Mode: mode}, nil
		}
	}

	log.Error().Err(genErr).
		Str("room", room.Key()).
		Str("period_id", periodID).
		Msg("primary settlement failed, attempting fallback")

	if e.clock.Now().After(end.Add(e.cfg.StaleAfter)) {
		metrics.SettlementErrors.WithLabelValues(string(room.GameType)).Inc()
		return Settlement{Status: StatusAbandoned}, fmt.Errorf("grace window lapsed during settlement: %w", genErr)
	}

	fallback := e.fallbackResult(ctx, room, periodID)
	stored, err := e.results.CommitResult(ctx, fallback)
	if err != nil {
		metrics.SettlementErrors.WithLabelValues(string(room.GameType)).Inc()
		return Settlement{Status: StatusAbandoned}, fmt.Errorf("fallback commit: %w", err)
	}
	metrics.SettlementsTotal.WithLabelValues(string(room.GameType), metrics.ModeFallback).Inc()
	return Settlement{Status: StatusFallback, Result: stored, Mode: metrics.ModeFallback}, nil
}

// generate picks the outcome: fair random when liquidity is at or above the
// threshold, exposure-protected selection below it.
func (e *Engine) generate(ctx context.Context, room models.Room, periodID string) (*models.PeriodResult, string, error) {
	bettors, err := e.ledger.CountDistinctBettors(ctx, room, periodID)
	if err != nil {
		return nil, "", fmt.Errorf("count bettors: %w", err)
	}

	var (
		outcome models.Outcome
		mode    string
	)
	if bettors >= e.cfg.LiquidityThreshold {
		outcome = e.randomOutcome(room.GameType)
		mode = metrics.ModeFair
	} else {
		bets, err := e.ledger.ListBets(ctx, room, periodID)
		if err != nil {
			return nil, "", fmt.Errorf("list bets: %w", err)
		}
		outcome = SelectProtected(room.GameType, bets)
		mode = metrics.ModeProtected
	}
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("generation timed out: %w", err)
	}

	proof, external := e.proofs.Proof(ctx, outcome.ProofDigit(), room.Seconds())
	source := models.ProofSourceSynthesized
	if external {
		source = models.ProofSourceExternal
	}

	log.Info().
		Str("room", room.Key()).
		Str("period_id", periodID).
		Str("outcome", outcome.String()).
		Str("mode", mode).
		Int("bettors", bettors).
		Msg("outcome selected")

	return &models.PeriodResult{
		GameType:        room.GameType,
		DurationSeconds: room.Seconds(),
		PeriodID:        periodID,
		Outcome:         outcome,
		Proof:           proof,
		ProofSource:     source,
		Fallback:        false,
		SettledAt:       e.clock.Now().UTC(),
	}, mode, nil
}

// fallbackResult synthesizes a context-free outcome with the same derived
// attributes as a normal one, flagged as a fallback in metadata.
func (e *Engine) fallbackResult(ctx context.Context, room models.Room, periodID string) models.PeriodResult {
	outcome := e.randomOutcome(room.GameType)
	proof, external := e.proofs.Proof(ctx, outcome.ProofDigit(), room.Seconds())
	source := models.ProofSourceSynthesized
	if external {
		source = models.ProofSourceExternal
	}
	return models.PeriodResult{
		GameType:        room.GameType,
		DurationSeconds: room.Seconds(),
		PeriodID:        periodID,
		Outcome:         outcome,
		Proof:           proof,
		ProofSource:     source,
		Fallback:        true,
		SettledAt:       e.clock.Now().UTC(),
	}
}

// randomOutcome draws a fair outcome for the game family.
func (e *Engine) randomOutcome(g models.GameType) models.Outcome {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	switch g.Family() {
	case models.FamilyDice:
		n := g.DiceCount()
		faces := make([]int, n)
		for i := range faces {
			faces[i] = e.rng.Intn(6) + 1
		}
		return models.DiceResult(faces)
	default:
		return models.DigitResult(e.rng.Intn(10))
	}
}
