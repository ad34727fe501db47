package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// ResultRepository persists settled outcomes. Commit is idempotent by
// (room, period): the first writer wins and every later caller reads back
// the stored row, which is what makes concurrent settlement attempts safe
// to retry.
type ResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// GetResult returns the committed outcome for a period, or (nil, nil) when
// none exists yet.
func (r *ResultRepository) GetResult(ctx context.Context, room models.Room, periodID string) (*models.PeriodResult, error) {
	var (
		res         models.PeriodResult
		outcomeJSON []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT game_type, duration_seconds, period_id, outcome, proof, proof_source, is_fallback, settled_at
		FROM period_results
		WHERE game_type = $1 AND duration_seconds = $2 AND period_id = $3`,
		room.GameType, room.Seconds(), periodID).Scan(
		&res.GameType, &res.DurationSeconds, &res.PeriodID,
		&outcomeJSON, &res.Proof, &res.ProofSource, &res.Fallback, &res.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result for %s period %s: %w", room.Key(), periodID, err)
	}
	if err := json.Unmarshal(outcomeJSON, &res.Outcome); err != nil {
		return nil, fmt.Errorf("decode outcome for %s period %s: %w", room.Key(), periodID, err)
	}
	return &res, nil
}

// CommitResult inserts the result, swallowing conflicts on the period key,
// then reads back whichever row actually won. Safe to call twice with the
// same arguments; safe for two instances to race.
func (r *ResultRepository) CommitResult(ctx context.Context, res models.PeriodResult) (*models.PeriodResult, error) {
	outcomeJSON, err := json.Marshal(res.Outcome)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO period_results
			(game_type, duration_seconds, period_id, outcome, proof, proof_source, is_fallback, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_type, duration_seconds, period_id) DO NOTHING`,
		res.GameType, res.DurationSeconds, res.PeriodID,
		outcomeJSON, res.Proof, res.ProofSource, res.Fallback, res.SettledAt)
	if err != nil {
		return nil, fmt.Errorf("commit result for %s period %s: %w", res.Room().Key(), res.PeriodID, err)
	}

	stored, err := r.GetResult(ctx, res.Room(), res.PeriodID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("result for %s period %s missing after commit", res.Room().Key(), res.PeriodID)
	}
	return stored, nil
}
