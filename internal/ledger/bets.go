// Package ledger implements the two narrow contracts the scheduler has with
// the betting platform's persistence: the bet-ledger query and the
// idempotent result commit. Payout math and wallet mutation live elsewhere.
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// BetRepository reads placed bets for a (room, period).
type BetRepository struct {
	pool *pgxpool.Pool
}

func NewBetRepository(pool *pgxpool.Pool) *BetRepository {
	return &BetRepository{pool: pool}
}

// ListBets returns every bet placed in the period.
func (r *BetRepository) ListBets(ctx context.Context, room models.Room, periodID string) ([]models.Bet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, bet_type, bet_value, stake
		FROM bets
		WHERE game_type = $1 AND duration_seconds = $2 AND period_id = $3`,
		room.GameType, room.Seconds(), periodID)
	if err != nil {
		return nil, fmt.Errorf("list bets for %s period %s: %w", room.Key(), periodID, err)
	}
	defer rows.Close()

	var bets []models.Bet
	for rows.Next() {
		var b models.Bet
		if err := rows.Scan(&b.UserID, &b.Type, &b.Value, &b.Stake); err != nil {
			return nil, fmt.Errorf("scan bet row: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bets: %w", err)
	}
	return bets, nil
}

// CountDistinctBettors returns how many distinct users placed bets in the
// period. The engine's liquidity gate compares this against its threshold.
func (r *BetRepository) CountDistinctBettors(ctx context.Context, room models.Room, periodID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM bets
		WHERE game_type = $1 AND duration_seconds = $2 AND period_id = $3`,
		room.GameType, room.Seconds(), periodID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bettors for %s period %s: %w", room.Key(), periodID, err)
	}
	return count, nil
}
