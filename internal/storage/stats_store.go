package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"puzzle-server/internal/session"
)

// StatsStore persists match outcomes to postgres. Writes are idempotent per
// (match_id, player_id): replaying the same match result is a no-op, so the
// engine's fire-and-forget retries can never double-count.
type StatsStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStatsStore(db *sql.DB, logger *zap.Logger) *StatsStore {
	return &StatsStore{db: db, logger: logger}
}

func (s *StatsStore) RecordMatchResult(ctx context.Context, result session.MatchResult) error {
	if result.MatchID == "" || result.PlayerID == "" {
		return fmt.Errorf("match result requires match and player ids")
	}

	const insertResult = `
		INSERT INTO match_results
			(match_id, player_id, username, score, pieces_placed, won, completed, playtime_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id, player_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insertResult,
		result.MatchID,
		result.PlayerID,
		result.Username,
		result.Score,
		result.PiecesPlaced,
		result.Won,
		result.Completed,
		int64(result.Playtime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("record match result for %s: %w", result.PlayerID, err)
	}

	const insertAchievement = `
		INSERT INTO achievements (player_id, name, match_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, name) DO NOTHING
	`
	for _, name := range result.Achievements {
		if _, err := s.db.ExecContext(ctx, insertAchievement, result.PlayerID, name, result.MatchID); err != nil {
			// An achievement row is a nice-to-have; the result row already
			// landed.
			s.logger.Warn("record achievement failed",
				zap.String("player", result.PlayerID), zap.String("achievement", name), zap.Error(err))
		}
	}
	return nil
}

// PlayerTotals aggregates a player's lifetime stats.
type PlayerTotals struct {
	Matches         int
	Wins            int
	TotalScore      int
	PiecesPlaced    int
	PlaytimeSeconds int64
}

func (s *StatsStore) TotalsForPlayer(ctx context.Context, playerID string) (PlayerTotals, error) {
	const query = `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN won THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(score), 0),
		       COALESCE(SUM(pieces_placed), 0),
		       COALESCE(SUM(playtime_seconds), 0)
		FROM match_results
		WHERE player_id = $1
	`
	var totals PlayerTotals
	err := s.db.QueryRowContext(ctx, query, playerID).Scan(
		&totals.Matches, &totals.Wins, &totals.TotalScore,
		&totals.PiecesPlaced, &totals.PlaytimeSeconds)
	if err != nil {
		return PlayerTotals{}, fmt.Errorf("totals for %s: %w", playerID, err)
	}
	return totals, nil
}

// AchievementsForPlayer lists unlocked achievement names.
func (s *StatsStore) AchievementsForPlayer(ctx context.Context, playerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM achievements WHERE player_id = $1 ORDER BY unlocked_at`, playerID)
	if err != nil {
		return nil, fmt.Errorf("achievements for %s: %w", playerID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
