package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"playsync/internal/db"
	"playsync/internal/domain"
	"time"

	"github.com/rs/zerolog"
)

type GameRepository struct {
	queries *db.Queries
	logger  zerolog.Logger
	now     func() time.Time
}

func NewGameRepository(queries *db.Queries, logger zerolog.Logger) *GameRepository {
	return &GameRepository{
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// RecountPlays sets the game's play count to the total quantity of its plays
// that are not pending deletion.
func (r *GameRepository) RecountPlays(ctx context.Context, gameID int, gameName string) (int, error) {
	total, err := r.queries.SumPlayQuantityByGame(ctx, int64(gameID))
	if err != nil {
		return 0, fmt.Errorf("failed to count plays of game %d: %w", gameID, err)
	}

	err = r.queries.UpsertGamePlayCount(ctx, db.Game{
		GameID:    int64(gameID),
		Name:      gameName,
		NumPlays:  total,
		UpdatedAt: domain.ToMillis(r.now()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store play count of game %d: %w", gameID, err)
	}

	r.logger.Debug().Int("game_id", gameID).Int64("num_plays", total).Msg("game play count updated")
	return int(total), nil
}

func (r *GameRepository) Get(ctx context.Context, gameID int) (*domain.Game, error) {
	row, err := r.queries.GetGame(ctx, int64(gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game %d: %w", gameID, err)
	}
	return &domain.Game{
		ID:        int(row.GameID),
		Name:      row.Name,
		NumPlays:  int(row.NumPlays),
		UpdatedAt: domain.FromMillis(row.UpdatedAt),
	}, nil
}

func (r *GameRepository) ResetPlayCounts(ctx context.Context) error {
	if err := r.queries.ResetGamePlayCounts(ctx, domain.ToMillis(r.now())); err != nil {
		return fmt.Errorf("failed to reset game play counts: %w", err)
	}
	return nil
}
