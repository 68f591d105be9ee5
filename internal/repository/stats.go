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

const (
	StatGameHIndex   = "game_h_index"
	StatPlayerHIndex = "player_h_index"
)

type StatsRepository struct {
	queries *db.Queries
	logger  zerolog.Logger
	now     func() time.Time
}

func NewStatsRepository(queries *db.Queries, logger zerolog.Logger) *StatsRepository {
	return &StatsRepository{
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// GamePlayCounts returns the total quantity played per game.
func (r *StatsRepository) GamePlayCounts(ctx context.Context, includeIncomplete bool) ([]int, error) {
	rows, err := r.queries.ListGamePlayCounts(ctx, includeIncomplete)
	if err != nil {
		return nil, fmt.Errorf("failed to load game play counts: %w", err)
	}
	return counts(rows), nil
}

// PlayerPlayCounts returns the total quantity played per player, keyed by
// username when known and by name otherwise.
func (r *StatsRepository) PlayerPlayCounts(ctx context.Context, includeIncomplete bool) ([]int, error) {
	rows, err := r.queries.ListPlayerPlayCounts(ctx, includeIncomplete)
	if err != nil {
		return nil, fmt.Errorf("failed to load player play counts: %w", err)
	}
	return counts(rows), nil
}

func counts(rows []db.KeyCount) []int {
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		out = append(out, int(row.Count))
	}
	return out
}

// HIndex returns the stored value, or an invalid index when none is stored.
func (r *StatsRepository) HIndex(ctx context.Context, key string) (domain.HIndex, error) {
	row, err := r.queries.GetPlayStat(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HIndex{H: domain.InvalidHIndex}, nil
	}
	if err != nil {
		return domain.HIndex{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return domain.HIndex{H: int(row.H), N: int(row.N)}, nil
}

func (r *StatsRepository) SaveHIndex(ctx context.Context, key string, h domain.HIndex) error {
	err := r.queries.UpsertPlayStat(ctx, db.PlayStat{
		Key:       key,
		H:         int64(h.H),
		N:         int64(h.N),
		UpdatedAt: domain.ToMillis(r.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Str("value", h.String()).Msg("play stat updated")
	return nil
}
