package service

import (
	"context"
	"fmt"
	"playsync/internal/domain"
	"playsync/internal/repository"

	"github.com/rs/zerolog"
)

// PlayStatsService maintains the game and player H-index. The numbers only mean
// something once the whole play history has been downloaded, so nothing is
// computed before the backfill completes.
type PlayStatsService struct {
	marks             WatermarkStore
	stats             StatsStore
	includeIncomplete bool
	logger            zerolog.Logger
}

func NewPlayStatsService(marks WatermarkStore, stats StatsStore, includeIncomplete bool, logger zerolog.Logger) *PlayStatsService {
	return &PlayStatsService{
		marks:             marks,
		stats:             stats,
		includeIncomplete: includeIncomplete,
		logger:            logger.With().Str("component", "play_stats").Logger(),
	}
}

func (s *PlayStatsService) Recalculate(ctx context.Context) error {
	marks, err := s.marks.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watermarks: %w", err)
	}
	if !marks.Oldest.IsComplete() {
		s.logger.Debug().Str("oldest", marks.Oldest.String()).Msg("history not backfilled yet, skipping play stats")
		return nil
	}

	games, err := s.stats.GamePlayCounts(ctx, s.includeIncomplete)
	if err != nil {
		return err
	}
	if err := s.update(ctx, repository.StatGameHIndex, "game", domain.NewHIndex(games)); err != nil {
		return err
	}

	players, err := s.stats.PlayerPlayCounts(ctx, s.includeIncomplete)
	if err != nil {
		return err
	}
	return s.update(ctx, repository.StatPlayerHIndex, "player", domain.NewHIndex(players))
}

func (s *PlayStatsService) update(ctx context.Context, key, kind string, h domain.HIndex) error {
	if !h.Valid() {
		return nil
	}

	old, err := s.stats.HIndex(ctx, key)
	if err != nil {
		return err
	}
	if !old.Valid() {
		old = domain.HIndex{}
	}
	if old == h {
		return nil
	}

	if err := s.stats.SaveHIndex(ctx, key, h); err != nil {
		return err
	}

	direction := "decreased"
	if h.H > old.H || (h.H == old.H && h.N < old.N) {
		direction = "increased"
	}
	s.logger.Info().
		Str("kind", kind).
		Str("from", old.String()).
		Str("to", h.String()).
		Msgf("%s H-index %s", kind, direction)
	return nil
}

// Current returns the stored game and player H-index.
func (s *PlayStatsService) Current(ctx context.Context) (game, player domain.HIndex, err error) {
	if game, err = s.stats.HIndex(ctx, repository.StatGameHIndex); err != nil {
		return
	}
	player, err = s.stats.HIndex(ctx, repository.StatPlayerHIndex)
	return
}
