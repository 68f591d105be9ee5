package service

import (
	"context"
	"fmt"
	"playsync/internal/domain"
	"playsync/internal/repository"

	"github.com/rs/zerolog"
)

// PlayService holds the local play mutations that feed the upload queue, plus
// the maintenance operations that force or wipe a download.
type PlayService struct {
	plays  *repository.PlayRepository
	state  *repository.SyncStateRepository
	games  *repository.GameRepository
	logger zerolog.Logger
}

func NewPlayService(plays *repository.PlayRepository, state *repository.SyncStateRepository, games *repository.GameRepository, logger zerolog.Logger) *PlayService {
	return &PlayService{
		plays:  plays,
		state:  state,
		games:  games,
		logger: logger.With().Str("component", "play_service").Logger(),
	}
}

func (s *PlayService) LogQuickPlay(ctx context.Context, gameID int, gameName string) (*domain.Play, error) {
	play, err := s.plays.LogQuickPlay(ctx, gameID, gameName)
	if err != nil {
		return nil, err
	}
	s.recount(ctx, gameID, gameName)
	return play, nil
}

func (s *PlayService) Get(ctx context.Context, localID string) (*domain.Play, error) {
	return s.plays.Get(ctx, localID)
}

func (s *PlayService) List(ctx context.Context, filter domain.PlayFilter) ([]domain.Play, error) {
	return s.plays.LoadPlays(ctx, filter)
}

// Save stores a play edited or logged locally and queues it for upload. A play
// without a local id is created.
func (s *PlayService) Save(ctx context.Context, play *domain.Play) error {
	if play.LocalID == "" {
		if err := s.plays.Create(ctx, play); err != nil {
			return err
		}
		s.recount(ctx, play.GameID, play.GameName)
		s.logger.Info().Str("local_id", play.LocalID).Int("game_id", play.GameID).Msg("play created")
		return nil
	}

	previous, err := s.plays.Get(ctx, play.LocalID)
	if err != nil {
		return err
	}
	if err := s.plays.Update(ctx, play); err != nil {
		return err
	}
	s.recount(ctx, play.GameID, play.GameName)
	if previous.GameID != play.GameID {
		s.recount(ctx, previous.GameID, previous.GameName)
	}
	s.logger.Info().Str("local_id", play.LocalID).Int("game_id", play.GameID).Msg("play updated")
	return nil
}

func (s *PlayService) recount(ctx context.Context, gameID int, gameName string) {
	if _, err := s.games.RecountPlays(ctx, gameID, gameName); err != nil {
		s.logger.Warn().Err(err).Int("game_id", gameID).Msg("failed to recount game plays")
	}
}

func (s *PlayService) MarkAsUpdated(ctx context.Context, localID string) error {
	return s.plays.MarkAsUpdated(ctx, localID)
}

// MarkAsDeleted queues the play for deletion upstream. It stays in the local
// store until the upload confirms the delete.
func (s *PlayService) MarkAsDeleted(ctx context.Context, localID string) error {
	play, err := s.plays.Get(ctx, localID)
	if err != nil {
		return err
	}
	if err := s.plays.MarkAsDeleted(ctx, localID); err != nil {
		return err
	}
	s.recount(ctx, play.GameID, play.GameName)
	return nil
}

func (s *PlayService) MarkAsDiscarded(ctx context.Context, localID string) error {
	return s.plays.MarkAsDiscarded(ctx, localID)
}

func (s *PlayService) RenameLocation(ctx context.Context, from, to string) (int, error) {
	if from == to {
		return 0, nil
	}
	n, err := s.plays.RenameLocation(ctx, from, to)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("from", from).Str("to", to).Int("plays", n).Msg("renamed location")
	return n, nil
}

func (s *PlayService) RenamePlayer(ctx context.Context, from, to string) (int, error) {
	if from == "" || to == "" {
		return 0, fmt.Errorf("player name is required: %w", domain.ErrInvalidPlay)
	}
	if from == to {
		return 0, nil
	}
	n, err := s.plays.RenamePlayer(ctx, from, to)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("from", from).Str("to", to).Int("plays", n).Msg("renamed player")
	return n, nil
}

// UpdatePlaysWithNickName returns how many plays now show the new name.
func (s *PlayService) UpdatePlaysWithNickName(ctx context.Context, username, nickName string) (int, error) {
	if username == "" || nickName == "" {
		return 0, fmt.Errorf("username and nickname are required: %w", domain.ErrInvalidPlay)
	}
	n, err := s.plays.UpdatePlaysWithNickName(ctx, username, nickName)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("username", username).Int("plays", n).Msg("updated player nickname")
	return n, nil
}

func (s *PlayService) AddUsernameToPlayer(ctx context.Context, name, username string) (int, error) {
	if name == "" || username == "" {
		return 0, fmt.Errorf("name and username are required: %w", domain.ErrInvalidPlay)
	}
	n, err := s.plays.AddUsernameToPlayer(ctx, name, username)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("name", name).Str("username", username).Int("plays", n).Msg("linked player to user")
	return n, nil
}

// ResetPlays forgets the watermarks and content hashes so the next download
// re-fetches and rewrites every play. Pending local changes are kept.
func (s *PlayService) ResetPlays(ctx context.Context) error {
	if err := s.state.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear watermarks: %w", err)
	}
	n, err := s.plays.ClearSyncHashes(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int("plays", n).Msg("cleared play sync state")
	return nil
}

// DeletePlays wipes every local play, including unsent local changes.
func (s *PlayService) DeletePlays(ctx context.Context) error {
	if err := s.state.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear watermarks: %w", err)
	}
	n, err := s.plays.DeleteAll(ctx)
	if err != nil {
		return err
	}
	if err := s.games.ResetPlayCounts(ctx); err != nil {
		return err
	}
	s.logger.Warn().Int("plays", n).Msg("deleted all local plays")
	return nil
}

func (s *PlayService) Watermarks(ctx context.Context) (domain.Watermarks, error) {
	return s.state.Watermarks(ctx)
}
