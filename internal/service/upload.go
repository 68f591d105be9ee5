package service

import (
	"context"
	"fmt"
	"playsync/internal/domain"
	"playsync/internal/retry"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type UploadAction string

const (
	UploadActionDelete UploadAction = "delete"
	UploadActionSave   UploadAction = "save"
)

// UploadFailure is a per-play problem the user should hear about. It never
// stops the rest of the batch.
type UploadFailure struct {
	LocalID  string       `json:"local_id"`
	PlayID   int          `json:"play_id,omitempty"`
	GameName string       `json:"game_name"`
	Action   UploadAction `json:"action"`
	Message  string       `json:"message"`
}

type UploadResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Deleted   int `json:"deleted"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`

	Failures []UploadFailure `json:"failures,omitempty"`
	Messages []string        `json:"messages,omitempty"`
	GameIDs  []int           `json:"game_ids,omitempty"`
}

func (r *UploadResult) fail(p *domain.Play, action UploadAction, msg string) {
	r.Errors++
	r.Failures = append(r.Failures, UploadFailure{
		LocalID:  p.LocalID,
		PlayID:   p.PlayID,
		GameName: p.GameName,
		Action:   action,
		Message:  msg,
	})
}

// PlayUploader replays pending local deletes, then pending creates and edits,
// against the remote service.
type PlayUploader struct {
	remote PlaysPoster
	store  PlayStore
	games  GamePlayCounter
	stats  StatsCalculator
	pause  time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewPlayUploader(remote PlaysPoster, store PlayStore, games GamePlayCounter, stats StatsCalculator, pause time.Duration, logger zerolog.Logger) *PlayUploader {
	return &PlayUploader{
		remote: remote,
		store:  store,
		games:  games,
		stats:  stats,
		pause:  pause,
		logger: logger.With().Str("component", "play_uploader").Logger(),
		now:    time.Now,
	}
}

// Run uploads every dirty play. Deletes always go first so a play deleted and
// re-logged in the same session is not resurrected. Only an authentication
// failure, a cancelled ctx or a local store failure end the run early; the
// partial result is returned alongside the error.
func (u *PlayUploader) Run(ctx context.Context) (*UploadResult, error) {
	if !u.mu.TryLock() {
		return nil, domain.ErrSyncInProgress
	}
	defer u.mu.Unlock()

	startedAt := u.now()
	result := &UploadResult{RunID: uuid.NewString(), StartedAt: startedAt}
	logger := u.logger.With().Str("run_id", result.RunID).Logger()
	defer func() { result.Duration = time.Since(startedAt) }()

	run := &uploadRun{result: result, touched: make(map[int]string), logger: logger}

	runErr := u.deletes(ctx, run)
	if runErr == nil {
		runErr = u.saves(ctx, run)
	}

	// recount whatever was touched even after an early stop so counts never
	// drift from the local plays
	u.recount(ctx, run)

	if runErr == nil && len(run.touched) > 0 && u.stats != nil {
		if err := u.stats.Recalculate(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to recalculate play stats")
		}
	}

	logger.Info().
		Int("deleted", result.Deleted).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("conflicts", result.Conflicts).
		Int("errors", result.Errors).
		Msg("play upload finished")

	return result, runErr
}

type uploadRun struct {
	result      *UploadResult
	touched     map[int]string // game id -> name
	remoteCalls int
	logger      zerolog.Logger
}

func (u *PlayUploader) deletes(ctx context.Context, run *uploadRun) error {
	result, touched, logger := run.result, run.touched, run.logger
	plays, err := u.store.LoadPlays(ctx, domain.PlayFilter{PendingDelete: true})
	if err != nil {
		return fmt.Errorf("failed to load plays pending delete: %w", err)
	}
	if len(plays) > 0 {
		logger.Info().Int("count", len(plays)).Msg("uploading deleted plays")
	}

	for i := range plays {
		p := &plays[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		if !p.IsSynced() {
			if err := u.store.Delete(ctx, p.LocalID); err != nil {
				return err
			}
			touched[p.GameID] = p.GameName
			result.Deleted++
			logger.Debug().Str("local_id", p.LocalID).Msg("deleted never-uploaded play locally")
			continue
		}

		if err := u.wait(ctx, run); err != nil {
			return err
		}

		resp, err := u.remote.DeletePlay(ctx, p.PlayID)
		switch {
		case err != nil && domain.IsAuthError(err):
			return err
		case err != nil:
			logger.Warn().Err(err).Int("play_id", p.PlayID).Msg("failed to delete play upstream")
			result.fail(p, UploadActionDelete, err.Error())
			continue
		case resp.HasAuthError():
			return fmt.Errorf("delete of play %d rejected: %s: %w", p.PlayID, resp.Error, domain.ErrAuthFailed)
		case resp.HasInvalidIDError():
			// already gone upstream, which is what we wanted
			logger.Info().Int("play_id", p.PlayID).Msg("play already missing upstream, removing locally")
			result.Conflicts++
		case resp.HasError():
			msg := resp.Error
			if msg == "" {
				msg = "delete was not acknowledged"
			}
			logger.Warn().Str("error", msg).Int("play_id", p.PlayID).Msg("remote refused delete")
			result.fail(p, UploadActionDelete, msg)
			continue
		default:
			result.Deleted++
		}

		if err := u.store.Delete(ctx, p.LocalID); err != nil {
			return err
		}
		touched[p.GameID] = p.GameName
	}
	return nil
}

func (u *PlayUploader) saves(ctx context.Context, run *uploadRun) error {
	result, touched, logger := run.result, run.touched, run.logger
	plays, err := u.store.LoadPlays(ctx, domain.PlayFilter{PendingUpdate: true})
	if err != nil {
		return fmt.Errorf("failed to load plays pending update: %w", err)
	}
	if len(plays) > 0 {
		logger.Info().Int("count", len(plays)).Msg("uploading new and edited plays")
	}

	for i := range plays {
		p := &plays[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.wait(ctx, run); err != nil {
			return err
		}

		resp, err := u.remote.SavePlay(ctx, p)
		switch {
		case err != nil && domain.IsAuthError(err):
			return err
		case err != nil:
			logger.Warn().Err(err).Str("local_id", p.LocalID).Msg("failed to save play upstream")
			result.fail(p, UploadActionSave, err.Error())
			continue
		case resp.HasAuthError():
			return fmt.Errorf("save of play %s rejected: %s: %w", p.LocalID, resp.Error, domain.ErrAuthFailed)
		case resp.HasInvalidIDError():
			logger.Warn().Int("play_id", p.PlayID).Msg("edited play no longer exists upstream")
			result.fail(p, UploadActionSave, fmt.Sprintf("could not update play %d of %s: %s", p.PlayID, p.GameName, resp.Error))
			continue
		case resp.HasError():
			logger.Warn().Str("error", resp.Error).Str("local_id", p.LocalID).Msg("remote refused save")
			result.fail(p, UploadActionSave, resp.Error)
			continue
		case resp.NumPlays < 0:
			result.fail(p, UploadActionSave, fmt.Sprintf("remote returned invalid play count %d", resp.NumPlays))
			continue
		}

		playID := int(resp.PlayID)
		if playID <= 0 {
			playID = p.PlayID
		}
		if playID <= 0 {
			result.fail(p, UploadActionSave, "remote did not return a play id")
			continue
		}

		if err := u.store.MarkAsSynced(ctx, p.LocalID, playID, u.now()); err != nil {
			return err
		}
		touched[p.GameID] = p.GameName

		if p.IsSynced() {
			result.Updated++
			result.Messages = append(result.Messages, fmt.Sprintf("Updated play of %s", p.GameName))
		} else {
			result.Created++
			if resp.NumPlays > 0 {
				result.Messages = append(result.Messages, fmt.Sprintf("Logged %s play of %s",
					domain.PlayCountDescription(int(resp.NumPlays), p.Quantity), p.GameName))
			} else {
				result.Messages = append(result.Messages, fmt.Sprintf("Logged play of %s", p.GameName))
			}
		}
		logger.Debug().Str("local_id", p.LocalID).Int("play_id", playID).Msg("play uploaded")
	}
	return nil
}

func (u *PlayUploader) recount(ctx context.Context, run *uploadRun) {
	result, touched, logger := run.result, run.touched, run.logger
	ids := make([]int, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	result.GameIDs = ids

	if u.games == nil {
		return
	}
	// the run's ctx may already be cancelled; recounting is local and quick
	recountCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		if _, err := u.games.RecountPlays(recountCtx, id, touched[id]); err != nil {
			logger.Warn().Err(err).Int("game_id", id).Msg("failed to recount game plays")
		}
	}
}

// wait spaces out remote calls so a large backlog does not trip rate limiting.
func (u *PlayUploader) wait(ctx context.Context, run *uploadRun) error {
	run.remoteCalls++
	if run.remoteCalls == 1 || u.pause <= 0 {
		return nil
	}
	if !retry.Sleep(ctx, u.pause) {
		return ctx.Err()
	}
	return nil
}
