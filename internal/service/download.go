package service

import (
	"context"
	"errors"
	"fmt"
	"playsync/internal/api"
	"playsync/internal/domain"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type DownloadResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Pages     int `json:"pages"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Dirty     int `json:"dirty"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Pruned    int `json:"pruned"`

	ForwardComplete  bool `json:"forward_complete"`
	BackwardComplete bool `json:"backward_complete"`

	Newest string `json:"newest"`
	Oldest string `json:"oldest"`
}

func (r *DownloadResult) count(status domain.SaveStatus) {
	switch status {
	case domain.SaveInserted:
		r.Inserted++
	case domain.SaveUpdated:
		r.Updated++
	case domain.SaveUnchanged:
		r.Unchanged++
	case domain.SaveDirty:
		r.Dirty++
	default:
		r.Errors++
	}
}

// PlayDownloader brings the local store in line with the remote play history
// using a forward pass from the newest watermark and a backfill pass below the
// oldest one.
type PlayDownloader struct {
	remote   PlaysFetcher
	store    PlayStore
	marks    WatermarkStore
	stats    StatsCalculator
	username string
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewPlayDownloader(remote PlaysFetcher, store PlayStore, marks WatermarkStore, stats StatsCalculator, username string, logger zerolog.Logger) *PlayDownloader {
	return &PlayDownloader{
		remote:   remote,
		store:    store,
		marks:    marks,
		stats:    stats,
		username: username,
		logger:   logger.With().Str("component", "play_downloader").Logger(),
		now:      time.Now,
	}
}

// Run performs one download. Page failures abort only the pass they happen in
// and are returned joined; an authentication failure aborts the run.
func (d *PlayDownloader) Run(ctx context.Context) (*DownloadResult, error) {
	if !d.mu.TryLock() {
		return nil, domain.ErrSyncInProgress
	}
	defer d.mu.Unlock()

	startedAt := d.now()
	result := &DownloadResult{RunID: uuid.NewString(), StartedAt: startedAt}
	logger := d.logger.With().Str("run_id", result.RunID).Logger()
	defer func() { result.Duration = time.Since(startedAt) }()

	marks, err := d.marks.Watermarks(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load watermarks: %w", err)
	}
	logger.Info().
		Str("newest", domain.FormatDate(marks.Newest)).
		Str("oldest", marks.Oldest.String()).
		Msg("starting play download")

	var passErrs []error

	if err := d.forward(ctx, logger, startedAt, marks, result); err != nil {
		if domain.IsAuthError(err) {
			return result, err
		}
		logger.Error().Err(err).Msg("forward pass failed")
		passErrs = append(passErrs, fmt.Errorf("forward pass: %w", err))
	}

	// the forward pass may have lowered the oldest watermark
	marks, err = d.marks.Watermarks(ctx)
	if err != nil {
		return result, errors.Join(append(passErrs, fmt.Errorf("failed to load watermarks: %w", err))...)
	}

	if marks.Oldest.IsComplete() {
		logger.Debug().Msg("history already backfilled, skipping backward pass")
		result.BackwardComplete = true
	} else if err := d.backward(ctx, logger, startedAt, marks.Oldest, result); err != nil {
		if domain.IsAuthError(err) {
			return result, err
		}
		logger.Error().Err(err).Msg("backward pass failed")
		passErrs = append(passErrs, fmt.Errorf("backward pass: %w", err))
	}

	if len(passErrs) == 0 && d.stats != nil {
		if err := d.stats.Recalculate(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to recalculate play stats")
		}
	}

	if final, err := d.marks.Watermarks(ctx); err == nil {
		result.Newest = domain.FormatDate(final.Newest)
		result.Oldest = final.Oldest.String()
	}

	logger.Info().
		Int("pages", result.Pages).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("dirty", result.Dirty).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Int("pruned", result.Pruned).
		Str("newest", result.Newest).
		Str("oldest", result.Oldest).
		Msg("play download finished")

	return result, errors.Join(passErrs...)
}

func (d *PlayDownloader) forward(ctx context.Context, logger zerolog.Logger, syncTimestamp time.Time, marks domain.Watermarks, result *DownloadResult) error {
	priorNewest := marks.Newest
	newest := priorNewest
	oldest := marks.Oldest
	failed := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := d.remote.Plays(ctx, api.PlaysQuery{
			Username: d.username,
			MinDate:  priorNewest,
			Page:     page,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		result.Pages++

		pageMin, pageMax, pageFailed := d.savePage(ctx, logger, resp, syncTimestamp, result)
		failed += pageFailed
		newest = domain.AdvanceNewest(newest, pageMax)

		if lowered := oldest.Lower(pageMin); lowered != oldest {
			if err := d.marks.SetOldest(ctx, lowered); err != nil {
				return fmt.Errorf("failed to store oldest watermark: %w", err)
			}
			oldest = lowered
		}

		logger.Debug().
			Int("page", page).
			Int("plays", len(resp.Plays)).
			Str("since", domain.FormatDate(priorNewest)).
			Msg("synced page of newer plays")

		if !resp.HasMorePages() {
			break
		}
	}

	if !newest.Equal(priorNewest) {
		if err := d.marks.SetNewest(ctx, newest); err != nil {
			return fmt.Errorf("failed to store newest watermark: %w", err)
		}
	}

	// a play that failed to save was never stamped and must not be pruned
	if failed > 0 {
		logger.Warn().Int("failed", failed).Msg("skipping prune of newer plays after save failures")
	} else if !priorNewest.IsZero() {
		n, err := d.store.DeleteStale(ctx, syncTimestamp, priorNewest, domain.PruneOnOrAfter)
		if err != nil {
			return err
		}
		result.Pruned += n
		if n > 0 {
			logger.Info().Int("pruned", n).Str("since", domain.FormatDate(priorNewest)).Msg("pruned plays missing upstream")
		}
	}

	result.ForwardComplete = true
	return nil
}

func (d *PlayDownloader) backward(ctx context.Context, logger zerolog.Logger, syncTimestamp time.Time, priorOldest domain.OldestWatermark, result *DownloadResult) error {
	oldest := priorOldest
	failed := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := d.remote.Plays(ctx, api.PlaysQuery{
			Username: d.username,
			MaxDate:  priorOldest.Date(),
			Page:     page,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		result.Pages++

		pageMin, _, pageFailed := d.savePage(ctx, logger, resp, syncTimestamp, result)
		failed += pageFailed
		if lowered := oldest.Lower(pageMin); lowered != oldest {
			if err := d.marks.SetOldest(ctx, lowered); err != nil {
				return fmt.Errorf("failed to store oldest watermark: %w", err)
			}
			oldest = lowered
		}

		logger.Debug().
			Int("page", page).
			Int("plays", len(resp.Plays)).
			Str("until", priorOldest.String()).
			Msg("synced page of older plays")

		if !resp.HasMorePages() {
			break
		}
	}

	if failed > 0 {
		logger.Warn().Int("failed", failed).Msg("skipping prune of older plays after save failures")
	} else if !priorOldest.IsUnbounded() {
		n, err := d.store.DeleteStale(ctx, syncTimestamp, priorOldest.Date(), domain.PruneOnOrBefore)
		if err != nil {
			return err
		}
		result.Pruned += n
		if n > 0 {
			logger.Info().Int("pruned", n).Str("until", priorOldest.String()).Msg("pruned plays missing upstream")
		}
	}

	// nothing older exists upstream once an open-ended pass finishes
	if err := d.marks.SetOldest(ctx, domain.CompleteOldest()); err != nil {
		return fmt.Errorf("failed to store oldest watermark: %w", err)
	}

	result.BackwardComplete = true
	return nil
}

// savePage stores every play of a page and returns the earliest and latest
// play dates it contained, plus how many plays could not be stored.
func (d *PlayDownloader) savePage(ctx context.Context, logger zerolog.Logger, resp *api.PlaysResponse, syncTimestamp time.Time, result *DownloadResult) (minDate, maxDate time.Time, failed int) {
	for _, rp := range resp.Plays {
		play, err := playFromRemote(rp)
		if err != nil {
			logger.Warn().Err(err).Msg("skipping unreadable play")
			result.Errors++
			failed++
			continue
		}

		if minDate.IsZero() || play.Date.Before(minDate) {
			minDate = play.Date
		}
		if play.Date.After(maxDate) {
			maxDate = play.Date
		}

		if !play.IsBoardGame() {
			result.Skipped++
			continue
		}

		status, err := d.store.Save(ctx, &play, syncTimestamp)
		if err != nil {
			logger.Error().Err(err).Int("play_id", play.PlayID).Msg("failed to save play")
			failed++
		}
		result.count(status)
	}
	return minDate, maxDate, failed
}
