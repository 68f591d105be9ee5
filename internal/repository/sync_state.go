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
	keyPlaysNewest = "plays_newest_date"
	keyPlaysOldest = "plays_oldest_date"
	keyLastRunFmt  = "last_%s_at"
)

// SyncStateRepository persists the download watermarks and run bookkeeping.
type SyncStateRepository struct {
	queries *db.Queries
	logger  zerolog.Logger
	now     func() time.Time
}

func NewSyncStateRepository(queries *db.Queries, logger zerolog.Logger) *SyncStateRepository {
	return &SyncStateRepository{
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

func (r *SyncStateRepository) Watermarks(ctx context.Context) (domain.Watermarks, error) {
	newest, ok, err := r.get(ctx, keyPlaysNewest)
	if err != nil {
		return domain.Watermarks{}, err
	}
	if !ok {
		newest = -1
	}

	oldest, ok, err := r.get(ctx, keyPlaysOldest)
	if err != nil {
		return domain.Watermarks{}, err
	}
	if !ok {
		return domain.Watermarks{
			Newest: domain.NewestFromMillis(newest),
			Oldest: domain.UnboundedOldest(),
		}, nil
	}

	return domain.Watermarks{
		Newest: domain.NewestFromMillis(newest),
		Oldest: domain.OldestFromMillis(oldest),
	}, nil
}

func (r *SyncStateRepository) SetNewest(ctx context.Context, date time.Time) error {
	if date.IsZero() {
		return r.delete(ctx, keyPlaysNewest)
	}
	return r.set(ctx, keyPlaysNewest, domain.Day(date).UnixMilli())
}

func (r *SyncStateRepository) SetOldest(ctx context.Context, w domain.OldestWatermark) error {
	return r.set(ctx, keyPlaysOldest, w.Millis())
}

// Clear forgets both watermarks so the next download starts from scratch.
func (r *SyncStateRepository) Clear(ctx context.Context) error {
	if err := r.delete(ctx, keyPlaysNewest); err != nil {
		return err
	}
	return r.delete(ctx, keyPlaysOldest)
}

func (r *SyncStateRepository) SetLastRun(ctx context.Context, kind string, at time.Time) error {
	return r.set(ctx, fmt.Sprintf(keyLastRunFmt, kind), domain.ToMillis(at))
}

func (r *SyncStateRepository) LastRun(ctx context.Context, kind string) (time.Time, error) {
	v, _, err := r.get(ctx, fmt.Sprintf(keyLastRunFmt, kind))
	if err != nil {
		return time.Time{}, err
	}
	return domain.FromMillis(v), nil
}

func (r *SyncStateRepository) get(ctx context.Context, key string) (int64, bool, error) {
	row, err := r.queries.GetSyncState(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (r *SyncStateRepository) set(ctx context.Context, key string, value int64) error {
	err := r.queries.UpsertSyncState(ctx, db.SyncState{
		Key:       key,
		Value:     value,
		UpdatedAt: domain.ToMillis(r.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Int64("value", value).Msg("sync state updated")
	return nil
}

func (r *SyncStateRepository) delete(ctx context.Context, key string) error {
	if err := r.queries.DeleteSyncState(ctx, key); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}
