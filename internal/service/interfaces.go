package service

import (
	"context"
	"playsync/internal/api"
	"playsync/internal/domain"
	"time"
)

// PlayStore is the local side of play reconciliation.
type PlayStore interface {
	Save(ctx context.Context, play *domain.Play, syncTimestamp time.Time) (domain.SaveStatus, error)
	LoadPlays(ctx context.Context, filter domain.PlayFilter) ([]domain.Play, error)
	Delete(ctx context.Context, localID string) error
	MarkAsSynced(ctx context.Context, localID string, playID int, syncTimestamp time.Time) error
	DeleteStale(ctx context.Context, syncTimestamp, boundary time.Time, dir domain.PruneDirection) (int, error)
}

// WatermarkStore persists how far each download direction has progressed.
type WatermarkStore interface {
	Watermarks(ctx context.Context) (domain.Watermarks, error)
	SetNewest(ctx context.Context, date time.Time) error
	SetOldest(ctx context.Context, w domain.OldestWatermark) error
}

type PlaysFetcher interface {
	Plays(ctx context.Context, q api.PlaysQuery) (*api.PlaysResponse, error)
}

type PlaysPoster interface {
	SavePlay(ctx context.Context, p *domain.Play) (*api.PlaySaveResponse, error)
	DeletePlay(ctx context.Context, playID int) (*api.PlayDeleteResponse, error)
}

type GamePlayCounter interface {
	RecountPlays(ctx context.Context, gameID int, gameName string) (int, error)
}

type StatsCalculator interface {
	Recalculate(ctx context.Context) error
}

type StatsStore interface {
	GamePlayCounts(ctx context.Context, includeIncomplete bool) ([]int, error)
	PlayerPlayCounts(ctx context.Context, includeIncomplete bool) ([]int, error)
	HIndex(ctx context.Context, key string) (domain.HIndex, error)
	SaveHIndex(ctx context.Context, key string, h domain.HIndex) error
}
