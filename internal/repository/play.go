package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"playsync/internal/db"
	"playsync/internal/domain"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type PlayRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
	now     func() time.Time
}

func NewPlayRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *PlayRepository {
	return &PlayRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger.With().Str("component", "play_repository").Logger(),
		now:     time.Now,
	}
}

// Save reconciles one play received from the remote service with the local
// store. A local row is matched by external id, then by natural key among rows
// that were never uploaded. Rows carrying a pending local change are left
// untouched apart from adopting the external id on a natural-key match.
func (r *PlayRepository) Save(ctx context.Context, play *domain.Play, syncTimestamp time.Time) (domain.SaveStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SaveError, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	ts := domain.ToMillis(syncTimestamp)
	now := domain.ToMillis(r.now())

	existing, byNaturalKey, err := r.findMatch(ctx, qtx, play)
	if err != nil {
		return domain.SaveError, err
	}

	hash := play.ContentHash()
	status := domain.SaveInserted

	switch {
	case existing == nil:
		localID, err := gonanoid.New()
		if err != nil {
			return domain.SaveError, fmt.Errorf("failed to generate local id: %w", err)
		}
		row := toRow(play)
		row.LocalID = localID
		row.SyncTimestamp = ts
		row.SyncHash = hash
		row.UpdateTimestamp, row.DeleteTimestamp, row.DirtyTimestamp = 0, 0, 0
		row.CreatedAt, row.UpdatedAt = now, now
		if err := qtx.InsertPlay(ctx, row); err != nil {
			return domain.SaveError, fmt.Errorf("failed to insert play %d: %w", play.PlayID, err)
		}
		if err := insertPlayers(ctx, qtx, localID, play.Players); err != nil {
			return domain.SaveError, err
		}
		play.LocalID = localID

	case isDirtyRow(existing):
		status = domain.SaveDirty
		if byNaturalKey && play.PlayID > 0 {
			err = qtx.AdoptPlayID(ctx, db.AdoptPlayIDParams{
				PlayID:        int64(play.PlayID),
				SyncTimestamp: ts,
				UpdatedAt:     now,
				LocalID:       existing.LocalID,
			})
		} else {
			err = qtx.TouchPlaySyncTimestamp(ctx, ts, existing.LocalID)
		}
		if err != nil {
			return domain.SaveError, fmt.Errorf("failed to record dirty play %s: %w", existing.LocalID, err)
		}
		play.LocalID = existing.LocalID

	case !byNaturalKey && existing.SyncHash == hash:
		status = domain.SaveUnchanged
		if err := qtx.TouchPlaySyncTimestamp(ctx, ts, existing.LocalID); err != nil {
			return domain.SaveError, fmt.Errorf("failed to touch play %s: %w", existing.LocalID, err)
		}
		play.LocalID = existing.LocalID

	default:
		status = domain.SaveUpdated
		row := toRow(play)
		row.LocalID = existing.LocalID
		row.SyncTimestamp = ts
		row.SyncHash = hash
		row.UpdatedAt = now
		if row.Length > 0 {
			row.StartTime = 0
		} else if row.StartTime == 0 {
			row.StartTime = existing.StartTime
		}
		if err := qtx.UpdatePlayFromRemote(ctx, row); err != nil {
			return domain.SaveError, fmt.Errorf("failed to update play %s: %w", existing.LocalID, err)
		}
		if err := qtx.DeletePlayPlayers(ctx, existing.LocalID); err != nil {
			return domain.SaveError, fmt.Errorf("failed to clear players of %s: %w", existing.LocalID, err)
		}
		if err := insertPlayers(ctx, qtx, existing.LocalID, play.Players); err != nil {
			return domain.SaveError, err
		}
		play.LocalID = existing.LocalID
	}

	if err := tx.Commit(); err != nil {
		return domain.SaveError, fmt.Errorf("failed to commit play %d: %w", play.PlayID, err)
	}
	return status, nil
}

func (r *PlayRepository) findMatch(ctx context.Context, q *db.Queries, play *domain.Play) (*db.Play, bool, error) {
	if play.PlayID > 0 {
		row, err := q.GetPlayByPlayID(ctx, int64(play.PlayID))
		switch {
		case err == nil:
			return &row, false, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, false, fmt.Errorf("failed to look up play %d: %w", play.PlayID, err)
		}
	}

	candidates, err := q.ListUnsyncedPlaysByNaturalKey(ctx, play.NaturalKey())
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up play by natural key: %w", err)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	if len(candidates) > 1 {
		r.logger.Warn().
			Int("play_id", play.PlayID).
			Str("natural_key", play.NaturalKey()).
			Int("candidates", len(candidates)).
			Str("chosen", candidates[0].LocalID).
			Msg("ambiguous natural key match, using oldest local play")
	}
	return &candidates[0], true, nil
}

func isDirtyRow(row *db.Play) bool {
	return row.UpdateTimestamp > 0 || row.DeleteTimestamp > 0 || row.DirtyTimestamp > 0
}

// Create stores a play logged locally. It is queued for upload.
func (r *PlayRepository) Create(ctx context.Context, play *domain.Play) error {
	if play.GameID <= 0 {
		return fmt.Errorf("game id is required: %w", domain.ErrInvalidPlay)
	}
	if play.Quantity <= 0 {
		play.Quantity = 1
	}
	if play.Date.IsZero() {
		play.Date = domain.Day(r.now())
	}

	localID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate local id: %w", err)
	}

	now := r.now()
	play.LocalID = localID
	play.PlayID = 0
	play.SyncTimestamp = time.Time{}
	play.SyncHash = ""
	play.DeleteTimestamp = time.Time{}
	play.DirtyTimestamp = time.Time{}
	if play.UpdateTimestamp.IsZero() {
		play.UpdateTimestamp = now
	}
	play.CreatedAt, play.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	if err := qtx.InsertPlay(ctx, toRow(play)); err != nil {
		return fmt.Errorf("failed to insert play: %w", err)
	}
	if err := insertPlayers(ctx, qtx, localID, play.Players); err != nil {
		return err
	}
	return tx.Commit()
}

// LogQuickPlay records a single play of a game today with no further detail.
func (r *PlayRepository) LogQuickPlay(ctx context.Context, gameID int, gameName string) (*domain.Play, error) {
	play := &domain.Play{
		GameID:   gameID,
		GameName: gameName,
		Quantity: 1,
		Date:     domain.Day(r.now()),
	}
	if err := r.Create(ctx, play); err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("local_id", play.LocalID).
		Int("game_id", gameID).
		Msg("quick play logged")
	return play, nil
}

func (r *PlayRepository) Get(ctx context.Context, localID string) (*domain.Play, error) {
	row, err := r.queries.GetPlayByLocalID(ctx, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get play %s: %w", localID, err)
	}
	return r.withPlayers(ctx, row)
}

func (r *PlayRepository) LoadPlays(ctx context.Context, filter domain.PlayFilter) ([]domain.Play, error) {
	var (
		rows []db.Play
		err  error
	)
	switch {
	case filter.PendingDelete:
		rows, err = r.queries.ListPendingDeletePlays(ctx)
	case filter.PendingUpdate:
		rows, err = r.queries.ListPendingUpdatePlays(ctx)
	case filter.GameID > 0:
		rows, err = r.queries.ListPlaysByGame(ctx, int64(filter.GameID))
	default:
		rows, err = r.queries.ListPlays(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plays: %w", err)
	}

	plays := make([]domain.Play, 0, len(rows))
	for _, row := range rows {
		if filter.GameID > 0 && int(row.GameID) != filter.GameID {
			continue
		}
		p, err := r.withPlayers(ctx, row)
		if err != nil {
			return nil, err
		}
		plays = append(plays, *p)
	}
	return plays, nil
}

func (r *PlayRepository) LoadByGame(ctx context.Context, gameID int) ([]domain.Play, error) {
	return r.LoadPlays(ctx, domain.PlayFilter{GameID: gameID})
}

func (r *PlayRepository) Delete(ctx context.Context, localID string) error {
	n, err := r.queries.DeletePlay(ctx, localID)
	if err != nil {
		return fmt.Errorf("failed to delete play %s: %w", localID, err)
	}
	if n == 0 {
		return domain.ErrPlayNotFound
	}
	return nil
}

// MarkAsSynced records the external id the remote service assigned and clears
// every pending timestamp.
func (r *PlayRepository) MarkAsSynced(ctx context.Context, localID string, playID int, syncTimestamp time.Time) error {
	play, err := r.Get(ctx, localID)
	if err != nil {
		return err
	}

	n, err := r.queries.MarkPlaySynced(ctx, db.MarkPlaySyncedParams{
		PlayID:        int64(playID),
		SyncTimestamp: domain.ToMillis(syncTimestamp),
		SyncHash:      play.ContentHash(),
		UpdatedAt:     domain.ToMillis(r.now()),
		LocalID:       localID,
	})
	if err != nil {
		return fmt.Errorf("failed to mark play %s as synced: %w", localID, err)
	}
	if n == 0 {
		return domain.ErrPlayNotFound
	}
	return nil
}

// DeleteStale removes synced plays on the given side of boundary that the sync
// run started at syncTimestamp did not see. Plays with pending local changes
// are kept.
func (r *PlayRepository) DeleteStale(ctx context.Context, syncTimestamp, boundary time.Time, dir domain.PruneDirection) (int, error) {
	var (
		n   int64
		err error
	)
	ts := domain.ToMillis(syncTimestamp)
	date := domain.FormatDate(boundary)
	if dir == domain.PruneOnOrBefore {
		n, err = r.queries.DeleteStalePlaysOnOrBefore(ctx, ts, date)
	} else {
		n, err = r.queries.DeleteStalePlaysOnOrAfter(ctx, ts, date)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to prune plays %s %s: %w", dir, date, err)
	}
	return int(n), nil
}

func (r *PlayRepository) MarkAsUpdated(ctx context.Context, localID string) error {
	return r.setPendingState(ctx, localID, r.now(), time.Time{})
}

func (r *PlayRepository) MarkAsDeleted(ctx context.Context, localID string) error {
	return r.setPendingState(ctx, localID, time.Time{}, r.now())
}

// MarkAsDiscarded drops every pending local change.
func (r *PlayRepository) MarkAsDiscarded(ctx context.Context, localID string) error {
	return r.setPendingState(ctx, localID, time.Time{}, time.Time{})
}

func (r *PlayRepository) setPendingState(ctx context.Context, localID string, updated, deleted time.Time) error {
	n, err := r.queries.SetPlayPendingState(ctx, db.SetPlayPendingStateParams{
		UpdateTimestamp: domain.ToMillis(updated),
		DeleteTimestamp: domain.ToMillis(deleted),
		UpdatedAt:       domain.ToMillis(r.now()),
		LocalID:         localID,
	})
	if err != nil {
		return fmt.Errorf("failed to update pending state of %s: %w", localID, err)
	}
	if n == 0 {
		return domain.ErrPlayNotFound
	}
	return nil
}

// Update overwrites the content of a local play and queues it for upload. Any
// pending delete or bulk-edit mark is superseded.
func (r *PlayRepository) Update(ctx context.Context, play *domain.Play) error {
	if play.GameID <= 0 {
		return fmt.Errorf("game id is required: %w", domain.ErrInvalidPlay)
	}
	if play.Quantity <= 0 {
		play.Quantity = 1
	}
	if play.Date.IsZero() {
		return fmt.Errorf("date is required: %w", domain.ErrInvalidPlay)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	row, err := qtx.GetPlayByLocalID(ctx, play.LocalID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPlayNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get play %s: %w", play.LocalID, err)
	}

	now := r.now()
	current := fromRow(row)
	play.PlayID = current.PlayID
	play.SyncTimestamp = current.SyncTimestamp
	play.SyncHash = current.SyncHash
	play.CreatedAt = current.CreatedAt
	play.UpdateTimestamp = now
	play.DeleteTimestamp = time.Time{}
	play.DirtyTimestamp = time.Time{}
	play.UpdatedAt = now

	if err := writeContent(ctx, qtx, play); err != nil {
		return err
	}
	return tx.Commit()
}

// RenameLocation moves every play at location from to location to. Plays that
// were clean are queued for upload.
func (r *PlayRepository) RenameLocation(ctx context.Context, from, to string) (int, error) {
	return r.editPlays(ctx,
		func(q *db.Queries) ([]string, error) { return q.ListPlayIDsAtLocation(ctx, from) },
		func(p *domain.Play) bool {
			if p.Location != from {
				return false
			}
			p.Location = to
			return true
		},
		func(p *domain.Play, now time.Time) { p.UpdateTimestamp = now },
	)
}

// RenamePlayer renames a player that has no username on every play.
func (r *PlayRepository) RenamePlayer(ctx context.Context, from, to string) (int, error) {
	return r.editPlays(ctx,
		func(q *db.Queries) ([]string, error) { return q.ListPlayIDsWithNamedPlayer(ctx, from) },
		func(p *domain.Play) bool {
			changed := false
			for i := range p.Players {
				if p.Players[i].Username == "" && p.Players[i].Name == from {
					p.Players[i].Name = to
					changed = true
				}
			}
			return changed
		},
		markDirty,
	)
}

// UpdatePlaysWithNickName sets the display name of a user on every play where
// it differs.
func (r *PlayRepository) UpdatePlaysWithNickName(ctx context.Context, username, nickName string) (int, error) {
	return r.editPlays(ctx,
		func(q *db.Queries) ([]string, error) { return q.ListPlayIDsWithUser(ctx, username) },
		func(p *domain.Play) bool {
			changed := false
			for i := range p.Players {
				if strings.EqualFold(p.Players[i].Username, username) && p.Players[i].Name != nickName {
					p.Players[i].Name = nickName
					changed = true
				}
			}
			return changed
		},
		markDirty,
	)
}

// AddUsernameToPlayer links a player known only by name to a user account.
func (r *PlayRepository) AddUsernameToPlayer(ctx context.Context, name, username string) (int, error) {
	return r.editPlays(ctx,
		func(q *db.Queries) ([]string, error) { return q.ListPlayIDsWithNamedPlayer(ctx, name) },
		func(p *domain.Play) bool {
			changed := false
			for i := range p.Players {
				if p.Players[i].Username == "" && p.Players[i].Name == name {
					p.Players[i].Username = username
					changed = true
				}
			}
			return changed
		},
		markDirty,
	)
}

func markDirty(p *domain.Play, now time.Time) { p.DirtyTimestamp = now }

// editPlays applies edit to every play find returns, in one transaction. A
// play with no pending local change is stamped so the next download keeps the
// edit; one that already has a pending change keeps its timestamps.
func (r *PlayRepository) editPlays(ctx context.Context, find func(q *db.Queries) ([]string, error), edit func(p *domain.Play) bool, stamp func(p *domain.Play, now time.Time)) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	ids, err := find(qtx)
	if err != nil {
		return 0, fmt.Errorf("failed to find plays to edit: %w", err)
	}

	now := r.now()
	edited := 0
	for _, id := range ids {
		row, err := qtx.GetPlayByLocalID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to get play %s: %w", id, err)
		}
		play, err := loadPlayers(ctx, qtx, row)
		if err != nil {
			return 0, err
		}
		if !edit(play) {
			continue
		}
		if !play.IsDirty() {
			stamp(play, now)
		}
		play.UpdatedAt = now
		if err := writeContent(ctx, qtx, play); err != nil {
			return 0, err
		}
		edited++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit play edits: %w", err)
	}
	return edited, nil
}

func writeContent(ctx context.Context, q *db.Queries, play *domain.Play) error {
	n, err := q.UpdatePlayContent(ctx, toRow(play))
	if err != nil {
		return fmt.Errorf("failed to update play %s: %w", play.LocalID, err)
	}
	if n == 0 {
		return domain.ErrPlayNotFound
	}
	if err := q.DeletePlayPlayers(ctx, play.LocalID); err != nil {
		return fmt.Errorf("failed to clear players of %s: %w", play.LocalID, err)
	}
	return insertPlayers(ctx, q, play.LocalID, play.Players)
}

// ClearSyncHashes forces the next download to rewrite every play.
func (r *PlayRepository) ClearSyncHashes(ctx context.Context) (int, error) {
	n, err := r.queries.ClearPlaySyncHashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sync hashes: %w", err)
	}
	return int(n), nil
}

func (r *PlayRepository) DeleteAll(ctx context.Context) (int, error) {
	n, err := r.queries.DeleteAllPlays(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete plays: %w", err)
	}
	return int(n), nil
}

func (r *PlayRepository) withPlayers(ctx context.Context, row db.Play) (*domain.Play, error) {
	return loadPlayers(ctx, r.queries, row)
}

func loadPlayers(ctx context.Context, q *db.Queries, row db.Play) (*domain.Play, error) {
	players, err := q.ListPlayPlayers(ctx, row.LocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players of %s: %w", row.LocalID, err)
	}
	p := fromRow(row)
	p.Players = make([]domain.Player, 0, len(players))
	for _, pl := range players {
		p.Players = append(p.Players, domain.Player{
			Username:      pl.Username,
			UserID:        int(pl.UserID),
			Name:          pl.Name,
			StartPosition: pl.StartPosition,
			Color:         pl.Color,
			Score:         pl.Score,
			IsNew:         pl.IsNew,
			Rating:        pl.Rating,
			Win:           pl.Win,
		})
	}
	return &p, nil
}

func insertPlayers(ctx context.Context, q *db.Queries, localID string, players []domain.Player) error {
	for i, pl := range players {
		err := q.InsertPlayPlayer(ctx, db.PlayPlayer{
			LocalID:       localID,
			Seq:           int64(i),
			Username:      pl.Username,
			UserID:        int64(pl.UserID),
			Name:          pl.Name,
			StartPosition: pl.StartPosition,
			Color:         pl.Color,
			Score:         pl.Score,
			IsNew:         pl.IsNew,
			Rating:        pl.Rating,
			Win:           pl.Win,
		})
		if err != nil {
			return fmt.Errorf("failed to insert player %d of %s: %w", i, localID, err)
		}
	}
	return nil
}

func toRow(p *domain.Play) db.Play {
	return db.Play{
		LocalID:         p.LocalID,
		PlayID:          int64(p.PlayID),
		Date:            p.DateString(),
		Length:          int64(p.Length),
		StartTime:       domain.ToMillis(p.StartTime),
		GameID:          int64(p.GameID),
		GameName:        p.GameName,
		Subtypes:        strings.Join(p.Subtypes, ","),
		Location:        p.Location,
		Comments:        p.Comments,
		Quantity:        int64(p.Quantity),
		Incomplete:      p.Incomplete,
		NoWinStats:      p.NoWinStats,
		SyncTimestamp:   domain.ToMillis(p.SyncTimestamp),
		UpdateTimestamp: domain.ToMillis(p.UpdateTimestamp),
		DeleteTimestamp: domain.ToMillis(p.DeleteTimestamp),
		DirtyTimestamp:  domain.ToMillis(p.DirtyTimestamp),
		SyncHash:        p.SyncHash,
		NaturalKey:      p.NaturalKey(),
		CreatedAt:       domain.ToMillis(p.CreatedAt),
		UpdatedAt:       domain.ToMillis(p.UpdatedAt),
	}
}

func fromRow(row db.Play) domain.Play {
	// rows are written through toRow, so the date always parses
	date, _ := domain.ParseDate(row.Date)
	var subtypes []string
	if row.Subtypes != "" {
		subtypes = strings.Split(row.Subtypes, ",")
	}
	return domain.Play{
		LocalID:         row.LocalID,
		PlayID:          int(row.PlayID),
		Date:            date,
		Length:          int(row.Length),
		StartTime:       domain.FromMillis(row.StartTime),
		GameID:          int(row.GameID),
		GameName:        row.GameName,
		Subtypes:        subtypes,
		Location:        row.Location,
		Comments:        row.Comments,
		Quantity:        int(row.Quantity),
		Incomplete:      row.Incomplete,
		NoWinStats:      row.NoWinStats,
		SyncTimestamp:   domain.FromMillis(row.SyncTimestamp),
		UpdateTimestamp: domain.FromMillis(row.UpdateTimestamp),
		DeleteTimestamp: domain.FromMillis(row.DeleteTimestamp),
		DirtyTimestamp:  domain.FromMillis(row.DirtyTimestamp),
		SyncHash:        row.SyncHash,
		CreatedAt:       domain.FromMillis(row.CreatedAt),
		UpdatedAt:       domain.FromMillis(row.UpdatedAt),
	}
}
