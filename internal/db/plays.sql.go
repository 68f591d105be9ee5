package db

import (
	"context"
)

const playColumns = `local_id, play_id, date, length, start_time, game_id, game_name, subtypes, location, comments,
    quantity, incomplete, no_win_stats, sync_timestamp, update_timestamp, delete_timestamp, dirty_timestamp,
    sync_hash, natural_key, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlay(row rowScanner) (Play, error) {
	var i Play
	err := row.Scan(
		&i.LocalID,
		&i.PlayID,
		&i.Date,
		&i.Length,
		&i.StartTime,
		&i.GameID,
		&i.GameName,
		&i.Subtypes,
		&i.Location,
		&i.Comments,
		&i.Quantity,
		&i.Incomplete,
		&i.NoWinStats,
		&i.SyncTimestamp,
		&i.UpdateTimestamp,
		&i.DeleteTimestamp,
		&i.DirtyTimestamp,
		&i.SyncHash,
		&i.NaturalKey,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) listPlays(ctx context.Context, query string, args ...interface{}) ([]Play, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Play
	for rows.Next() {
		i, err := scanPlay(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getPlayByLocalID = `SELECT ` + playColumns + ` FROM plays WHERE local_id = ?`

func (q *Queries) GetPlayByLocalID(ctx context.Context, localID string) (Play, error) {
	return scanPlay(q.db.QueryRowContext(ctx, getPlayByLocalID, localID))
}

const getPlayByPlayID = `SELECT ` + playColumns + ` FROM plays WHERE play_id = ? AND play_id > 0`

func (q *Queries) GetPlayByPlayID(ctx context.Context, playID int64) (Play, error) {
	return scanPlay(q.db.QueryRowContext(ctx, getPlayByPlayID, playID))
}

const listUnsyncedPlaysByNaturalKey = `SELECT ` + playColumns + ` FROM plays
WHERE play_id = 0 AND natural_key = ?
ORDER BY created_at ASC, local_id ASC`

func (q *Queries) ListUnsyncedPlaysByNaturalKey(ctx context.Context, naturalKey string) ([]Play, error) {
	return q.listPlays(ctx, listUnsyncedPlaysByNaturalKey, naturalKey)
}

const listPlays = `SELECT ` + playColumns + ` FROM plays ORDER BY date DESC, created_at DESC`

func (q *Queries) ListPlays(ctx context.Context) ([]Play, error) {
	return q.listPlays(ctx, listPlays)
}

const listPlaysByGame = `SELECT ` + playColumns + ` FROM plays WHERE game_id = ? ORDER BY date DESC, created_at DESC`

func (q *Queries) ListPlaysByGame(ctx context.Context, gameID int64) ([]Play, error) {
	return q.listPlays(ctx, listPlaysByGame, gameID)
}

const listPendingDeletePlays = `SELECT ` + playColumns + ` FROM plays
WHERE delete_timestamp > 0
ORDER BY delete_timestamp ASC, local_id ASC`

func (q *Queries) ListPendingDeletePlays(ctx context.Context) ([]Play, error) {
	return q.listPlays(ctx, listPendingDeletePlays)
}

// Rows touched only by a bulk edit carry dirty_timestamp and go up too.
const listPendingUpdatePlays = `SELECT ` + playColumns + ` FROM plays
WHERE (update_timestamp > 0 OR dirty_timestamp > 0) AND delete_timestamp = 0
ORDER BY max(update_timestamp, dirty_timestamp) ASC, local_id ASC`

func (q *Queries) ListPendingUpdatePlays(ctx context.Context) ([]Play, error) {
	return q.listPlays(ctx, listPendingUpdatePlays)
}

const insertPlay = `INSERT INTO plays (` + playColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertPlay(ctx context.Context, arg Play) error {
	_, err := q.db.ExecContext(ctx, insertPlay,
		arg.LocalID,
		arg.PlayID,
		arg.Date,
		arg.Length,
		arg.StartTime,
		arg.GameID,
		arg.GameName,
		arg.Subtypes,
		arg.Location,
		arg.Comments,
		arg.Quantity,
		arg.Incomplete,
		arg.NoWinStats,
		arg.SyncTimestamp,
		arg.UpdateTimestamp,
		arg.DeleteTimestamp,
		arg.DirtyTimestamp,
		arg.SyncHash,
		arg.NaturalKey,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updatePlayFromRemote = `UPDATE plays SET
    play_id = ?,
    date = ?,
    length = ?,
    start_time = ?,
    game_id = ?,
    game_name = ?,
    subtypes = ?,
    location = ?,
    comments = ?,
    quantity = ?,
    incomplete = ?,
    no_win_stats = ?,
    sync_timestamp = ?,
    sync_hash = ?,
    natural_key = ?,
    updated_at = ?
WHERE local_id = ?`

// UpdatePlayFromRemote overwrites content and sync bookkeeping but leaves the
// pending update/delete/dirty timestamps alone.
func (q *Queries) UpdatePlayFromRemote(ctx context.Context, arg Play) error {
	_, err := q.db.ExecContext(ctx, updatePlayFromRemote,
		arg.PlayID,
		arg.Date,
		arg.Length,
		arg.StartTime,
		arg.GameID,
		arg.GameName,
		arg.Subtypes,
		arg.Location,
		arg.Comments,
		arg.Quantity,
		arg.Incomplete,
		arg.NoWinStats,
		arg.SyncTimestamp,
		arg.SyncHash,
		arg.NaturalKey,
		arg.UpdatedAt,
		arg.LocalID,
	)
	return err
}

const updatePlayContent = `UPDATE plays SET
    date = ?,
    length = ?,
    start_time = ?,
    game_id = ?,
    game_name = ?,
    subtypes = ?,
    location = ?,
    comments = ?,
    quantity = ?,
    incomplete = ?,
    no_win_stats = ?,
    update_timestamp = ?,
    delete_timestamp = ?,
    dirty_timestamp = ?,
    natural_key = ?,
    updated_at = ?
WHERE local_id = ?`

// UpdatePlayContent writes a local edit. The external id and sync bookkeeping
// are left alone.
func (q *Queries) UpdatePlayContent(ctx context.Context, arg Play) (int64, error) {
	result, err := q.db.ExecContext(ctx, updatePlayContent,
		arg.Date,
		arg.Length,
		arg.StartTime,
		arg.GameID,
		arg.GameName,
		arg.Subtypes,
		arg.Location,
		arg.Comments,
		arg.Quantity,
		arg.Incomplete,
		arg.NoWinStats,
		arg.UpdateTimestamp,
		arg.DeleteTimestamp,
		arg.DirtyTimestamp,
		arg.NaturalKey,
		arg.UpdatedAt,
		arg.LocalID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) listLocalIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPlayIDsAtLocation = `SELECT local_id FROM plays
WHERE location = ? AND delete_timestamp = 0
ORDER BY local_id`

func (q *Queries) ListPlayIDsAtLocation(ctx context.Context, location string) ([]string, error) {
	return q.listLocalIDs(ctx, listPlayIDsAtLocation, location)
}

const listPlayIDsWithNamedPlayer = `SELECT DISTINCT p.local_id FROM plays p
JOIN play_players pp ON pp.local_id = p.local_id
WHERE pp.username = '' AND pp.name = ? AND p.delete_timestamp = 0
ORDER BY p.local_id`

// ListPlayIDsWithNamedPlayer finds plays with a player that has the given name
// and no username.
func (q *Queries) ListPlayIDsWithNamedPlayer(ctx context.Context, name string) ([]string, error) {
	return q.listLocalIDs(ctx, listPlayIDsWithNamedPlayer, name)
}

const listPlayIDsWithUser = `SELECT DISTINCT p.local_id FROM plays p
JOIN play_players pp ON pp.local_id = p.local_id
WHERE lower(pp.username) = lower(?) AND p.delete_timestamp = 0
ORDER BY p.local_id`

func (q *Queries) ListPlayIDsWithUser(ctx context.Context, username string) ([]string, error) {
	return q.listLocalIDs(ctx, listPlayIDsWithUser, username)
}

const touchPlaySyncTimestamp = `UPDATE plays SET sync_timestamp = ? WHERE local_id = ?`

func (q *Queries) TouchPlaySyncTimestamp(ctx context.Context, syncTimestamp int64, localID string) error {
	_, err := q.db.ExecContext(ctx, touchPlaySyncTimestamp, syncTimestamp, localID)
	return err
}

const adoptPlayID = `UPDATE plays SET play_id = ?, sync_timestamp = ?, updated_at = ? WHERE local_id = ?`

type AdoptPlayIDParams struct {
	PlayID        int64
	SyncTimestamp int64
	UpdatedAt     int64
	LocalID       string
}

func (q *Queries) AdoptPlayID(ctx context.Context, arg AdoptPlayIDParams) error {
	_, err := q.db.ExecContext(ctx, adoptPlayID, arg.PlayID, arg.SyncTimestamp, arg.UpdatedAt, arg.LocalID)
	return err
}

const markPlaySynced = `UPDATE plays SET
    play_id = ?,
    sync_timestamp = ?,
    sync_hash = ?,
    update_timestamp = 0,
    delete_timestamp = 0,
    dirty_timestamp = 0,
    updated_at = ?
WHERE local_id = ?`

type MarkPlaySyncedParams struct {
	PlayID        int64
	SyncTimestamp int64
	SyncHash      string
	UpdatedAt     int64
	LocalID       string
}

func (q *Queries) MarkPlaySynced(ctx context.Context, arg MarkPlaySyncedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markPlaySynced,
		arg.PlayID,
		arg.SyncTimestamp,
		arg.SyncHash,
		arg.UpdatedAt,
		arg.LocalID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setPlayPendingState = `UPDATE plays SET
    update_timestamp = ?,
    delete_timestamp = ?,
    dirty_timestamp = ?,
    updated_at = ?
WHERE local_id = ?`

type SetPlayPendingStateParams struct {
	UpdateTimestamp int64
	DeleteTimestamp int64
	DirtyTimestamp  int64
	UpdatedAt       int64
	LocalID         string
}

func (q *Queries) SetPlayPendingState(ctx context.Context, arg SetPlayPendingStateParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setPlayPendingState,
		arg.UpdateTimestamp,
		arg.DeleteTimestamp,
		arg.DirtyTimestamp,
		arg.UpdatedAt,
		arg.LocalID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deletePlay = `DELETE FROM plays WHERE local_id = ?`

func (q *Queries) DeletePlay(ctx context.Context, localID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePlay, localID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stale rows are synced plays with no pending local change that were not seen
// by the sync run that started at sync_timestamp.
const staleSyncedPlays = `play_id > 0
    AND sync_timestamp < ?
    AND update_timestamp = 0
    AND delete_timestamp = 0
    AND dirty_timestamp = 0`

const deleteStalePlaysOnOrAfter = `DELETE FROM plays WHERE ` + staleSyncedPlays + ` AND date >= ?`

func (q *Queries) DeleteStalePlaysOnOrAfter(ctx context.Context, syncTimestamp int64, date string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteStalePlaysOnOrAfter, syncTimestamp, date)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteStalePlaysOnOrBefore = `DELETE FROM plays WHERE ` + staleSyncedPlays + ` AND date <= ?`

func (q *Queries) DeleteStalePlaysOnOrBefore(ctx context.Context, syncTimestamp int64, date string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteStalePlaysOnOrBefore, syncTimestamp, date)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const clearPlaySyncHashes = `UPDATE plays SET sync_hash = ''`

func (q *Queries) ClearPlaySyncHashes(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, clearPlaySyncHashes)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAllPlays = `DELETE FROM plays`

func (q *Queries) DeleteAllPlays(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteAllPlays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const sumPlayQuantityByGame = `SELECT CAST(COALESCE(SUM(quantity), 0) AS INTEGER) FROM plays
WHERE game_id = ? AND delete_timestamp = 0`

func (q *Queries) SumPlayQuantityByGame(ctx context.Context, gameID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumPlayQuantityByGame, gameID)
	var total int64
	err := row.Scan(&total)
	return total, err
}

type KeyCount struct {
	Key   string
	Count int64
}

func (q *Queries) listKeyCounts(ctx context.Context, query string, args ...interface{}) ([]KeyCount, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []KeyCount
	for rows.Next() {
		var i KeyCount
		if err := rows.Scan(&i.Key, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listGamePlayCounts = `SELECT CAST(game_id AS TEXT), CAST(SUM(quantity) AS INTEGER) FROM plays
WHERE delete_timestamp = 0 AND (? OR incomplete = 0)
GROUP BY game_id`

func (q *Queries) ListGamePlayCounts(ctx context.Context, includeIncomplete bool) ([]KeyCount, error) {
	return q.listKeyCounts(ctx, listGamePlayCounts, includeIncomplete)
}

const listPlayerPlayCounts = `SELECT
    CASE WHEN pp.username != '' THEN 'user:' || lower(pp.username) ELSE 'name:' || pp.name END AS player_key,
    CAST(SUM(p.quantity) AS INTEGER)
FROM play_players pp
JOIN plays p ON p.local_id = pp.local_id
WHERE p.delete_timestamp = 0 AND (? OR p.incomplete = 0)
GROUP BY player_key`

func (q *Queries) ListPlayerPlayCounts(ctx context.Context, includeIncomplete bool) ([]KeyCount, error) {
	return q.listKeyCounts(ctx, listPlayerPlayCounts, includeIncomplete)
}
