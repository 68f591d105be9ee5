package db

import (
	"context"
)

const listPlayPlayers = `SELECT local_id, seq, username, user_id, name, start_position, color, score, is_new, rating, win
FROM play_players WHERE local_id = ? ORDER BY seq ASC`

func (q *Queries) ListPlayPlayers(ctx context.Context, localID string) ([]PlayPlayer, error) {
	rows, err := q.db.QueryContext(ctx, listPlayPlayers, localID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PlayPlayer
	for rows.Next() {
		var i PlayPlayer
		if err := rows.Scan(
			&i.LocalID,
			&i.Seq,
			&i.Username,
			&i.UserID,
			&i.Name,
			&i.StartPosition,
			&i.Color,
			&i.Score,
			&i.IsNew,
			&i.Rating,
			&i.Win,
		); err != nil {
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

const insertPlayPlayer = `INSERT INTO play_players (local_id, seq, username, user_id, name, start_position, color, score, is_new, rating, win)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertPlayPlayer(ctx context.Context, arg PlayPlayer) error {
	_, err := q.db.ExecContext(ctx, insertPlayPlayer,
		arg.LocalID,
		arg.Seq,
		arg.Username,
		arg.UserID,
		arg.Name,
		arg.StartPosition,
		arg.Color,
		arg.Score,
		arg.IsNew,
		arg.Rating,
		arg.Win,
	)
	return err
}

const deletePlayPlayers = `DELETE FROM play_players WHERE local_id = ?`

func (q *Queries) DeletePlayPlayers(ctx context.Context, localID string) error {
	_, err := q.db.ExecContext(ctx, deletePlayPlayers, localID)
	return err
}

const upsertGamePlayCount = `INSERT INTO games (game_id, name, num_plays, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(game_id) DO UPDATE SET
    name = CASE WHEN excluded.name != '' THEN excluded.name ELSE games.name END,
    num_plays = excluded.num_plays,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertGamePlayCount(ctx context.Context, arg Game) error {
	_, err := q.db.ExecContext(ctx, upsertGamePlayCount, arg.GameID, arg.Name, arg.NumPlays, arg.UpdatedAt)
	return err
}

const getGame = `SELECT game_id, name, num_plays, updated_at FROM games WHERE game_id = ?`

func (q *Queries) GetGame(ctx context.Context, gameID int64) (Game, error) {
	row := q.db.QueryRowContext(ctx, getGame, gameID)
	var i Game
	err := row.Scan(&i.GameID, &i.Name, &i.NumPlays, &i.UpdatedAt)
	return i, err
}

const resetGamePlayCounts = `UPDATE games SET num_plays = 0, updated_at = ?`

func (q *Queries) ResetGamePlayCounts(ctx context.Context, updatedAt int64) error {
	_, err := q.db.ExecContext(ctx, resetGamePlayCounts, updatedAt)
	return err
}

const getSyncState = `SELECT key, value, updated_at FROM sync_state WHERE key = ?`

func (q *Queries) GetSyncState(ctx context.Context, key string) (SyncState, error) {
	row := q.db.QueryRowContext(ctx, getSyncState, key)
	var i SyncState
	err := row.Scan(&i.Key, &i.Value, &i.UpdatedAt)
	return i, err
}

const upsertSyncState = `INSERT INTO sync_state (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) UpsertSyncState(ctx context.Context, arg SyncState) error {
	_, err := q.db.ExecContext(ctx, upsertSyncState, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}

const deleteSyncState = `DELETE FROM sync_state WHERE key = ?`

func (q *Queries) DeleteSyncState(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteSyncState, key)
	return err
}

const getPlayStat = `SELECT key, h, n, updated_at FROM play_stats WHERE key = ?`

func (q *Queries) GetPlayStat(ctx context.Context, key string) (PlayStat, error) {
	row := q.db.QueryRowContext(ctx, getPlayStat, key)
	var i PlayStat
	err := row.Scan(&i.Key, &i.H, &i.N, &i.UpdatedAt)
	return i, err
}

const upsertPlayStat = `INSERT INTO play_stats (key, h, n, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET h = excluded.h, n = excluded.n, updated_at = excluded.updated_at`

func (q *Queries) UpsertPlayStat(ctx context.Context, arg PlayStat) error {
	_, err := q.db.ExecContext(ctx, upsertPlayStat, arg.Key, arg.H, arg.N, arg.UpdatedAt)
	return err
}
