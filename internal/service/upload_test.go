package service

import (
	"context"
	"playsync/internal/api"
	"playsync/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeSynced puts a play on both sides as if an earlier download fetched it.
func storeSynced(t *testing.T, env *testEnv, rp api.RemotePlay, onRemote bool) *domain.Play {
	t.Helper()
	play, err := playFromRemote(rp)
	require.NoError(t, err)
	_, err = env.plays.Save(context.Background(), &play, env.clock.Now())
	require.NoError(t, err)
	if onRemote {
		env.remote.put(rp)
	}
	stored := env.playByID(t, rp.ID)
	require.NotNil(t, stored)
	return stored
}

func TestUpload_DeletesGoBeforeSaves(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()
	stats := &countingStats{}

	synced := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), true)
	require.NoError(t, env.plays.MarkAsDeleted(ctx, synced.LocalID))
	created, err := env.plays.LogQuickPlay(ctx, 822, "Carcassonne")
	require.NoError(t, err)

	result, err := env.uploader(stats, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:42", "save:" + created.LocalID}, env.remote.recordedCalls())
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Created)
	assert.Zero(t, result.Errors)
	assert.Equal(t, []string{"Logged 1st play of Carcassonne"}, result.Messages)
	assert.Equal(t, []int{13, 822}, result.GameIDs)

	_, err = env.plays.Get(ctx, synced.LocalID)
	assert.ErrorIs(t, err, domain.ErrPlayNotFound)

	uploaded, err := env.plays.Get(ctx, created.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 1001, uploaded.PlayID)
	assert.False(t, uploaded.IsDirty())
	assert.NotEmpty(t, uploaded.SyncHash)

	catan, err := env.games.Get(ctx, 13)
	require.NoError(t, err)
	require.NotNil(t, catan)
	assert.Zero(t, catan.NumPlays)

	carcassonne, err := env.games.Get(ctx, 822)
	require.NoError(t, err)
	require.NotNil(t, carcassonne)
	assert.Equal(t, 1, carcassonne.NumPlays)

	assert.Equal(t, 1, stats.count())
}

func TestUpload_DeleteOfPlayMissingUpstreamIsConflict(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()

	gone := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), false)
	_, err := env.sqlDB.ExecContext(ctx, `UPDATE plays SET delete_timestamp = 1000 WHERE local_id = ?`, gone.LocalID)
	require.NoError(t, err)

	result, err := env.uploader(nil, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:42"}, env.remote.recordedCalls())
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.Errors)
	assert.Empty(t, result.Failures)
	assert.Empty(t, env.allPlays(t))
}

func TestUpload_TransientDeleteErrorKeepsPendingDelete(t *testing.T) {
	remote := newFakeRemote()
	remote.onDelete = func(int) (*api.PlayDeleteResponse, error) {
		return &api.PlayDeleteResponse{Error: "Invalid request, please try again"}, nil
	}
	env := newTestEnv(t, remote)
	ctx := context.Background()

	synced := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), true)
	require.NoError(t, env.plays.MarkAsDeleted(ctx, synced.LocalID))

	result, err := env.uploader(nil, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:42"}, remote.recordedCalls())
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Conflicts)
	assert.Zero(t, result.Deleted)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, UploadActionDelete, result.Failures[0].Action)

	still, err := env.plays.Get(ctx, synced.LocalID)
	require.NoError(t, err)
	assert.True(t, still.HasPendingDelete())
	assert.Equal(t, 42, still.PlayID)
}

func TestUpload_NeverSyncedDeleteStaysLocal(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()

	play, err := env.plays.LogQuickPlay(ctx, 13, "Catan")
	require.NoError(t, err)
	require.NoError(t, env.plays.MarkAsDeleted(ctx, play.LocalID))

	result, err := env.uploader(nil, time.Hour).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deleted)
	assert.Empty(t, env.remote.recordedCalls())
	assert.Empty(t, env.allPlays(t))
}

func TestUpload_AuthFailureAbortsRun(t *testing.T) {
	remote := newFakeRemote()
	remote.onDelete = func(int) (*api.PlayDeleteResponse, error) {
		return &api.PlayDeleteResponse{Error: "You must login to delete plays"}, nil
	}
	env := newTestEnv(t, remote)
	ctx := context.Background()
	stats := &countingStats{}

	synced := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), true)
	require.NoError(t, env.plays.MarkAsDeleted(ctx, synced.LocalID))
	_, err := env.plays.LogQuickPlay(ctx, 822, "Carcassonne")
	require.NoError(t, err)

	_, err = env.uploader(stats, 0).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
	assert.Equal(t, []string{"delete:42"}, remote.recordedCalls())
	assert.Zero(t, stats.count())

	still, err := env.plays.Get(ctx, synced.LocalID)
	require.NoError(t, err)
	assert.True(t, still.HasPendingDelete())
}

func TestUpload_SaveFailureDoesNotStopBatch(t *testing.T) {
	remote := newFakeRemote()
	remote.onSave = func(p *domain.Play) (*api.PlaySaveResponse, error) {
		if p.GameID == 13 {
			return &api.PlaySaveResponse{Error: "Something went wrong"}, nil
		}
		return &api.PlaySaveResponse{PlayID: 500, NumPlays: 3}, nil
	}
	env := newTestEnv(t, remote)
	ctx := context.Background()

	failed, err := env.plays.LogQuickPlay(ctx, 13, "Catan")
	require.NoError(t, err)
	_, err = env.plays.LogQuickPlay(ctx, 822, "Carcassonne")
	require.NoError(t, err)

	result, err := env.uploader(nil, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, failed.LocalID, result.Failures[0].LocalID)
	assert.Equal(t, UploadActionSave, result.Failures[0].Action)
	assert.Equal(t, "Something went wrong", result.Failures[0].Message)
	assert.Contains(t, result.Messages, "Logged 3rd play of Carcassonne")

	got, err := env.plays.Get(ctx, failed.LocalID)
	require.NoError(t, err)
	assert.True(t, got.HasPendingUpdate())
	assert.Zero(t, got.PlayID)
}

func TestUpload_RejectsMalformedSaveResponses(t *testing.T) {
	tests := []struct {
		name string
		resp *api.PlaySaveResponse
	}{
		{name: "negative play count", resp: &api.PlaySaveResponse{PlayID: 5, NumPlays: -1}},
		{name: "missing play id", resp: &api.PlaySaveResponse{NumPlays: 2}},
		{name: "edited play gone upstream", resp: &api.PlaySaveResponse{Error: "Invalid play ID"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.onSave = func(*domain.Play) (*api.PlaySaveResponse, error) { return tt.resp, nil }
			env := newTestEnv(t, remote)
			ctx := context.Background()

			play, err := env.plays.LogQuickPlay(ctx, 13, "Catan")
			require.NoError(t, err)

			result, err := env.uploader(nil, 0).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Errors)
			assert.Zero(t, result.Created)

			got, err := env.plays.Get(ctx, play.LocalID)
			require.NoError(t, err)
			assert.True(t, got.HasPendingUpdate())
		})
	}
}

func TestUpload_EditedPlayIsUpdated(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()

	synced := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), true)
	require.NoError(t, env.plays.MarkAsUpdated(ctx, synced.LocalID))

	result, err := env.uploader(nil, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Zero(t, result.Created)
	assert.Equal(t, []string{"Updated play of Catan"}, result.Messages)

	got, err := env.plays.Get(ctx, synced.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.PlayID)
	assert.False(t, got.IsDirty())
}

func TestUpload_BulkEditedPlayIsUpdated(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()

	synced := storeSynced(t, env, boardGamePlay(42, "2024-03-01", 13, "Catan"), true)
	n, err := env.plays.RenamePlayer(ctx, "Bob", "Robert")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	result, err := env.uploader(nil, 0).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"save:" + synced.LocalID}, env.remote.recordedCalls())
	assert.Equal(t, 1, result.Updated)

	got, err := env.plays.Get(ctx, synced.LocalID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty())
	assert.Equal(t, "Robert", got.Players[1].Name)
}

func TestUpload_PausesBetweenRemoteCalls(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()

	for _, id := range []int{13, 822, 9209} {
		_, err := env.plays.LogQuickPlay(ctx, id, "Game")
		require.NoError(t, err)
	}

	start := time.Now()
	result, err := env.uploader(nil, 30*time.Millisecond).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Created)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestUpload_CancelDuringPauseStopsRun(t *testing.T) {
	remote := newFakeRemote()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.onSave = func(*domain.Play) (*api.PlaySaveResponse, error) {
		cancel()
		return &api.PlaySaveResponse{PlayID: 900, NumPlays: 1}, nil
	}
	env := newTestEnv(t, remote)

	_, err := env.plays.LogQuickPlay(context.Background(), 13, "Catan")
	require.NoError(t, err)
	_, err = env.plays.LogQuickPlay(context.Background(), 13, "Catan")
	require.NoError(t, err)

	start := time.Now()
	result, err := env.uploader(nil, time.Hour).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)

	assert.Equal(t, 1, result.Created)
	assert.Len(t, remote.recordedCalls(), 1)

	// counts are still brought up to date for what was uploaded
	game, err := env.games.Get(context.Background(), 13)
	require.NoError(t, err)
	require.NotNil(t, game)
	assert.Equal(t, 2, game.NumPlays)
}

func TestUpload_RejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	u := env.uploader(nil, 0)

	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}
