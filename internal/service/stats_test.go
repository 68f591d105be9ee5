package service

import (
	"context"
	"playsync/internal/domain"
	"playsync/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPlays(t *testing.T, env *testEnv, ids ...int) {
	t.Helper()
	for i, id := range ids {
		storeSynced(t, env, boardGamePlay(100+i, "2024-01-01", id, "Game"), false)
	}
}

func TestPlayStats_WaitsForCompleteHistory(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()
	seedPlays(t, env, 13, 13, 822)

	svc := env.statsService()
	require.NoError(t, svc.Recalculate(ctx))

	game, player, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.False(t, game.Valid())
	assert.False(t, player.Valid())

	require.NoError(t, env.state.SetOldest(ctx, domain.OldestAt(mustDate(t, "2023-01-01"))))
	require.NoError(t, svc.Recalculate(ctx))
	game, _, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.False(t, game.Valid())
}

func TestPlayStats_StoresHIndex(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()
	seedPlays(t, env, 13, 13, 13, 822, 822, 9209)
	require.NoError(t, env.state.SetOldest(ctx, domain.CompleteOldest()))

	svc := env.statsService()
	require.NoError(t, svc.Recalculate(ctx))

	game, player, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HIndex{H: 2, N: 2}, game)
	assert.Equal(t, domain.HIndex{H: 2, N: 2}, player)

	// a second play of the third game only raises N
	storeSynced(t, env, boardGamePlay(200, "2024-01-02", 9209, "Game"), false)
	require.NoError(t, svc.Recalculate(ctx))
	game, err = env.stats.HIndex(ctx, repository.StatGameHIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.HIndex{H: 2, N: 3}, game)
}

func TestPlayStats_IgnoresPlaysPendingDelete(t *testing.T) {
	env := newTestEnv(t, newFakeRemote())
	ctx := context.Background()
	seedPlays(t, env, 13, 13, 822, 822)
	require.NoError(t, env.state.SetOldest(ctx, domain.CompleteOldest()))

	play := env.playByID(t, 103)
	require.NotNil(t, play)
	require.NoError(t, env.plays.MarkAsDeleted(ctx, play.LocalID))

	svc := env.statsService()
	require.NoError(t, svc.Recalculate(ctx))

	game, _, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HIndex{H: 1, N: 2}, game)
}
