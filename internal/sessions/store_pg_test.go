package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/pkg/database"
)

func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("blindtest"),
		postgres.WithUsername("blindtest"),
		postgres.WithPassword("blindtest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := database.NewPostgresPool(ctx, dsn, 4, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return NewPGStore(pool)
}

func pgSnapshot(code string, version uint64, created time.Time) game.Snapshot {
	return game.Snapshot{
		Code:      code,
		Active:    true,
		CreatedAt: created,
		Source:    game.SourceMP3,
		Mode:      game.ModeTeam,
		Version:   version,
		Tracks:    testTracks(2, 30),
		Players: []game.Player{
			{ID: "p1", Name: gofakeit.FirstName(), Team: game.Team1, JoinedAt: created},
		},
	}
}

func TestPGStore(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("save and load", func(t *testing.T) {
		snap := pgSnapshot("AAAAAA", 3, now)
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Load(ctx, "AAAAAA")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.Version)
		assert.Equal(t, snap.Players[0].Name, got.Players[0].Name)
		assert.Len(t, got.Tracks, 2)

		ok, err := store.Exists(ctx, "AAAAAA")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Exists(ctx, "ZZZZZZ")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Load(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("older versions never overwrite", func(t *testing.T) {
		snap := pgSnapshot("BBBBBB", 5, now)
		require.NoError(t, store.Save(ctx, snap))
		stale := snap
		stale.Version = 4
		stale.Scores = game.Scores{Team1: 999}
		require.NoError(t, store.Save(ctx, stale))

		got, err := store.Load(ctx, "BBBBBB")
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.Version)
		assert.Zero(t, got.Scores.Team1)

		snap.Version = 6
		snap.Scores = game.Scores{Team2: 100}
		require.NoError(t, store.Save(ctx, snap))
		got, err = store.Load(ctx, "BBBBBB")
		require.NoError(t, err)
		assert.Equal(t, 100, got.Scores.Team2)
	})

	t.Run("buzz history", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, pgSnapshot("CCCCCC", 1, now)))
		ev := game.BuzzEvent{
			ID: "b1", Team: game.Team1, PlayerID: "p1", PlayerName: gofakeit.FirstName(),
			TrackIndex: 0, Time: 4.2, AvailablePoints: 2500, Outcome: game.BuzzPending, At: now,
		}
		require.NoError(t, store.AppendBuzz(ctx, "CCCCCC", ev))
		ev.Outcome = game.BuzzCorrect
		ev.Points = 2500
		require.NoError(t, store.AppendBuzz(ctx, "CCCCCC", ev))
		second := ev
		second.ID, second.TrackIndex, second.Outcome, second.Points = "b2", 1, game.BuzzWrong, 0
		second.At = now.Add(time.Second)
		require.NoError(t, store.AppendBuzz(ctx, "CCCCCC", second))

		rows, err := store.Buzzes(ctx, "CCCCCC")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "b1", rows[0].ID)
		assert.Equal(t, "correct", rows[0].Outcome)
		assert.Equal(t, 2500, rows[0].Points)
		assert.InDelta(t, 4.2, rows[0].Elapsed, 1e-9)
		assert.Equal(t, "wrong", rows[1].Outcome)
	})

	t.Run("leaderboard upsert", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, pgSnapshot("DDDDDD", 1, now)))
		require.NoError(t, store.UpsertLeaderboard(ctx, "DDDDDD", nil))
		entries := []game.LeaderboardEntry{
			{PlayerID: "p1", Name: "Ann", TotalPoints: 2000, CorrectAnswers: 1},
			{PlayerID: "p2", Name: "Bob", TotalPoints: 1500, CorrectAnswers: 1},
		}
		require.NoError(t, store.UpsertLeaderboard(ctx, "DDDDDD", entries))
		entries[0].TotalPoints = 3900
		entries[0].CorrectAnswers = 2
		require.NoError(t, store.UpsertLeaderboard(ctx, "DDDDDD", entries))

		rows, err := store.Leaderboard(ctx, "DDDDDD")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "p1", rows[0].PlayerID)
		assert.Equal(t, 3900, rows[0].TotalPoints)
		assert.Equal(t, 2, rows[0].CorrectAnswers)
		assert.Equal(t, "Bob", rows[1].Name)
	})

	t.Run("end and list", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, pgSnapshot("EEEEEE", 1, now.Add(time.Minute))))
		require.NoError(t, store.MarkEnded(ctx, "EEEEEE", now))
		assert.ErrorIs(t, store.MarkEnded(ctx, "ZZZZZZ", now), ErrNotFound)

		all, err := store.List(ctx, false, 0)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, "EEEEEE", all[0].Code, "newest first")
		assert.False(t, all[0].Active)
		require.NotNil(t, all[0].EndedAt)

		active, err := store.List(ctx, true, 0)
		require.NoError(t, err)
		for _, s := range active {
			assert.NotEqual(t, "EEEEEE", s.Code)
		}
		limited, err := store.List(ctx, false, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		snaps, err := store.ListActive(ctx)
		require.NoError(t, err)
		for _, s := range snaps {
			assert.NotEqual(t, "EEEEEE", s.Code)
		}
	})

	t.Run("delete and prune", func(t *testing.T) {
		old := now.Add(-72 * time.Hour)
		require.NoError(t, store.Save(ctx, pgSnapshot("OLD001", 1, old)))
		require.NoError(t, store.Save(ctx, pgSnapshot("OLD002", 1, old)))
		require.NoError(t, store.AppendBuzz(ctx, "OLD001", game.BuzzEvent{
			ID: "old-b1", PlayerID: "p1", Outcome: game.BuzzPending, At: old,
		}))

		codes, err := store.PruneOlderThan(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"OLD001", "OLD002"}, codes)
		rows, err := store.Buzzes(ctx, "OLD001")
		require.NoError(t, err)
		assert.Empty(t, rows)

		require.NoError(t, store.Delete(ctx, "AAAAAA"))
		assert.ErrorIs(t, store.Delete(ctx, "AAAAAA"), ErrNotFound)
	})
}
