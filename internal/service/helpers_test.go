package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"playsync/internal/api"
	"playsync/internal/constants"
	"playsync/internal/database"
	"playsync/internal/db"
	"playsync/internal/domain"
	"playsync/internal/repository"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeRemote keeps an in-memory play history and answers queries the way the
// plays endpoint does: newest first, paged, with inclusive date bounds.
type fakeRemote struct {
	mu      sync.Mutex
	history map[int]api.RemotePlay
	nextID  int

	queries []api.PlaysQuery
	calls   []string

	playsErr func(q api.PlaysQuery) error
	onSave   func(p *domain.Play) (*api.PlaySaveResponse, error)
	onDelete func(playID int) (*api.PlayDeleteResponse, error)
}

func newFakeRemote(plays ...api.RemotePlay) *fakeRemote {
	f := &fakeRemote{history: make(map[int]api.RemotePlay), nextID: 1000}
	for _, p := range plays {
		f.history[p.ID] = p
	}
	return f
}

func (f *fakeRemote) Plays(_ context.Context, q api.PlaysQuery) (*api.PlaysResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if f.playsErr != nil {
		if err := f.playsErr(q); err != nil {
			return nil, err
		}
	}

	minDate := domain.FormatDate(q.MinDate)
	maxDate := domain.FormatDate(q.MaxDate)
	var matched []api.RemotePlay
	for _, p := range f.history {
		if minDate != "" && p.Date < minDate {
			continue
		}
		if maxDate != "" && p.Date > maxDate {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date > matched[j].Date
		}
		return matched[i].ID > matched[j].ID
	})

	page := q.Page
	if page < 1 {
		page = 1
	}
	from := (page - 1) * constants.PlaysPageSize
	to := min(from+constants.PlaysPageSize, len(matched))
	resp := &api.PlaysResponse{Username: q.Username, Total: len(matched), Page: page}
	if from < len(matched) {
		resp.Plays = matched[from:to]
	}
	return resp, nil
}

func (f *fakeRemote) SavePlay(_ context.Context, p *domain.Play) (*api.PlaySaveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "save:"+p.LocalID)
	if f.onSave != nil {
		return f.onSave(p)
	}

	id := p.PlayID
	if id == 0 {
		f.nextID++
		id = f.nextID
	} else if _, ok := f.history[id]; !ok {
		return &api.PlaySaveResponse{Error: "Invalid play ID"}, nil
	}
	f.history[id] = api.RemotePlay{
		ID:       id,
		Date:     p.DateString(),
		Quantity: p.Quantity,
		Location: p.Location,
		Item:     api.RemoteItem{Name: p.GameName, ObjectType: "thing", ObjectID: p.GameID},
	}

	total := 0
	for _, h := range f.history {
		if h.Item.ObjectID == p.GameID {
			total += h.Quantity
		}
	}
	return &api.PlaySaveResponse{PlayID: api.FlexInt(id), NumPlays: api.FlexInt(total)}, nil
}

func (f *fakeRemote) DeletePlay(_ context.Context, playID int) (*api.PlayDeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("delete:%d", playID))
	if f.onDelete != nil {
		return f.onDelete(playID)
	}
	if _, ok := f.history[playID]; !ok {
		return &api.PlayDeleteResponse{Error: "Invalid play id"}, nil
	}
	delete(f.history, playID)
	return &api.PlayDeleteResponse{Success: true}, nil
}

func (f *fakeRemote) remove(playID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, playID)
}

func (f *fakeRemote) put(p api.RemotePlay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[p.ID] = p
}

func (f *fakeRemote) recordedQueries() []api.PlaysQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.PlaysQuery(nil), f.queries...)
}

func (f *fakeRemote) recordedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) resetRecords() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = nil
	f.calls = nil
}

// testClock hands out strictly increasing instants so consecutive runs never
// share a sync timestamp.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type countingStats struct {
	mu    sync.Mutex
	calls int
}

func (s *countingStats) Recalculate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *countingStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	sqlDB  *sql.DB
	remote *fakeRemote
	plays  *repository.PlayRepository
	state  *repository.SyncStateRepository
	games  *repository.GameRepository
	stats  *repository.StatsRepository
	clock  *testClock
}

func newTestEnv(t *testing.T, remote *fakeRemote) *testEnv {
	t.Helper()

	sqlDB, err := database.Open(filepath.Join(t.TempDir(), "plays.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	queries := db.New(sqlDB)
	return &testEnv{
		sqlDB:  sqlDB,
		remote: remote,
		plays:  repository.NewPlayRepository(sqlDB, queries, zerolog.Nop()),
		state:  repository.NewSyncStateRepository(queries, zerolog.Nop()),
		games:  repository.NewGameRepository(queries, zerolog.Nop()),
		stats:  repository.NewStatsRepository(queries, zerolog.Nop()),
		clock:  &testClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (e *testEnv) statsService() *PlayStatsService {
	return NewPlayStatsService(e.state, e.stats, false, zerolog.Nop())
}

func (e *testEnv) downloader(stats StatsCalculator) *PlayDownloader {
	d := NewPlayDownloader(e.remote, e.plays, e.state, stats, "alice", zerolog.Nop())
	d.now = e.clock.Now
	return d
}

func (e *testEnv) uploader(stats StatsCalculator, pause time.Duration) *PlayUploader {
	u := NewPlayUploader(e.remote, e.plays, e.games, stats, pause, zerolog.Nop())
	u.now = e.clock.Now
	return u
}

func (e *testEnv) allPlays(t *testing.T) []domain.Play {
	t.Helper()
	plays, err := e.plays.LoadPlays(context.Background(), domain.PlayFilter{})
	require.NoError(t, err)
	return plays
}

func (e *testEnv) playByID(t *testing.T, playID int) *domain.Play {
	t.Helper()
	for _, p := range e.allPlays(t) {
		if p.PlayID == playID {
			return &p
		}
	}
	return nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func boardGamePlay(id int, date string, gameID int, gameName string) api.RemotePlay {
	return api.RemotePlay{
		ID:       id,
		Date:     date,
		Quantity: 1,
		Location: "Home",
		Item: api.RemoteItem{
			Name:       gameName,
			ObjectType: "thing",
			ObjectID:   gameID,
			Subtypes:   []api.RemoteSubtype{{Value: "boardgame"}},
		},
		Players: []api.RemotePlayer{
			{Username: "alice", Name: "Alice", Score: "10", Win: 1},
			{Name: "Bob", Score: "7"},
		},
	}
}
