package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/models"
	"github.com/blindtest-party/backend/internal/realtime"
	"github.com/blindtest-party/backend/pkg/queue"
)

type memStore struct {
	mu          sync.Mutex
	snaps       map[string]game.Snapshot
	ended       map[string]time.Time
	buzzes      map[string]map[string]game.BuzzEvent
	leaderboard map[string][]game.LeaderboardEntry
	saveErr     error
	saves       int
}

func newMemStore() *memStore {
	return &memStore{
		snaps:       map[string]game.Snapshot{},
		ended:       map[string]time.Time{},
		buzzes:      map[string]map[string]game.BuzzEvent{},
		leaderboard: map[string][]game.LeaderboardEntry{},
	}
}

func (m *memStore) Save(_ context.Context, snap game.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	if old, ok := m.snaps[snap.Code]; ok && old.Version > snap.Version {
		return nil
	}
	m.snaps[snap.Code] = snap
	return nil
}

func (m *memStore) Load(_ context.Context, code string) (game.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[code]
	if !ok {
		return game.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *memStore) Exists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snaps[code]
	return ok, nil
}

func (m *memStore) ListActive(context.Context) ([]game.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []game.Snapshot
	for _, s := range m.snaps {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memStore) List(_ context.Context, activeOnly bool, _ int) ([]models.SessionSummary, error) {
	snaps, _ := m.ListActive(context.Background())
	var out []models.SessionSummary
	for _, s := range snaps {
		out = append(out, models.SessionSummary{Code: s.Code, Active: s.Active, Mode: string(s.Mode)})
	}
	return out, nil
}

func (m *memStore) AppendBuzz(_ context.Context, code string, ev game.BuzzEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buzzes[code] == nil {
		m.buzzes[code] = map[string]game.BuzzEvent{}
	}
	m.buzzes[code][ev.ID] = ev
	return nil
}

func (m *memStore) Buzzes(_ context.Context, code string) ([]models.BuzzRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BuzzRow
	for _, ev := range m.buzzes[code] {
		out = append(out, models.BuzzRow{ID: ev.ID, SessionCode: code, Outcome: string(ev.Outcome), Points: ev.Points})
	}
	return out, nil
}

func (m *memStore) buzz(code, id string) game.BuzzEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buzzes[code][id]
}

func (m *memStore) UpsertLeaderboard(_ context.Context, code string, entries []game.LeaderboardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaderboard[code] = append([]game.LeaderboardEntry(nil), entries...)
	return nil
}

func (m *memStore) Leaderboard(_ context.Context, code string) ([]models.LeaderboardRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LeaderboardRow
	for _, e := range m.leaderboard[code] {
		out = append(out, models.LeaderboardRow{SessionCode: code, PlayerID: string(e.PlayerID), Name: e.Name,
			TotalPoints: e.TotalPoints, CorrectAnswers: e.CorrectAnswers})
	}
	return out, nil
}

func (m *memStore) MarkEnded(_ context.Context, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[code]; !ok {
		return ErrNotFound
	}
	m.ended[code] = at
	return nil
}

func (m *memStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[code]; !ok {
		return ErrNotFound
	}
	delete(m.snaps, code)
	return nil
}

func (m *memStore) PruneOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for code, s := range m.snaps {
		if s.CreatedAt.Before(cutoff) {
			codes = append(codes, code)
			delete(m.snaps, code)
		}
	}
	return codes, nil
}

type sentEvent struct {
	code     string
	event    string
	roles    []realtime.Role
	playerID string
	payload  interface{}
}

type fakeHub struct {
	mu        sync.Mutex
	events    []sentEvent
	connected map[string][]string
}

func (h *fakeHub) Broadcast(code, event string, payload interface{}, roles ...realtime.Role) {
	h.record(sentEvent{code: code, event: event, roles: roles, payload: payload})
}

func (h *fakeHub) BroadcastAndPublish(code, event string, payload interface{}, roles ...realtime.Role) {
	h.record(sentEvent{code: code, event: event, roles: roles, payload: payload})
}

func (h *fakeHub) SendToPlayer(code, playerID, event string, payload interface{}) {
	h.record(sentEvent{code: code, event: event, playerID: playerID, payload: payload})
}

func (h *fakeHub) PlayerIDs(code string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.connected[code]...)
}

func (h *fakeHub) record(e sentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

// named returns the events called name, in order.
func (h *fakeHub) named(name string) []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sentEvent
	for _, e := range h.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (h *fakeHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []queue.GameEndedPayload
	err  error
}

func (f *fakeJobs) EnqueueGameEnded(_ context.Context, p queue.GameEndedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, p)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func codes(list ...string) func() string {
	i := 0
	return func() string {
		c := list[i%len(list)]
		i++
		return c
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testTracks(n int, duration float64) []game.Track {
	tracks := make([]game.Track, n)
	for i := range tracks {
		tracks[i] = game.Track{Title: fmt.Sprintf("Song %d", i+1), Artist: fmt.Sprintf("Artist %d", i+1), Duration: duration}
	}
	return tracks
}

type harness struct {
	m     *Manager
	store *memStore
	hub   *fakeHub
	jobs  *fakeJobs
	clock *fakeClock
}

// newHarness builds a manager whose clocks never tick on their own.
func newHarness(t *testing.T, codeList ...string) *harness {
	t.Helper()
	if len(codeList) == 0 {
		codeList = []string{"ABC123"}
	}
	h := &harness{
		store: newMemStore(),
		hub:   &fakeHub{connected: map[string][]string{}},
		jobs:  &fakeJobs{},
		clock: &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)},
	}
	h.m = NewManager(Config{
		Game: game.Options{
			BuzzLockTimeout: 30 * time.Second,
			Now:             h.clock.Now,
			Shuffle:         func(int, func(i, j int)) {},
			NewID:           sequentialIDs(),
		},
		TickInterval: time.Hour,
		NewCode:      codes(codeList...),
	}, h.store, h.hub, h.jobs, nil, nil)
	t.Cleanup(h.m.Shutdown)
	return h
}

func (h *harness) create(t *testing.T, mode game.Mode, tracks []game.Track) string {
	t.Helper()
	snap, err := h.m.Create(context.Background(), CreateRequest{Mode: mode, Source: game.SourceMP3, Tracks: tracks})
	require.NoError(t, err)
	return snap.Code
}

func (h *harness) join(t *testing.T, code, name string, team game.TeamID) game.Player {
	t.Helper()
	p, err := h.m.Join(context.Background(), code, game.JoinRequest{Name: name, Team: team})
	require.NoError(t, err)
	h.hub.mu.Lock()
	h.hub.connected[code] = append(h.hub.connected[code], string(p.ID))
	h.hub.mu.Unlock()
	return p
}

var errBoom = errors.New("boom")
