package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func identityShuffle(int, func(i, j int)) {}

func reverseShuffle(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testTracks(n int, duration float64) []Track {
	tracks := make([]Track, n)
	for i := range tracks {
		tracks[i] = Track{
			Title:    fmt.Sprintf("Song %d", i+1),
			Artist:   fmt.Sprintf("Artist %d", i+1),
			Duration: duration,
		}
	}
	return tracks
}

func newTestSession(t *testing.T, mode Mode, tracks []Track, clk *fakeClock) *Session {
	t.Helper()
	s, err := New("ABC123", mode, SourceMP3, tracks, Options{
		BuzzLockTimeout: 30 * time.Second,
		Now:             clk.Now,
		Shuffle:         identityShuffle,
		NewID:           sequentialIDs(),
	})
	require.NoError(t, err)
	return s
}

func join(t *testing.T, s *Session, name string, team TeamID) Player {
	t.Helper()
	p, err := s.Join(JoinRequest{Name: name, Team: team})
	require.NoError(t, err)
	return p
}

func tickN(s *Session, n int) TickResult {
	var res TickResult
	for i := 0; i < n; i++ {
		res = s.Tick()
	}
	return res
}
