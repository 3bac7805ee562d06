package game

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_BuzzAndJudgeCorrect(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)

	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 30)

	ev, err := s.Buzz(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, ev.Time)
	assert.Equal(t, 2500, ev.AvailablePoints)
	assert.Equal(t, BuzzPending, ev.Outcome)

	snap := s.Snapshot()
	assert.False(t, snap.IsPlaying, "a buzz pauses playback")
	assert.Equal(t, 3.0, snap.Chrono)

	tickN(s, 20)
	assert.Equal(t, 3.0, s.Snapshot().Chrono, "clock stays frozen while locked")

	judged, err := s.Judge(true)
	require.NoError(t, err)
	assert.Equal(t, BuzzCorrect, judged.Outcome)
	assert.Equal(t, 2500, judged.Points)

	snap = s.Snapshot()
	assert.Equal(t, 2500, snap.Scores.Team1)
	assert.Zero(t, snap.Scores.Team2)
	assert.True(t, snap.Tracks[0].Revealed)
	assert.Nil(t, snap.Buzz)
	require.Len(t, snap.BuzzTimes[0], 1)
	assert.Equal(t, BuzzCorrect, snap.BuzzTimes[0][0].Outcome)
	assert.Equal(t, 1, snap.Players[0].BuzzCount)
	assert.Equal(t, 1, snap.Players[0].CorrectCount)
}

func TestSession_PointsFixedAtBuzzTime(t *testing.T) {
	tests := []struct {
		name  string
		ticks int
		want  int
	}{
		{"mid linear span", 100, 1500},
		{"residual pool", 200, 333},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
			bob := join(t, s, "Bob", Team2)
			_, err := s.Play()
			require.NoError(t, err)
			tickN(s, tt.ticks)

			ev, err := s.Buzz(bob.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.AvailablePoints)

			clk.Advance(10 * time.Second)
			judged, err := s.Judge(true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, judged.Points)
			assert.Equal(t, tt.want, s.Snapshot().Scores.Team2)
		})
	}
}

func TestSession_JudgeWrong(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 10)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	ev, err := s.Judge(false)
	require.NoError(t, err)
	assert.Equal(t, BuzzWrong, ev.Outcome)
	require.NotNil(t, ev.Correct)
	assert.False(t, *ev.Correct)
	assert.Zero(t, ev.Points)

	snap := s.Snapshot()
	assert.Equal(t, Scores{}, snap.Scores)
	assert.False(t, snap.Tracks[0].Revealed)

	// playback resumes from the frozen value
	_, err = s.Play()
	require.NoError(t, err)
	tickN(s, 5)
	assert.Equal(t, 1.5, s.Snapshot().Chrono)
}

func TestSession_SecondBuzzLoses(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	bob := join(t, s, "Bob", Team2)
	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 10)

	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)
	_, err = s.Buzz(bob.ID)
	assert.ErrorIs(t, err, ErrBuzzPending)
	assert.Equal(t, alice.ID, s.Snapshot().Buzz.PlayerID)
	assert.Len(t, s.Snapshot().BuzzTimes[0], 1, "a lost race leaves no record")
}

func TestSession_ConcurrentBuzzExactlyOneWins(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	const n = 40
	ids := make([]PlayerID, n)
	for i := range ids {
		team := Team1
		if i%2 == 1 {
			team = Team2
		}
		ids[i] = join(t, s, "Player", team).ID
	}
	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 42)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []BuzzEvent
		losses int
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id PlayerID) {
			defer wg.Done()
			<-start
			ev, err := s.Buzz(id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, ev)
				return
			}
			assert.ErrorIs(t, err, ErrBuzzPending)
			losses++
		}(id)
	}
	close(start)
	wg.Wait()

	require.Len(t, wins, 1)
	assert.Equal(t, n-1, losses)
	snap := s.Snapshot()
	require.NotNil(t, snap.Buzz)
	assert.Equal(t, wins[0].PlayerID, snap.Buzz.PlayerID)
	assert.Equal(t, wins[0].AvailablePoints, snap.Buzz.AvailablePoints)
}

func TestSession_BuzzGuards(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)

	_, err := s.Buzz(alice.ID)
	assert.ErrorIs(t, err, ErrNotPlaying)

	_, err = s.Buzz("ghost")
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	_, err = s.Judge(true)
	assert.ErrorIs(t, err, ErrNoPendingBuzz)

	_, err = s.Play()
	require.NoError(t, err)
	require.NoError(t, s.Pause())
	_, err = s.Buzz(alice.ID)
	assert.ErrorIs(t, err, ErrNotPlaying, "paused track rejects buzzes")

	q := newTestSession(t, ModeQuiz, testTracks(4, 30), clk)
	carol := join(t, q, "Carol", TeamNone)
	_, err = q.Buzz(carol.ID)
	assert.ErrorIs(t, err, ErrWrongMode)
}

func TestSession_PlayWhileLocked(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	_, err = s.Play()
	assert.ErrorIs(t, err, ErrBuzzPending)
}

func TestSession_CooldownAfterTwoCorrect(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)

	for i := 0; i < 2; i++ {
		_, err := s.Play()
		require.NoError(t, err)
		tickN(s, 10)
		_, err = s.Buzz(alice.ID)
		require.NoError(t, err)
		_, err = s.Judge(true)
		require.NoError(t, err)
		_, err = s.Next()
		require.NoError(t, err)
	}

	view, err := s.PlayerView(alice.ID)
	require.NoError(t, err)
	assert.True(t, view.CooldownPending)
	assert.Zero(t, view.ConsecutiveCorrect)
	assert.Zero(t, view.CooldownRemainingMs, "pending cooldown does not block yet")

	res, err := s.Play()
	require.NoError(t, err)
	assert.Equal(t, []PlayerID{alice.ID}, res.Activated)

	view, err = s.PlayerView(alice.ID)
	require.NoError(t, err)
	assert.False(t, view.CooldownPending)
	assert.Equal(t, clk.Now().Add(5*time.Second), view.CooldownEnd)
	assert.False(t, view.CanBuzz)

	clk.Advance(time.Second)
	_, err = s.Buzz(alice.ID)
	assert.ErrorIs(t, err, ErrCooldownActive)
	view, _ = s.PlayerView(alice.ID)
	assert.Equal(t, int64(4000), view.CooldownRemainingMs)

	clk.Advance(4 * time.Second)
	_, err = s.Buzz(alice.ID)
	assert.NoError(t, err)
}

func TestSession_CooldownBlocksEvenWhenPaused(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	s.mu.Lock()
	s.players[alice.ID].CooldownEnd = clk.Now().Add(time.Second)
	s.mu.Unlock()

	_, err := s.Buzz(alice.ID)
	assert.ErrorIs(t, err, ErrCooldownActive)
}

func TestSession_WrongBreaksStreak(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(4, 30), clk)
	alice := join(t, s, "Alice", Team1)

	for _, correct := range []bool{true, false, true} {
		_, err := s.Play()
		require.NoError(t, err)
		_, err = s.Buzz(alice.ID)
		require.NoError(t, err)
		_, err = s.Judge(correct)
		require.NoError(t, err)
		if correct {
			_, err = s.Next()
			require.NoError(t, err)
		}
	}
	view, err := s.PlayerView(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.ConsecutiveCorrect)
	assert.False(t, view.CooldownPending)
	assert.Equal(t, 3, view.BuzzCount)
}

func TestSession_NextCancelsPendingBuzz(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 25)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	cancelled, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, BuzzCancelled, cancelled.Outcome)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.CurrentTrack)
	assert.Zero(t, snap.Chrono)
	assert.False(t, snap.IsPlaying)
	assert.Nil(t, snap.Buzz)
	assert.Equal(t, BuzzCancelled, snap.BuzzTimes[0][0].Outcome)
	assert.Equal(t, Scores{}, snap.Scores)
}

func TestSession_Navigation(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(2, 30), clk)

	_, err := s.Prev()
	assert.ErrorIs(t, err, ErrNoPreviousTrack)
	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrNoNextTrack)
	_, err = s.GoTo(5)
	assert.ErrorIs(t, err, ErrTrackIndex)
	_, err = s.GoTo(-1)
	assert.ErrorIs(t, err, ErrTrackIndex)
	_, err = s.GoTo(0)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Snapshot().CurrentTrack)
	_, err = s.GoTo(1)
	require.NoError(t, err)
	_, err = s.Prev()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Snapshot().CurrentTrack)
}

func TestSession_BuzzLockExpires(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	clk.Advance(29 * time.Second)
	assert.Nil(t, s.Tick().Expired)

	clk.Advance(time.Second)
	res := s.Tick()
	require.NotNil(t, res.Expired)
	assert.Equal(t, BuzzExpired, res.Expired.Outcome)
	assert.Nil(t, s.Snapshot().Buzz)

	view, _ := s.PlayerView(alice.ID)
	assert.Zero(t, view.ConsecutiveCorrect)
	assert.Zero(t, view.CorrectCount)
}

func TestSession_TrackEndsAtDuration(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 1), clk)
	_, err := s.Play()
	require.NoError(t, err)

	res := tickN(s, 9)
	assert.False(t, res.TrackEnded)
	res = s.Tick()
	assert.True(t, res.TrackEnded)
	assert.Equal(t, 1.0, res.Chrono)
	assert.False(t, s.Snapshot().IsPlaying)

	_, err = s.Play()
	assert.ErrorIs(t, err, ErrTrackFinished)
	assert.False(t, s.Tick().Advanced)
}

func TestSession_TickReportsPoints(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	assert.False(t, s.Tick().Advanced, "no tick before play")

	_, err := s.Play()
	require.NoError(t, err)
	before := s.Snapshot().Version
	res := tickN(s, 100)
	assert.True(t, res.Advanced)
	assert.Equal(t, 10.0, res.Chrono)
	assert.Equal(t, 1500, res.PointsAvailable)
	assert.Equal(t, before, s.Snapshot().Version, "plain ticks do not bump the version")
}

func TestSession_RevealTeamMode(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	res, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "Song 1", res.Track.Title)
	require.NotNil(t, res.Cancelled)
	assert.Equal(t, BuzzCancelled, res.Cancelled.Outcome)

	_, err = s.Reveal()
	assert.ErrorIs(t, err, ErrAlreadyRevealed)
}

func TestSession_AdjustScore(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	scores, err := s.AdjustScore(Team2, 300)
	require.NoError(t, err)
	assert.Equal(t, Scores{Team2: 300}, scores)
	scores, err = s.AdjustScore(Team2, -500)
	require.NoError(t, err)
	assert.Equal(t, -200, scores.Team2)

	_, err = s.AdjustScore(TeamNone, 1)
	assert.ErrorIs(t, err, ErrInvalidTeam)
}

func TestSession_End(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)

	require.NoError(t, s.End())
	assert.False(t, s.Active())
	assert.ErrorIs(t, s.End(), ErrSessionEnded)

	_, err = s.Play()
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = s.Join(JoinRequest{Name: "Late", Team: Team1})
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = s.SetPhoto(alice.ID, "https://bucket.example/a.png")
	assert.ErrorIs(t, err, ErrSessionEnded)

	snap := s.Snapshot()
	assert.Nil(t, snap.Buzz)
	assert.Equal(t, BuzzCancelled, snap.BuzzTimes[0][0].Outcome, "history is retained")
}

func TestSession_SetTracksBeforeStart(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, nil, clk)
	_, err := s.Play()
	assert.ErrorIs(t, err, ErrNoTracks)

	require.NoError(t, s.SetTracks(testTracks(2, 30)))
	_, err = s.Play()
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetTracks(testTracks(5, 30)), ErrAlreadyStarted)

	err = s.SetTracks([]Track{{Title: " "}})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSession_JoinAndRejoin(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)

	_, err := s.Join(JoinRequest{Name: "Alice"})
	assert.ErrorIs(t, err, ErrInvalidTeam)
	_, err = s.Join(JoinRequest{Name: "   ", Team: Team1})
	assert.ErrorIs(t, err, ErrInvalidName)

	alice, err := s.Join(JoinRequest{Name: "  Alice  ", Team: Team1})
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)
	assert.True(t, alice.Connected)

	_, err = s.SetConnected(alice.ID, false)
	require.NoError(t, err)
	assert.Zero(t, s.ConnectedPlayers())

	again, err := s.Join(JoinRequest{ID: alice.ID, Name: "Alicia", Team: Team2})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)
	assert.Equal(t, Team1, again.Team, "rejoin keeps the team")
	assert.Equal(t, "Alicia", again.Name)
	assert.Equal(t, 1, s.ConnectedPlayers())

	recreated, err := s.Join(JoinRequest{ID: "lost-id", Name: "Dave", Team: Team2})
	require.NoError(t, err)
	assert.Equal(t, PlayerID("lost-id"), recreated.ID)
	assert.Zero(t, recreated.BuzzCount)

	long, err := s.Join(JoinRequest{Name: "ééééééééééééééééééééééééééééééééééééééé", Team: Team2})
	require.NoError(t, err)
	assert.Len(t, []rune(long.Name), MaxNameLength)
}

func TestSession_ChangeTeamResetsCounters(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)
	_, err := s.Play()
	require.NoError(t, err)
	_, err = s.Buzz(alice.ID)
	require.NoError(t, err)
	_, err = s.Judge(true)
	require.NoError(t, err)

	moved, err := s.ChangeTeam(alice.ID, Team2)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, moved.ID)
	assert.Equal(t, Team2, moved.Team)
	assert.Zero(t, moved.BuzzCount)
	assert.Zero(t, moved.CorrectCount)
	assert.Zero(t, moved.ConsecutiveCorrect)
	assert.Equal(t, 2500, s.Snapshot().Scores.Team1, "team points stay with the team")

	_, err = s.ChangeTeam("ghost", Team1)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	_, err = s.ChangeTeam(alice.ID, TeamNone)
	assert.ErrorIs(t, err, ErrInvalidTeam)
}

func TestSession_QuizRoundAutoReveal(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeQuiz, testTracks(4, 30), clk)
	p1 := join(t, s, "Ann", TeamNone)
	p2 := join(t, s, "Ben", TeamNone)
	p3 := join(t, s, "Cid", TeamNone)
	assert.Equal(t, TeamNone, p1.Team)

	_, _, err := s.SubmitAnswer(p1.ID, "A")
	assert.ErrorIs(t, err, ErrNoQuestion)

	res, err := s.Play()
	require.NoError(t, err)
	require.NotNil(t, res.Question)
	assert.Equal(t, "A", res.Question.CorrectLabel)

	tickN(s, 10)
	_, rev, err := s.SubmitAnswer(p1.ID, "a")
	require.NoError(t, err)
	assert.Nil(t, rev)

	_, _, err = s.SubmitAnswer(p1.ID, "B")
	assert.ErrorIs(t, err, ErrAlreadyAnswered, "first submission wins")

	tickN(s, 10)
	_, rev, err = s.SubmitAnswer(p2.ID, "A")
	require.NoError(t, err)
	assert.Nil(t, rev)

	tickN(s, 30)
	ans, rev, err := s.SubmitAnswer(p3.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, 5.0, ans.Time)
	require.NotNil(t, rev, "all connected players answered")
	assert.True(t, rev.Auto)
	assert.True(t, rev.Question.Revealed)
	assert.True(t, rev.Track.Revealed)

	points := map[PlayerID]int{}
	for _, a := range rev.Answers {
		points[a.PlayerID] = a.Points
	}
	assert.Equal(t, 1990, points[p1.ID])
	assert.Equal(t, 1880, points[p2.ID])
	assert.Equal(t, 1750, points[p3.ID])

	require.Len(t, rev.Leaderboard, 3)
	assert.Equal(t, p1.ID, rev.Leaderboard[0].PlayerID)
	assert.Equal(t, 1990, rev.Leaderboard[0].TotalPoints)

	_, _, err = s.SubmitAnswer(p2.ID, "C")
	assert.ErrorIs(t, err, ErrAlreadyRevealed)
	_, err = s.Reveal()
	assert.ErrorIs(t, err, ErrAlreadyRevealed)
}

func TestSession_QuizLeaderboardAccumulates(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeQuiz, testTracks(5, 30), clk)
	ann := join(t, s, "Ann", TeamNone)
	ben := join(t, s, "Ben", TeamNone)

	for track := 0; track < 2; track++ {
		_, err := s.Play()
		require.NoError(t, err)
		tickN(s, 10)
		_, _, err = s.SubmitAnswer(ann.ID, "A")
		require.NoError(t, err)
		_, _, err = s.SubmitAnswer(ben.ID, "D")
		require.NoError(t, err)
		if track == 0 {
			_, err = s.Next()
			require.NoError(t, err)
		}
	}

	lb := s.Snapshot().Leaderboard
	require.Len(t, lb, 2)
	assert.Equal(t, ann.ID, lb[0].PlayerID)
	assert.Equal(t, 2*QuizPoints(1.0, 0), lb[0].TotalPoints)
	assert.Equal(t, 2, lb[0].CorrectAnswers)
	assert.Equal(t, ben.ID, lb[1].PlayerID)
	assert.Zero(t, lb[1].TotalPoints)
}

func TestSession_QuizManualRevealScoresPartialAnswers(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeQuiz, testTracks(4, 30), clk)
	ann := join(t, s, "Ann", TeamNone)
	join(t, s, "Ben", TeamNone)
	_, err := s.Play()
	require.NoError(t, err)
	tickN(s, 20)
	_, _, err = s.SubmitAnswer(ann.ID, "A")
	require.NoError(t, err)

	rev, err := s.Reveal()
	require.NoError(t, err)
	assert.False(t, rev.Auto)
	require.Len(t, rev.Answers, 1)
	assert.Equal(t, QuizPoints(2.0, 0), rev.Answers[0].Points)
	assert.False(t, s.Snapshot().IsPlaying)
}

func TestSession_QuizDisconnectTriggersReveal(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeQuiz, testTracks(4, 30), clk)
	ann := join(t, s, "Ann", TeamNone)
	ben := join(t, s, "Ben", TeamNone)
	_, err := s.Play()
	require.NoError(t, err)
	_, _, err = s.SubmitAnswer(ann.ID, "B")
	require.NoError(t, err)

	rev, err := s.SetConnected(ben.ID, false)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.True(t, rev.Auto)
	require.Len(t, rev.Answers, 1)
	assert.False(t, *rev.Answers[0].Correct)
}

func TestSession_QuizKeepsQuestionPerTrack(t *testing.T) {
	clk := newFakeClock()
	s, err := New("QUIZ01", ModeQuiz, SourceMP3, testTracks(6, 30), Options{
		Now:   clk.Now,
		NewID: sequentialIDs(),
	})
	require.NoError(t, err)

	first, err := s.Play()
	require.NoError(t, err)
	require.NotNil(t, first.Question)
	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Prev()
	require.NoError(t, err)

	again, err := s.Play()
	require.NoError(t, err)
	assert.Nil(t, again.Question, "question is not rebuilt")
	assert.Equal(t, first.Question.Choices, s.Snapshot().Quiz.Choices)
}

func TestSession_QuizNeedsFourDistinctTracks(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeQuiz, testTracks(3, 30), clk)
	_, err := s.Play()
	assert.ErrorIs(t, err, ErrNotEnoughTracks)
	assert.False(t, s.Snapshot().IsPlaying)
}

func TestSession_PlayerView(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, ModeTeam, testTracks(3, 30), clk)
	alice := join(t, s, "Alice", Team1)

	v, err := s.PlayerView(alice.ID)
	require.NoError(t, err)
	assert.False(t, v.CanBuzz)

	_, err = s.Play()
	require.NoError(t, err)
	v, _ = s.PlayerView(alice.ID)
	assert.True(t, v.CanBuzz)

	_, err = s.PlayerView("ghost")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}
