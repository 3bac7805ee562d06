package game

import (
	"sort"
	"time"
)

// Snapshot is a deep copy of a session, used for broadcast and persistence.
// Version grows on every state change except plain clock ticks.
type Snapshot struct {
	Code            string               `json:"code"`
	Active          bool                 `json:"active"`
	CreatedAt       time.Time            `json:"createdAt"`
	Source          Source               `json:"source"`
	Mode            Mode                 `json:"mode"`
	Started         bool                 `json:"started"`
	Version         uint64               `json:"version"`
	CurrentTrack    int                  `json:"currentTrackNumber"`
	Chrono          float64              `json:"chrono"`
	IsPlaying       bool                 `json:"isPlaying"`
	PointsAvailable int                  `json:"pointsAvailable"`
	Scores          Scores               `json:"scores"`
	Tracks          []Track              `json:"tracks"`
	Players         []Player             `json:"players"`
	Buzz            *BuzzEvent           `json:"buzz"`
	BuzzTimes       map[int][]BuzzEvent  `json:"buzzTimes,omitempty"`
	Quiz            *QuizQuestion        `json:"quiz"`
	Quizzes         map[int]QuizQuestion `json:"quizzes,omitempty"`
	QuizAnswers     map[int][]QuizAnswer `json:"quizAnswers,omitempty"`
	Leaderboard     []LeaderboardEntry   `json:"quizLeaderboard,omitempty"`
}

// Snapshot returns the full (host) view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Code:            s.code,
		Active:          s.active,
		CreatedAt:       s.createdAt,
		Source:          s.source,
		Mode:            s.mode,
		Started:         s.started,
		Version:         s.version,
		CurrentTrack:    s.current,
		Chrono:          s.clock.Elapsed(),
		IsPlaying:       s.clock.Running(),
		PointsAvailable: s.pointsLocked(),
		Scores:          s.scores,
		Tracks:          append([]Track(nil), s.tracks...),
		Buzz:            s.arbiter.Pending(),
		Quiz:            cloneQuestion(s.quizzes[s.current]),
	}

	snap.Players = make([]Player, 0, len(s.players))
	for _, p := range s.players {
		snap.Players = append(snap.Players, *p)
	}
	sort.Slice(snap.Players, func(i, j int) bool {
		a, b := snap.Players[i], snap.Players[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	if len(s.buzzHistory) > 0 {
		snap.BuzzTimes = make(map[int][]BuzzEvent, len(s.buzzHistory))
		for i, list := range s.buzzHistory {
			snap.BuzzTimes[i] = append([]BuzzEvent(nil), list...)
		}
	}
	if len(s.quizzes) > 0 {
		snap.Quizzes = make(map[int]QuizQuestion, len(s.quizzes))
		for i, q := range s.quizzes {
			snap.Quizzes[i] = *cloneQuestion(q)
		}
	}
	if len(s.quizAnswers) > 0 {
		snap.QuizAnswers = make(map[int][]QuizAnswer, len(s.quizAnswers))
		for i, answers := range s.quizAnswers {
			list := make([]QuizAnswer, 0, len(answers))
			for _, a := range answers {
				list = append(list, *a)
			}
			sort.Slice(list, func(x, y int) bool {
				if list[x].Time != list[y].Time {
					return list[x].Time < list[y].Time
				}
				return list[x].PlayerID < list[y].PlayerID
			})
			snap.QuizAnswers[i] = list
		}
	}
	if len(s.leaderboard) > 0 {
		snap.Leaderboard = s.leaderboardLocked()
	}
	return snap
}

// Public strips what players and spectators must not see before a reveal:
// the identity of unrevealed tracks, the correct quiz label and the labels
// other players picked.
func (snap Snapshot) Public() Snapshot {
	out := snap
	out.Tracks = make([]Track, len(snap.Tracks))
	for i, t := range snap.Tracks {
		if !t.Revealed {
			t = Track{Duration: t.Duration}
		}
		out.Tracks[i] = t
	}
	if snap.Quiz != nil && !snap.Quiz.Revealed {
		q := *snap.Quiz
		q.CorrectLabel = ""
		out.Quiz = &q
	}
	if snap.Quizzes != nil {
		out.Quizzes = make(map[int]QuizQuestion, len(snap.Quizzes))
		for i, q := range snap.Quizzes {
			if !q.Revealed {
				q.CorrectLabel = ""
			}
			out.Quizzes[i] = q
		}
	}
	if snap.QuizAnswers != nil {
		out.QuizAnswers = make(map[int][]QuizAnswer, len(snap.QuizAnswers))
		for i, list := range snap.QuizAnswers {
			hidden := !snap.questionRevealed(i)
			answers := make([]QuizAnswer, len(list))
			for j, a := range list {
				if hidden {
					a = QuizAnswer{PlayerID: a.PlayerID, PlayerName: a.PlayerName, Time: a.Time, SubmittedAt: a.SubmittedAt}
				}
				answers[j] = a
			}
			out.QuizAnswers[i] = answers
		}
	}
	return out
}

// Open questions only show who answered, never the label picked.
func (snap Snapshot) questionRevealed(track int) bool {
	if q, ok := snap.Quizzes[track]; ok {
		return q.Revealed
	}
	return track == snap.CurrentTrack && snap.Quiz != nil && snap.Quiz.Revealed
}

// Restore rebuilds a live session from a persisted snapshot.
func Restore(snap Snapshot, opts Options) (*Session, error) {
	code, err := NormalizeCode(snap.Code)
	if err != nil {
		return nil, err
	}
	if snap.Mode != ModeTeam && snap.Mode != ModeQuiz {
		return nil, ErrInvalidMode
	}
	s := &Session{
		code:        code,
		mode:        snap.Mode,
		source:      snap.Source,
		createdAt:   snap.CreatedAt,
		active:      snap.Active,
		started:     snap.Started,
		version:     snap.Version,
		tracks:      append([]Track(nil), snap.Tracks...),
		scores:      snap.Scores,
		players:     make(map[PlayerID]*Player, len(snap.Players)),
		buzzHistory: make(map[int][]BuzzEvent, len(snap.BuzzTimes)),
		quizzes:     make(map[int]*QuizQuestion, len(snap.Quizzes)),
		quizAnswers: make(map[int]map[PlayerID]*QuizAnswer, len(snap.QuizAnswers)),
		leaderboard: make(map[PlayerID]*LeaderboardEntry, len(snap.Leaderboard)),
		opts:        opts.withDefaults(),
	}
	if snap.CurrentTrack < 0 || (len(s.tracks) > 0 && snap.CurrentTrack >= len(s.tracks)) {
		return nil, ErrTrackIndex
	}
	s.current = snap.CurrentTrack
	s.clock.set(snap.Chrono, snap.IsPlaying && snap.Buzz == nil)

	for _, p := range snap.Players {
		p := p
		s.players[p.ID] = &p
	}
	for i, list := range snap.BuzzTimes {
		s.buzzHistory[i] = append([]BuzzEvent(nil), list...)
	}
	if snap.Buzz != nil {
		if err := s.arbiter.Lock(*snap.Buzz); err != nil {
			return nil, err
		}
	}
	for i, q := range snap.Quizzes {
		s.quizzes[i] = cloneQuestion(&q)
	}
	if snap.Quiz != nil && s.quizzes[s.current] == nil {
		s.quizzes[s.current] = cloneQuestion(snap.Quiz)
	}
	for i, list := range snap.QuizAnswers {
		m := make(map[PlayerID]*QuizAnswer, len(list))
		for _, a := range list {
			a := a
			m[a.PlayerID] = &a
		}
		s.quizAnswers[i] = m
	}
	for _, e := range snap.Leaderboard {
		e := e
		s.leaderboard[e.PlayerID] = &e
	}
	return s, nil
}
