package game

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength bounds player display names (in runes).
const MaxNameLength = 32

// Options tunes a session. Zero fields take defaults; a negative
// Cooldown.Threshold disables cooldowns.
type Options struct {
	Cooldown        CooldownPolicy
	BuzzLockTimeout time.Duration
	Now             func() time.Time
	Shuffle         func(n int, swap func(i, j int))
	NewID           func() string
}

func (o Options) withDefaults() Options {
	if o.Cooldown == (CooldownPolicy{}) {
		o.Cooldown = DefaultCooldownPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Shuffle == nil {
		o.Shuffle = rand.Shuffle
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Session is one running game. Every method takes the session lock, so
// transitions are serialised and the buzz lock is a true compare-and-swap.
type Session struct {
	mu sync.Mutex

	code      string
	mode      Mode
	source    Source
	createdAt time.Time
	active    bool
	started   bool
	version   uint64

	tracks  []Track
	current int
	clock   Clock
	scores  Scores
	players map[PlayerID]*Player

	arbiter     Arbiter
	buzzHistory map[int][]BuzzEvent

	quizzes     map[int]*QuizQuestion
	quizAnswers map[int]map[PlayerID]*QuizAnswer
	leaderboard map[PlayerID]*LeaderboardEntry

	opts Options
}

// New creates an active session.
func New(code string, mode Mode, source Source, tracks []Track, opts Options) (*Session, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	if mode != ModeTeam && mode != ModeQuiz {
		return nil, ErrInvalidMode
	}
	cloned, err := cloneTracks(tracks)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	s := &Session{
		code:        code,
		mode:        mode,
		source:      source,
		createdAt:   opts.Now(),
		active:      true,
		tracks:      cloned,
		players:     make(map[PlayerID]*Player),
		buzzHistory: make(map[int][]BuzzEvent),
		quizzes:     make(map[int]*QuizQuestion),
		quizAnswers: make(map[int]map[PlayerID]*QuizAnswer),
		leaderboard: make(map[PlayerID]*LeaderboardEntry),
		opts:        opts,
	}
	return s, nil
}

func cloneTracks(tracks []Track) ([]Track, error) {
	out := make([]Track, len(tracks))
	for i, t := range tracks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		t.Revealed = false
		out[i] = t
	}
	return out, nil
}

// Code returns the join code.
func (s *Session) Code() string { return s.code }

// Mode returns the play mode.
func (s *Session) Mode() Mode { return s.mode }

// Active reports whether the host has not ended the session yet.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) checkActive() error {
	if !s.active {
		return ErrSessionEnded
	}
	return nil
}

// SetTracks replaces the playlist. Only allowed before the first playback.
func (s *Session) SetTracks(tracks []Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	if s.started {
		return ErrAlreadyStarted
	}
	cloned, err := cloneTracks(tracks)
	if err != nil {
		return err
	}
	s.tracks = cloned
	s.current = 0
	s.clock.Reset()
	s.quizzes = make(map[int]*QuizQuestion)
	s.version++
	return nil
}

// PlayResult reports side effects of starting playback.
type PlayResult struct {
	Activated []PlayerID
	Question  *QuizQuestion
}

// Play starts or resumes the current track. Pending cooldowns are activated
// here, and in quiz mode the question of the track is opened on first play.
func (s *Session) Play() (PlayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res PlayResult
	if err := s.checkActive(); err != nil {
		return res, err
	}
	if len(s.tracks) == 0 {
		return res, ErrNoTracks
	}
	if s.arbiter.State() == ArbiterLocked {
		return res, ErrBuzzPending
	}
	if s.clock.Running() {
		return res, nil
	}
	if d := s.tracks[s.current].Duration; d > 0 && s.clock.Elapsed() >= d {
		return res, ErrTrackFinished
	}
	if s.mode == ModeQuiz && s.quizzes[s.current] == nil {
		q, err := buildQuestion(s.tracks, s.current, s.opts.Shuffle)
		if err != nil {
			return res, err
		}
		s.quizzes[s.current] = q
		res.Question = cloneQuestion(q)
	}

	now := s.opts.Now()
	for id, p := range s.players {
		if s.opts.Cooldown.Activate(p, now) {
			res.Activated = append(res.Activated, id)
		}
	}
	sort.Slice(res.Activated, func(i, j int) bool { return res.Activated[i] < res.Activated[j] })

	s.clock.Start()
	s.started = true
	s.version++
	return res, nil
}

// Pause freezes the clock. Pausing a paused track is a no-op.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	if !s.clock.Running() {
		return nil
	}
	s.clock.Freeze()
	s.version++
	return nil
}

// Next advances to the following track. A pending buzz is cancelled and returned.
func (s *Session) Next() (*BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if s.current+1 >= len(s.tracks) {
		return nil, ErrNoNextTrack
	}
	return s.goToLocked(s.current + 1)
}

// Prev goes back one track.
func (s *Session) Prev() (*BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if s.current == 0 {
		return nil, ErrNoPreviousTrack
	}
	return s.goToLocked(s.current - 1)
}

// GoTo jumps to the track at index, cancelling any pending buzz.
func (s *Session) GoTo(index int) (*BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goToLocked(index)
}

func (s *Session) goToLocked(index int) (*BuzzEvent, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.tracks) {
		return nil, ErrTrackIndex
	}
	cancelled := s.cancelPendingLocked(BuzzCancelled)
	s.current = index
	s.clock.Reset()
	s.version++
	return cancelled, nil
}

// RevealResult describes a reveal. Answers and Leaderboard are set in quiz mode.
type RevealResult struct {
	TrackIndex  int
	Track       Track
	Question    *QuizQuestion
	Answers     []QuizAnswer
	Leaderboard []LeaderboardEntry
	Cancelled   *BuzzEvent
	Auto        bool
}

// Reveal discloses the current track. In quiz mode it also scores every
// submission and adds the result to the leaderboard.
func (s *Session) Reveal() (RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return RevealResult{}, err
	}
	if len(s.tracks) == 0 {
		return RevealResult{}, ErrNoTracks
	}
	return s.revealLocked(false)
}

func (s *Session) revealLocked(auto bool) (RevealResult, error) {
	res := RevealResult{TrackIndex: s.current, Auto: auto}
	switch s.mode {
	case ModeQuiz:
		q := s.quizzes[s.current]
		if q == nil {
			return res, ErrNoQuestion
		}
		if q.Revealed {
			return res, ErrAlreadyRevealed
		}
		for _, a := range scoreAnswers(q, s.quizAnswers[s.current]) {
			e := s.leaderboardEntryLocked(a.PlayerID, a.PlayerName)
			if a.Correct != nil && *a.Correct {
				e.TotalPoints += a.Points
				e.CorrectAnswers++
			}
			res.Answers = append(res.Answers, *a)
		}
		q.Revealed = true
		res.Question = cloneQuestion(q)
		res.Leaderboard = s.leaderboardLocked()
	default:
		if s.tracks[s.current].Revealed {
			return res, ErrAlreadyRevealed
		}
		res.Cancelled = s.cancelPendingLocked(BuzzCancelled)
	}
	s.tracks[s.current].Revealed = true
	s.clock.Freeze()
	s.version++
	res.Track = s.tracks[s.current]
	return res, nil
}

func (s *Session) leaderboardEntryLocked(id PlayerID, name string) *LeaderboardEntry {
	e, ok := s.leaderboard[id]
	if !ok {
		e = &LeaderboardEntry{PlayerID: id, Name: name}
		s.leaderboard[id] = e
	}
	if p, ok := s.players[id]; ok {
		e.Name = p.Name
	}
	return e
}

// Buzz is the arbiter trigger. The first accepted buzz pauses playback and
// freezes the clock; every later trigger loses until the host resolves it.
func (s *Session) Buzz(id PlayerID) (BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return BuzzEvent{}, err
	}
	if s.mode != ModeTeam {
		return BuzzEvent{}, ErrWrongMode
	}
	p, ok := s.players[id]
	if !ok {
		return BuzzEvent{}, ErrUnknownPlayer
	}
	now := s.opts.Now()
	if p.CooldownActive(now) {
		return BuzzEvent{}, ErrCooldownActive
	}
	if s.arbiter.State() == ArbiterLocked {
		return BuzzEvent{}, ErrBuzzPending
	}
	if !s.clock.Running() {
		return BuzzEvent{}, ErrNotPlaying
	}

	elapsed := s.clock.Elapsed()
	ev := BuzzEvent{
		ID:              s.opts.NewID(),
		Team:            p.Team,
		PlayerID:        p.ID,
		PlayerName:      p.Name,
		TrackIndex:      s.current,
		Time:            elapsed,
		AvailablePoints: Points(elapsed, s.tracks[s.current].Duration),
		At:              now,
	}
	if err := s.arbiter.Lock(ev); err != nil {
		return BuzzEvent{}, err
	}
	s.clock.Freeze()
	p.BuzzCount++
	locked := s.arbiter.Pending()
	s.recordBuzzLocked(*locked)
	s.version++
	return *locked, nil
}

// Judge resolves the pending buzz. A correct answer awards the points fixed
// at buzz time to the buzzing team.
func (s *Session) Judge(correct bool) (BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return BuzzEvent{}, err
	}
	pending := s.arbiter.Pending()
	if pending == nil {
		return BuzzEvent{}, ErrNoPendingBuzz
	}
	p := s.players[pending.PlayerID]

	var ev BuzzEvent
	if correct {
		ev, _ = s.arbiter.Resolve(BuzzCorrect, pending.AvailablePoints)
		s.scores.Add(ev.Team, ev.Points)
		if p != nil {
			s.opts.Cooldown.OnCorrect(p)
		}
		if ev.TrackIndex < len(s.tracks) {
			s.tracks[ev.TrackIndex].Revealed = true
		}
	} else {
		ev, _ = s.arbiter.Resolve(BuzzWrong, 0)
		if p != nil {
			s.opts.Cooldown.OnWrong(p)
		}
	}
	s.recordBuzzLocked(ev)
	s.version++
	return ev, nil
}

// CancelBuzz drops the pending buzz without scoring it.
func (s *Session) CancelBuzz() (BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return BuzzEvent{}, err
	}
	ev := s.cancelPendingLocked(BuzzCancelled)
	if ev == nil {
		return BuzzEvent{}, ErrNoPendingBuzz
	}
	return *ev, nil
}

func (s *Session) cancelPendingLocked(outcome BuzzOutcome) *BuzzEvent {
	ev, err := s.arbiter.Resolve(outcome, 0)
	if err != nil {
		return nil
	}
	s.recordBuzzLocked(ev)
	s.version++
	return &ev
}

func (s *Session) recordBuzzLocked(ev BuzzEvent) {
	list := s.buzzHistory[ev.TrackIndex]
	for i := range list {
		if list[i].ID == ev.ID {
			list[i] = ev
			return
		}
	}
	s.buzzHistory[ev.TrackIndex] = append(list, ev)
}

// AdjustScore applies a manual correction to a team score.
func (s *Session) AdjustScore(team TeamID, delta int) (Scores, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return s.scores, err
	}
	if s.mode != ModeTeam {
		return s.scores, ErrWrongMode
	}
	if !team.Valid() {
		return s.scores, ErrInvalidTeam
	}
	s.scores.Add(team, delta)
	s.version++
	return s.scores, nil
}

// End marks the session inactive. History is retained.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return err
	}
	s.cancelPendingLocked(BuzzCancelled)
	s.clock.Freeze()
	s.active = false
	s.version++
	return nil
}

// JoinRequest carries a join. ID is optional: a known ID rejoins, an unknown
// one recreates the record with default counters.
type JoinRequest struct {
	ID       PlayerID
	Name     string
	Team     TeamID
	PhotoURL string
}

// Join adds a player (or reconnects an existing one).
func (s *Session) Join(req JoinRequest) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return Player{}, err
	}
	name := cleanName(req.Name)
	if req.ID != "" {
		if p, ok := s.players[req.ID]; ok {
			p.Connected = true
			if name != "" {
				p.Name = name
			}
			if req.PhotoURL != "" {
				p.PhotoURL = req.PhotoURL
			}
			s.version++
			return *p, nil
		}
	}

	team := req.Team
	if s.mode == ModeTeam {
		if !team.Valid() {
			return Player{}, ErrInvalidTeam
		}
	} else {
		team = TeamNone
	}
	if name == "" {
		return Player{}, ErrInvalidName
	}
	id := req.ID
	if id == "" {
		id = PlayerID(s.opts.NewID())
	}
	p := &Player{
		ID:        id,
		Name:      name,
		PhotoURL:  req.PhotoURL,
		Team:      team,
		Connected: true,
		JoinedAt:  s.opts.Now(),
	}
	s.players[id] = p
	s.version++
	return *p, nil
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name
}

// ChangeTeam moves a player. The old record is dropped and a fresh one with
// default counters is created under the same ID.
func (s *Session) ChangeTeam(id PlayerID, team TeamID) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return Player{}, err
	}
	if s.mode != ModeTeam {
		return Player{}, ErrWrongMode
	}
	if !team.Valid() {
		return Player{}, ErrInvalidTeam
	}
	old, ok := s.players[id]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	if old.Team == team {
		return *old, nil
	}
	p := &Player{
		ID:        id,
		Name:      old.Name,
		PhotoURL:  old.PhotoURL,
		Team:      team,
		Connected: old.Connected,
		JoinedAt:  s.opts.Now(),
	}
	s.players[id] = p
	s.version++
	return *p, nil
}

// SetPhoto records the photo URL of a player.
func (s *Session) SetPhoto(id PlayerID, url string) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return Player{}, err
	}
	p, ok := s.players[id]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	p.PhotoURL = url
	s.version++
	return *p, nil
}

// SetConnected tracks player presence. A disconnect may complete the set of
// quiz answers and trigger an auto-reveal, which is returned.
func (s *Session) SetConnected(id PlayerID, connected bool) (*RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if p.Connected == connected {
		return nil, nil
	}
	p.Connected = connected
	s.version++
	if !s.active || connected {
		return nil, nil
	}
	return s.maybeAutoRevealLocked(), nil
}

// ConnectedPlayers counts players with a live client.
func (s *Session) ConnectedPlayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedLocked()
}

func (s *Session) connectedLocked() int {
	n := 0
	for _, p := range s.players {
		if p.Connected {
			n++
		}
	}
	return n
}

// SubmitAnswer records a quiz answer; the first submission per player and
// track wins. When every connected player has answered the question is
// revealed automatically and the reveal is returned.
func (s *Session) SubmitAnswer(id PlayerID, label string) (QuizAnswer, *RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive(); err != nil {
		return QuizAnswer{}, nil, err
	}
	if s.mode != ModeQuiz {
		return QuizAnswer{}, nil, ErrWrongMode
	}
	label = strings.ToUpper(strings.TrimSpace(label))
	if !ValidLabel(label) {
		return QuizAnswer{}, nil, ErrInvalidLabel
	}
	p, ok := s.players[id]
	if !ok {
		return QuizAnswer{}, nil, ErrUnknownPlayer
	}
	q := s.quizzes[s.current]
	if q == nil {
		return QuizAnswer{}, nil, ErrNoQuestion
	}
	if q.Revealed {
		return QuizAnswer{}, nil, ErrAlreadyRevealed
	}
	answers := s.quizAnswers[s.current]
	if answers == nil {
		answers = make(map[PlayerID]*QuizAnswer)
		s.quizAnswers[s.current] = answers
	}
	if _, dup := answers[id]; dup {
		return QuizAnswer{}, nil, ErrAlreadyAnswered
	}
	a := &QuizAnswer{
		PlayerID:    id,
		PlayerName:  p.Name,
		Label:       label,
		Time:        s.clock.Elapsed(),
		SubmittedAt: s.opts.Now(),
	}
	answers[id] = a
	s.version++

	rev := s.maybeAutoRevealLocked()
	return *a, rev, nil
}

func (s *Session) maybeAutoRevealLocked() *RevealResult {
	if s.mode != ModeQuiz {
		return nil
	}
	q := s.quizzes[s.current]
	if q == nil || q.Revealed {
		return nil
	}
	connected := s.connectedLocked()
	if connected == 0 || len(s.quizAnswers[s.current]) < connected {
		return nil
	}
	res, err := s.revealLocked(true)
	if err != nil {
		return nil
	}
	return &res
}

// TickResult is the outcome of one clock tick.
type TickResult struct {
	Advanced        bool
	Chrono          float64
	PointsAvailable int
	TrackEnded      bool
	Expired         *BuzzEvent
}

// Tick advances the clock by one tenth while playing, ends the track at its
// duration and expires a buzz lock held longer than the lock timeout.
func (s *Session) Tick() TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res TickResult
	if s.arbiter.Stale(s.opts.Now(), s.opts.BuzzLockTimeout) {
		res.Expired = s.cancelPendingLocked(BuzzExpired)
	}
	if s.active && len(s.tracks) > 0 && s.clock.Tick() {
		res.Advanced = true
		if d := s.tracks[s.current].Duration; d > 0 && s.clock.Elapsed() >= d {
			s.clock.Freeze()
			res.TrackEnded = true
			s.version++
		}
	}
	res.Chrono = s.clock.Elapsed()
	res.PointsAvailable = s.pointsLocked()
	return res
}

func (s *Session) pointsLocked() int {
	if len(s.tracks) == 0 {
		return 0
	}
	return Points(s.clock.Elapsed(), s.tracks[s.current].Duration)
}

// PlayerView is what a buzzer client needs about itself.
type PlayerView struct {
	Player
	CooldownRemainingMs int64 `json:"cooldownRemainingMs"`
	CanBuzz             bool  `json:"canBuzz"`
	Answered            bool  `json:"answered"`
}

// PlayerView returns the view of one player.
func (s *Session) PlayerView(id PlayerID) (PlayerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return PlayerView{}, ErrUnknownPlayer
	}
	now := s.opts.Now()
	v := PlayerView{Player: *p, CooldownRemainingMs: p.CooldownRemaining(now).Milliseconds()}
	v.CanBuzz = s.active && s.mode == ModeTeam && s.clock.Running() &&
		s.arbiter.State() == ArbiterIdle && !p.CooldownActive(now)
	_, v.Answered = s.quizAnswers[s.current][id]
	return v, nil
}

func cloneQuestion(q *QuizQuestion) *QuizQuestion {
	if q == nil {
		return nil
	}
	c := *q
	c.Choices = append([]Choice(nil), q.Choices...)
	return &c
}

func (s *Session) leaderboardLocked() []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}
