// Package sessions runs the live games: it owns the in-memory sessions,
// persists every transition and pushes the result to the WebSocket rooms.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blindtest-party/backend/internal/chrono"
	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/metrics"
	"github.com/blindtest-party/backend/internal/realtime"
	"github.com/blindtest-party/backend/pkg/queue"
)

// Server events.
const (
	EventState          = "state"
	EventPlayer         = "player"
	EventChrono         = "chrono"
	EventBuzz           = "buzz"
	EventBuzzRejected   = "buzz_rejected"
	EventBuzzResolved   = "buzz_resolved"
	EventAnswerAccepted = "answer_accepted"
	EventQuizRevealed   = "quiz_revealed"
	EventSessionEnded   = "session_ended"
	EventError          = "error"
)

const (
	maxCodeAttempts = 10
	persistTimeout  = 5 * time.Second
)

// ErrCodeExhausted means no free join code was found.
var ErrCodeExhausted = errors.New("could not allocate a free session code")

// Broadcaster is the room side of the manager, implemented by *realtime.Hub.
type Broadcaster interface {
	Broadcast(code, event string, payload interface{}, roles ...realtime.Role)
	BroadcastAndPublish(code, event string, payload interface{}, roles ...realtime.Role)
	SendToPlayer(code, playerID, event string, payload interface{})
	PlayerIDs(code string) []string
}

// JobQueue receives the end-of-game jobs.
type JobQueue interface {
	EnqueueGameEnded(ctx context.Context, payload queue.GameEndedPayload) error
}

// Config tunes the manager.
type Config struct {
	// Game is the template of every session's options.
	Game         game.Options
	TickInterval time.Duration
	NewCode      func() string
}

// Manager owns the live sessions of this instance.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session

	store   Store
	hub     Broadcaster
	jobs    JobQueue
	metrics metrics.Recorder
	clocks  *chrono.Registry
	opts    game.Options
	newCode func() string
	logger  *zap.Logger
}

// NewManager creates a manager. jobs may be nil.
func NewManager(cfg Config, store Store, hub Broadcaster, jobs JobQueue, rec metrics.Recorder, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.NoOp{}
	}
	if cfg.NewCode == nil {
		cfg.NewCode = game.NewCode
	}
	m := &Manager{
		sessions: make(map[string]*game.Session),
		store:    store,
		hub:      hub,
		jobs:     jobs,
		metrics:  rec,
		opts:     cfg.Game,
		newCode:  cfg.NewCode,
		logger:   logger,
	}
	m.clocks = chrono.NewRegistry(cfg.TickInterval, m.onTick, logger)
	return m
}

// CreateRequest describes a new game.
type CreateRequest struct {
	Mode   game.Mode
	Source game.Source
	Tracks []game.Track
}

// Create starts a session under a fresh join code.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (game.Snapshot, error) {
	code, err := m.allocateCode(ctx)
	if err != nil {
		return game.Snapshot{}, err
	}
	s, err := game.New(code, req.Mode, req.Source, req.Tracks, m.opts)
	if err != nil {
		return game.Snapshot{}, err
	}

	m.mu.Lock()
	if _, taken := m.sessions[code]; taken {
		m.mu.Unlock()
		return game.Snapshot{}, ErrCodeExhausted
	}
	m.sessions[code] = s
	live := len(m.sessions)
	m.mu.Unlock()

	m.clocks.Start(code, s)
	m.metrics.SessionCreated(string(req.Mode))
	m.metrics.SetLiveSessions(live)
	snap := s.Snapshot()
	m.save(ctx, snap, "create")
	m.logger.Info("session created",
		zap.String("session_code", code),
		zap.String("mode", string(req.Mode)),
		zap.Int("tracks", len(req.Tracks)),
	)
	return snap, nil
}

func (m *Manager) allocateCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := m.newCode()
		m.mu.RLock()
		_, live := m.sessions[code]
		m.mu.RUnlock()
		if live {
			continue
		}
		used, err := m.store.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check session code: %w", err)
		}
		if !used {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// Restore loads the active sessions of the store, e.g. after a restart.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	snaps, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	n := 0
	for _, snap := range snaps {
		// Nobody is connected right after a restart.
		for i := range snap.Players {
			snap.Players[i].Connected = false
		}
		s, err := game.Restore(snap, m.opts)
		if err != nil {
			m.logger.Warn("skip unrestorable session", zap.String("session_code", snap.Code), zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.sessions[s.Code()] = s
		m.mu.Unlock()
		m.clocks.Start(s.Code(), s)
		n++
	}
	m.metrics.SetLiveSessions(m.Live())
	return n, nil
}

// Shutdown stops every session clock.
func (m *Manager) Shutdown() {
	m.clocks.StopAll()
}

// Live returns the number of sessions held in memory.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns the live session of code.
func (m *Manager) Get(code string) (*game.Session, error) {
	code, err := game.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	s := m.sessions[code]
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// Snapshot returns the full view of a live or archived session.
func (m *Manager) Snapshot(ctx context.Context, code string) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err == nil {
		return s.Snapshot(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return game.Snapshot{}, err
	}
	code, _ = game.NormalizeCode(code)
	return m.store.Load(ctx, code)
}

// PlayerView returns what a buzzer shows about its own player.
func (m *Manager) PlayerView(code string, id game.PlayerID) (game.PlayerView, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.PlayerView{}, err
	}
	return s.PlayerView(id)
}

// SetPlaylist replaces the tracks of a session that has not started.
func (m *Manager) SetPlaylist(ctx context.Context, code string, tracks []game.Track) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Snapshot{}, err
	}
	if err := s.SetTracks(tracks); err != nil {
		return game.Snapshot{}, err
	}
	return m.commit(ctx, s, "playlist"), nil
}

// Play starts or resumes the current track.
func (m *Manager) Play(ctx context.Context, code string) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Snapshot{}, err
	}
	res, err := s.Play()
	if err != nil {
		return game.Snapshot{}, err
	}
	if len(res.Activated) > 0 {
		m.logger.Debug("cooldowns activated", zap.String("session_code", s.Code()), zap.Int("players", len(res.Activated)))
	}
	return m.commit(ctx, s, "play"), nil
}

// Pause freezes the current track.
func (m *Manager) Pause(ctx context.Context, code string) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Snapshot{}, err
	}
	if err := s.Pause(); err != nil {
		return game.Snapshot{}, err
	}
	return m.commit(ctx, s, "pause"), nil
}

// Next moves to the following track.
func (m *Manager) Next(ctx context.Context, code string) (game.Snapshot, error) {
	return m.move(ctx, code, "next", (*game.Session).Next)
}

// Prev moves back one track.
func (m *Manager) Prev(ctx context.Context, code string) (game.Snapshot, error) {
	return m.move(ctx, code, "prev", (*game.Session).Prev)
}

// GoTo jumps to the track at index.
func (m *Manager) GoTo(ctx context.Context, code string, index int) (game.Snapshot, error) {
	return m.move(ctx, code, "goto", func(s *game.Session) (*game.BuzzEvent, error) {
		return s.GoTo(index)
	})
}

func (m *Manager) move(ctx context.Context, code, op string, fn func(*game.Session) (*game.BuzzEvent, error)) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Snapshot{}, err
	}
	cancelled, err := fn(s)
	if err != nil {
		return game.Snapshot{}, err
	}
	if cancelled != nil {
		m.resolved(ctx, s, *cancelled)
	}
	return m.commit(ctx, s, op), nil
}

// Reveal discloses the current track (and scores the quiz answers).
func (m *Manager) Reveal(ctx context.Context, code string) (game.RevealResult, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.RevealResult{}, err
	}
	res, err := s.Reveal()
	if err != nil {
		return game.RevealResult{}, err
	}
	m.revealed(ctx, s, res)
	return res, nil
}

// Judge resolves the pending buzz.
func (m *Manager) Judge(ctx context.Context, code string, correct bool) (game.BuzzEvent, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.BuzzEvent{}, err
	}
	ev, err := s.Judge(correct)
	if err != nil {
		return game.BuzzEvent{}, err
	}
	m.resolved(ctx, s, ev)
	m.commit(ctx, s, "judge")
	return ev, nil
}

// CancelBuzz drops the pending buzz without scoring it.
func (m *Manager) CancelBuzz(ctx context.Context, code string) (game.BuzzEvent, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.BuzzEvent{}, err
	}
	ev, err := s.CancelBuzz()
	if err != nil {
		return game.BuzzEvent{}, err
	}
	m.resolved(ctx, s, ev)
	m.commit(ctx, s, "cancel_buzz")
	return ev, nil
}

// AdjustScore applies a manual score correction.
func (m *Manager) AdjustScore(ctx context.Context, code string, team game.TeamID, delta int) (game.Scores, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Scores{}, err
	}
	scores, err := s.AdjustScore(team, delta)
	if err != nil {
		return scores, err
	}
	m.commit(ctx, s, "scores")
	return scores, nil
}

// End finishes a session: the final state is archived, the clock stops and
// a game_ended job is queued.
func (m *Manager) End(ctx context.Context, code string) (game.Snapshot, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Snapshot{}, err
	}
	if err := s.End(); err != nil {
		return game.Snapshot{}, err
	}
	code = s.Code()

	m.mu.Lock()
	delete(m.sessions, code)
	live := len(m.sessions)
	m.mu.Unlock()
	m.clocks.Stop(code)

	snap := m.commit(ctx, s, "end")
	endedAt := time.Now()
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := m.store.MarkEnded(pctx, code, endedAt); err != nil {
		m.persistFailed("end", code, err)
	}
	m.hub.BroadcastAndPublish(code, EventSessionEnded, fields{"code": code, "endedAt": endedAt})
	if m.jobs != nil {
		payload := queue.GameEndedPayload{SessionCode: code, Mode: string(snap.Mode), EndedAt: endedAt}
		if err := m.jobs.EnqueueGameEnded(pctx, payload); err != nil {
			m.logger.Error("enqueue game_ended", zap.String("session_code", code), zap.Error(err))
		}
	}
	m.metrics.SessionEnded(string(snap.Mode))
	m.metrics.SetLiveSessions(live)
	m.logger.Info("session ended", zap.String("session_code", code))
	return snap, nil
}

// Join adds or reconnects a player.
func (m *Manager) Join(ctx context.Context, code string, req game.JoinRequest) (game.Player, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Player{}, err
	}
	p, err := s.Join(req)
	if err != nil {
		return game.Player{}, err
	}
	m.commit(ctx, s, "join")
	m.logger.Debug("player joined", zap.String("session_code", s.Code()), zap.String("player_id", string(p.ID)))
	return p, nil
}

// ChangeTeam moves a player to the other team.
func (m *Manager) ChangeTeam(ctx context.Context, code string, id game.PlayerID, team game.TeamID) (game.Player, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Player{}, err
	}
	p, err := s.ChangeTeam(id, team)
	if err != nil {
		return game.Player{}, err
	}
	m.commit(ctx, s, "change_team")
	return p, nil
}

// SetPhoto stores the photo URL of a player.
func (m *Manager) SetPhoto(ctx context.Context, code string, id game.PlayerID, url string) (game.Player, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.Player{}, err
	}
	p, err := s.SetPhoto(id, url)
	if err != nil {
		return game.Player{}, err
	}
	m.commit(ctx, s, "photo")
	return p, nil
}

// Buzz runs the arbiter for one player. Only a cooldown rejection is
// reported back to the player; race losers get nothing.
func (m *Manager) Buzz(ctx context.Context, code string, id game.PlayerID) (game.BuzzEvent, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.BuzzEvent{}, err
	}
	ev, err := s.Buzz(id)
	if err != nil {
		m.metrics.BuzzRejected(rejectReason(err))
		if errors.Is(err, game.ErrCooldownActive) {
			payload := fields{"reason": "cooldown"}
			if v, verr := s.PlayerView(id); verr == nil {
				payload["cooldownRemainingMs"] = v.CooldownRemainingMs
			}
			m.hub.SendToPlayer(s.Code(), string(id), EventBuzzRejected, payload)
		}
		return game.BuzzEvent{}, err
	}
	m.metrics.BuzzAccepted()
	m.appendBuzz(ctx, s.Code(), ev)
	m.hub.BroadcastAndPublish(s.Code(), EventBuzz, ev)
	m.commit(ctx, s, "buzz")
	m.logger.Debug("buzz accepted",
		zap.String("session_code", s.Code()),
		zap.String("player_id", string(id)),
		zap.Float64("time", ev.Time),
		zap.Int("points", ev.AvailablePoints),
	)
	return ev, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, game.ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, game.ErrBuzzPending):
		return "pending"
	case errors.Is(err, game.ErrNotPlaying):
		return "not_playing"
	}
	return "invalid"
}

// SubmitAnswer records a quiz answer and reveals the track if everybody answered.
func (m *Manager) SubmitAnswer(ctx context.Context, code string, id game.PlayerID, label string) (game.QuizAnswer, error) {
	s, err := m.Get(code)
	if err != nil {
		return game.QuizAnswer{}, err
	}
	a, rev, err := s.SubmitAnswer(id, label)
	if err != nil {
		return game.QuizAnswer{}, err
	}
	m.hub.SendToPlayer(s.Code(), string(id), EventAnswerAccepted, fields{"label": a.Label, "time": a.Time})
	if rev != nil {
		m.revealed(ctx, s, *rev)
	} else {
		m.commit(ctx, s, "answer")
	}
	return a, nil
}

// OnPresence tracks player connections. It is the hub presence handler.
func (m *Manager) OnPresence(code, playerID string, connected bool) {
	s, err := m.Get(code)
	if err != nil {
		return
	}
	rev, err := s.SetConnected(game.PlayerID(playerID), connected)
	if err != nil {
		m.logger.Debug("presence for unknown player", zap.String("session_code", code), zap.String("player_id", playerID))
		return
	}
	ctx := context.Background()
	if rev != nil {
		m.revealed(ctx, s, *rev)
		return
	}
	m.commit(ctx, s, "presence")
}

func (m *Manager) onTick(code string, res game.TickResult) {
	s, err := m.Get(code)
	if err != nil {
		return
	}
	ctx := context.Background()
	if res.Expired != nil {
		m.logger.Info("buzz lock expired", zap.String("session_code", code), zap.String("player_id", string(res.Expired.PlayerID)))
		m.resolved(ctx, s, *res.Expired)
	}
	if res.Expired != nil || res.TrackEnded {
		m.commit(ctx, s, "tick")
		return
	}
	if res.Advanced {
		m.hub.BroadcastAndPublish(code, EventChrono, fields{"chrono": res.Chrono, "pointsAvailable": res.PointsAvailable})
	}
}

func (m *Manager) revealed(ctx context.Context, s *game.Session, res game.RevealResult) {
	code := s.Code()
	if res.Cancelled != nil {
		m.resolved(ctx, s, *res.Cancelled)
	}
	if res.Question != nil {
		for _, a := range res.Answers {
			m.metrics.QuizAnswer(a.Correct != nil && *a.Correct)
		}
		pctx, cancel := persistContext(ctx)
		if err := m.store.UpsertLeaderboard(pctx, code, res.Leaderboard); err != nil {
			m.persistFailed("leaderboard", code, err)
		}
		cancel()
		m.hub.BroadcastAndPublish(code, EventQuizRevealed, fields{
			"trackIndex":  res.TrackIndex,
			"track":       res.Track,
			"question":    res.Question,
			"answers":     res.Answers,
			"leaderboard": res.Leaderboard,
			"auto":        res.Auto,
		})
	}
	m.commit(ctx, s, "reveal")
}

func (m *Manager) resolved(ctx context.Context, s *game.Session, ev game.BuzzEvent) {
	m.metrics.BuzzResolved(string(ev.Outcome))
	m.appendBuzz(ctx, s.Code(), ev)
	m.hub.BroadcastAndPublish(s.Code(), EventBuzzResolved, ev)
}

// commit persists the session and pushes the new state to its room.
func (m *Manager) commit(ctx context.Context, s *game.Session, op string) game.Snapshot {
	snap := s.Snapshot()
	m.save(ctx, snap, op)
	m.broadcastState(s, snap)
	return snap
}

func (m *Manager) save(ctx context.Context, snap game.Snapshot, op string) {
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := m.store.Save(pctx, snap); err != nil {
		m.persistFailed(op, snap.Code, err)
	}
}

func (m *Manager) appendBuzz(ctx context.Context, code string, ev game.BuzzEvent) {
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := m.store.AppendBuzz(pctx, code, ev); err != nil {
		m.persistFailed("buzz_history", code, err)
	}
}

func (m *Manager) persistFailed(op, code string, err error) {
	m.metrics.PersistFailed(op)
	m.logger.Error("persist session", zap.String("op", op), zap.String("session_code", code), zap.Error(err))
}

func (m *Manager) broadcastState(s *game.Session, snap game.Snapshot) {
	m.hub.Broadcast(snap.Code, EventState, snap, realtime.RoleHost)
	m.hub.BroadcastAndPublish(snap.Code, EventState, snap.Public(), realtime.RolePlayer, realtime.RoleSpectator)
	for _, id := range m.hub.PlayerIDs(snap.Code) {
		if v, err := s.PlayerView(game.PlayerID(id)); err == nil {
			m.hub.SendToPlayer(snap.Code, id, EventPlayer, v)
		}
	}
}

// persistContext detaches store writes from the caller so a closed request
// does not drop them.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

type fields = map[string]interface{}
