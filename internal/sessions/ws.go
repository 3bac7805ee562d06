package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/blindtest-party/backend/internal/auth"
	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/realtime"
)

// Client commands.
const (
	CommandSync       = "sync"
	CommandBuzz       = "buzz"
	CommandQuizAnswer = "quiz_answer"
	CommandPlay       = "play"
	CommandPause      = "pause"
	CommandNext       = "next"
	CommandPrev       = "prev"
	CommandReveal     = "reveal"
	CommandJudge      = "judge"
	CommandCancelBuzz = "cancel_buzz"
)

var (
	errForbiddenCommand = errors.New("command not allowed for this connection")
	errUnknownCommand   = errors.New("unknown command")
	errWrongSession     = errors.New("token is not valid for this session")
	errInvalidCommand   = errors.New("invalid command data")
)

// TokenValidator validates session tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Authenticator returns the WebSocket authenticator of this manager.
// Tokenless connections are spectators of a live session.
func (m *Manager) Authenticator(tokens TokenValidator) realtime.Authenticator {
	return func(code, token string) (realtime.Identity, error) {
		s, err := m.Get(code)
		if err != nil {
			return realtime.Identity{}, err
		}
		if token == "" {
			return realtime.Identity{Role: realtime.RoleSpectator}, nil
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		if !strings.EqualFold(claims.SessionCode, s.Code()) {
			return realtime.Identity{}, errWrongSession
		}
		if claims.Role == auth.RoleHost {
			return realtime.Identity{Role: realtime.RoleHost}, nil
		}
		if _, err := s.PlayerView(game.PlayerID(claims.PlayerID)); err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{Role: realtime.RolePlayer, PlayerID: claims.PlayerID}, nil
	}
}

// conn is the reply side of a WebSocket client.
type conn interface {
	Send(event string, payload interface{})
}

// HandleCommand dispatches one client message. It is the hub command handler.
func (m *Manager) HandleCommand(c *realtime.Client, msg realtime.WSMessage) {
	m.dispatch(c, c.SessionCode, realtime.Identity{Role: c.Role, PlayerID: c.PlayerID}, msg)
}

type answerCommand struct {
	Label string `json:"label"`
}

type judgeCommand struct {
	Correct bool `json:"correct"`
}

func (m *Manager) dispatch(c conn, code string, id realtime.Identity, msg realtime.WSMessage) {
	ctx := context.Background()
	var err error
	switch msg.Event {
	case CommandSync:
		err = m.sync(c, code, id)
	case CommandBuzz:
		if id.Role != realtime.RolePlayer {
			err = errForbiddenCommand
			break
		}
		// Rejections already reached the player (or are silent).
		_, _ = m.Buzz(ctx, code, game.PlayerID(id.PlayerID))
		return
	case CommandQuizAnswer:
		if id.Role != realtime.RolePlayer {
			err = errForbiddenCommand
			break
		}
		var cmd answerCommand
		if err = decode(msg.Data, &cmd); err == nil {
			_, err = m.SubmitAnswer(ctx, code, game.PlayerID(id.PlayerID), cmd.Label)
		}
	case CommandPlay, CommandPause, CommandNext, CommandPrev, CommandReveal, CommandJudge, CommandCancelBuzz:
		if id.Role != realtime.RoleHost {
			err = errForbiddenCommand
			break
		}
		err = m.hostCommand(ctx, code, msg)
	default:
		err = errUnknownCommand
	}
	if err != nil {
		_, errCode := classify(err)
		c.Send(EventError, fields{"command": msg.Event, "code": errCode, "error": err.Error()})
		m.logger.Debug("command rejected",
			zap.String("session_code", code),
			zap.String("command", msg.Event),
			zap.Error(err),
		)
	}
}

func (m *Manager) hostCommand(ctx context.Context, code string, msg realtime.WSMessage) error {
	var err error
	switch msg.Event {
	case CommandPlay:
		_, err = m.Play(ctx, code)
	case CommandPause:
		_, err = m.Pause(ctx, code)
	case CommandNext:
		_, err = m.Next(ctx, code)
	case CommandPrev:
		_, err = m.Prev(ctx, code)
	case CommandReveal:
		_, err = m.Reveal(ctx, code)
	case CommandJudge:
		var cmd judgeCommand
		if err = decode(msg.Data, &cmd); err == nil {
			_, err = m.Judge(ctx, code, cmd.Correct)
		}
	case CommandCancelBuzz:
		_, err = m.CancelBuzz(ctx, code)
	}
	return err
}

func (m *Manager) sync(c conn, code string, id realtime.Identity) error {
	s, err := m.Get(code)
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	if id.Role == realtime.RoleHost {
		c.Send(EventState, snap)
		return nil
	}
	c.Send(EventState, snap.Public())
	if id.Role == realtime.RolePlayer {
		v, err := s.PlayerView(game.PlayerID(id.PlayerID))
		if err != nil {
			return err
		}
		c.Send(EventPlayer, v)
	}
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errInvalidCommand
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidCommand, err)
	}
	return nil
}
