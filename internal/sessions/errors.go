package sessions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/pkg/response"
)

type errorKind struct {
	err    error
	status int
	code   string
}

var errorKinds = []errorKind{
	{ErrNotFound, http.StatusNotFound, "session_not_found"},
	{game.ErrUnknownPlayer, http.StatusNotFound, "unknown_player"},
	{game.ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	{game.ErrInvalidMode, http.StatusBadRequest, "invalid_mode"},
	{game.ErrInvalidTeam, http.StatusBadRequest, "invalid_team"},
	{game.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{game.ErrInvalidLabel, http.StatusBadRequest, "invalid_label"},
	{game.ErrInvalidTrack, http.StatusBadRequest, "invalid_track"},
	{game.ErrNotEnoughTracks, http.StatusBadRequest, "not_enough_tracks"},
	{game.ErrCooldownActive, http.StatusTooManyRequests, "cooldown_active"},
	{game.ErrSessionEnded, http.StatusConflict, "session_ended"},
	{game.ErrNoTracks, http.StatusConflict, "no_tracks"},
	{game.ErrTrackIndex, http.StatusConflict, "track_index"},
	{game.ErrNoNextTrack, http.StatusConflict, "no_next_track"},
	{game.ErrNoPreviousTrack, http.StatusConflict, "no_previous_track"},
	{game.ErrTrackFinished, http.StatusConflict, "track_finished"},
	{game.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{game.ErrNotPlaying, http.StatusConflict, "not_playing"},
	{game.ErrBuzzPending, http.StatusConflict, "buzz_pending"},
	{game.ErrNoPendingBuzz, http.StatusConflict, "no_pending_buzz"},
	{game.ErrWrongMode, http.StatusConflict, "wrong_mode"},
	{game.ErrNoQuestion, http.StatusConflict, "no_question"},
	{game.ErrAlreadyRevealed, http.StatusConflict, "already_revealed"},
	{game.ErrAlreadyAnswered, http.StatusConflict, "already_answered"},
	{ErrCodeExhausted, http.StatusServiceUnavailable, "code_exhausted"},
	{errForbiddenCommand, http.StatusForbidden, "forbidden"},
	{errWrongSession, http.StatusForbidden, "wrong_session"},
	{errUnknownCommand, http.StatusBadRequest, "unknown_command"},
	{errInvalidCommand, http.StatusBadRequest, "invalid_command"},
}

// classify maps an error onto an HTTP status and a machine-readable code.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		response.Fail(c, status, code, "internal error")
		return
	}
	response.Fail(c, status, code, err.Error())
}
