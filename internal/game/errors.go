package game

import "errors"

var (
	ErrInvalidCode      = errors.New("invalid session code")
	ErrInvalidMode      = errors.New("invalid play mode")
	ErrInvalidTeam      = errors.New("invalid team")
	ErrInvalidName      = errors.New("player name required")
	ErrInvalidLabel     = errors.New("answer must be A, B, C or D")
	ErrInvalidTrack     = errors.New("invalid track")
	ErrSessionEnded     = errors.New("session has ended")
	ErrNoTracks         = errors.New("playlist is empty")
	ErrTrackIndex       = errors.New("track index out of range")
	ErrNoNextTrack      = errors.New("already at last track")
	ErrNoPreviousTrack  = errors.New("already at first track")
	ErrTrackFinished    = errors.New("track has finished playing")
	ErrAlreadyStarted   = errors.New("playlist cannot change after playback started")
	ErrNotPlaying       = errors.New("track is not playing")
	ErrBuzzPending      = errors.New("a buzz is already pending")
	ErrNoPendingBuzz    = errors.New("no pending buzz")
	ErrCooldownActive   = errors.New("player is on cooldown")
	ErrUnknownPlayer    = errors.New("unknown player")
	ErrWrongMode        = errors.New("operation not available in this play mode")
	ErrNoQuestion       = errors.New("no quiz question for current track")
	ErrAlreadyRevealed  = errors.New("already revealed")
	ErrAlreadyAnswered  = errors.New("player already answered this track")
	ErrNotEnoughTracks  = errors.New("quiz mode needs at least 4 distinct tracks")
)
