package game

import (
	"fmt"
	"strings"
	"time"
)

// TeamID identifies one of the two buzzer teams.
type TeamID string

const (
	TeamNone TeamID = ""
	Team1    TeamID = "team1"
	Team2    TeamID = "team2"
)

// Valid reports whether t is a playable team.
func (t TeamID) Valid() bool { return t == Team1 || t == Team2 }

// ParseTeam accepts "team1"/"team2" (and the short forms "1"/"2").
func ParseTeam(s string) (TeamID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "team1", "1":
		return Team1, nil
	case "team2", "2":
		return Team2, nil
	}
	return TeamNone, fmt.Errorf("%w: %q", ErrInvalidTeam, s)
}

// PlayerID is the stable identifier of a player inside a session.
type PlayerID string

// Mode is the play mode chosen by the host at session creation.
type Mode string

const (
	ModeTeam Mode = "team"
	ModeQuiz Mode = "quiz"
)

// ParseMode validates a mode string; empty defaults to team mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeTeam:
		return ModeTeam, nil
	case ModeQuiz:
		return ModeQuiz, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Source is the music source the playlist was built from.
type Source string

const (
	SourceSpotifyAuto Source = "spotify-auto"
	SourceSpotifyAI   Source = "spotify-ai"
	SourceMP3         Source = "mp3"
	SourceSheet       Source = "xlsx"
)

// Track is one playlist entry. Duration is in seconds.
type Track struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	ImageURL string  `json:"imageUrl,omitempty"`
	AudioURL string  `json:"audioUrl,omitempty"`
	Duration float64 `json:"duration"`
	Revealed bool    `json:"revealed"`
}

// Validate checks the mandatory track fields.
func (t Track) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidTrack)
	}
	if t.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidTrack)
	}
	return nil
}

// Player is a participant. Team is TeamNone in quiz mode.
type Player struct {
	ID                 PlayerID  `json:"id"`
	Name               string    `json:"name"`
	PhotoURL           string    `json:"photoUrl,omitempty"`
	Team               TeamID    `json:"team,omitempty"`
	BuzzCount          int       `json:"buzzCount"`
	CorrectCount       int       `json:"correctCount"`
	ConsecutiveCorrect int       `json:"consecutiveCorrect"`
	CooldownEnd        time.Time `json:"cooldownEnd"`
	CooldownPending    bool      `json:"hasCooldownPending"`
	Connected          bool      `json:"connected"`
	JoinedAt           time.Time `json:"joinedAt"`
}

// Scores holds the per-team totals of team mode.
type Scores struct {
	Team1 int `json:"team1"`
	Team2 int `json:"team2"`
}

// Add credits delta points to team.
func (s *Scores) Add(team TeamID, delta int) {
	switch team {
	case Team1:
		s.Team1 += delta
	case Team2:
		s.Team2 += delta
	}
}

// Of returns the score of team.
func (s Scores) Of(team TeamID) int {
	switch team {
	case Team1:
		return s.Team1
	case Team2:
		return s.Team2
	}
	return 0
}

// BuzzOutcome is the resolution of a buzz event.
type BuzzOutcome string

const (
	BuzzPending   BuzzOutcome = "pending"
	BuzzCorrect   BuzzOutcome = "correct"
	BuzzWrong     BuzzOutcome = "wrong"
	BuzzExpired   BuzzOutcome = "expired"
	BuzzCancelled BuzzOutcome = "cancelled"
)

// BuzzEvent records who buzzed, when, for which track. AvailablePoints is
// fixed at the moment the buzz is accepted.
type BuzzEvent struct {
	ID              string      `json:"id"`
	Team            TeamID      `json:"team"`
	PlayerID        PlayerID    `json:"playerId"`
	PlayerName      string      `json:"playerName"`
	TrackIndex      int         `json:"trackIndex"`
	Time            float64     `json:"time"`
	AvailablePoints int         `json:"availablePoints"`
	Outcome         BuzzOutcome `json:"outcome"`
	Correct         *bool       `json:"correct"`
	Points          int         `json:"points"`
	At              time.Time   `json:"at"`
}
