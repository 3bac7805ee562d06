package models

import "time"

// SessionSummary is the listing shape of a session, without its state.
type SessionSummary struct {
	Code      string     `json:"code"`
	Active    bool       `json:"active"`
	Mode      string     `json:"mode"`
	Version   uint64     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// BuzzRow is one buzz of the history table.
type BuzzRow struct {
	ID              string    `json:"id"`
	SessionCode     string    `json:"session_code"`
	TrackIndex      int       `json:"track_index"`
	PlayerID        string    `json:"player_id"`
	PlayerName      string    `json:"player_name"`
	Team            string    `json:"team"`
	Elapsed         float64   `json:"elapsed"`
	AvailablePoints int       `json:"available_points"`
	Outcome         string    `json:"outcome"` // pending, correct, wrong, expired, cancelled
	Points          int       `json:"points"`
	BuzzedAt        time.Time `json:"buzzed_at"`
}

// LeaderboardRow is a player's quiz total in a session.
type LeaderboardRow struct {
	SessionCode    string    `json:"session_code"`
	PlayerID       string    `json:"player_id"`
	Name           string    `json:"name"`
	TotalPoints    int       `json:"total_points"`
	CorrectAnswers int       `json:"correct_answers"`
	UpdatedAt      time.Time `json:"updated_at"`
}
