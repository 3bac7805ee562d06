package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/models"
)

// ErrNotFound is returned when a session code is unknown.
var ErrNotFound = errors.New("session not found")

// Store persists session snapshots and their history tables.
type Store interface {
	Save(ctx context.Context, snap game.Snapshot) error
	Load(ctx context.Context, code string) (game.Snapshot, error)
	Exists(ctx context.Context, code string) (bool, error)
	ListActive(ctx context.Context) ([]game.Snapshot, error)
	List(ctx context.Context, activeOnly bool, limit int) ([]models.SessionSummary, error)
	AppendBuzz(ctx context.Context, code string, ev game.BuzzEvent) error
	Buzzes(ctx context.Context, code string) ([]models.BuzzRow, error)
	UpsertLeaderboard(ctx context.Context, code string, entries []game.LeaderboardEntry) error
	Leaderboard(ctx context.Context, code string) ([]models.LeaderboardRow, error)
	MarkEnded(ctx context.Context, code string, at time.Time) error
	Delete(ctx context.Context, code string) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Save upserts the snapshot. An older version never overwrites a newer one.
func (s *PGStore) Save(ctx context.Context, snap game.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	const query = `INSERT INTO sessions (code, active, mode, source, version, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (code) DO UPDATE SET active = EXCLUDED.active, mode = EXCLUDED.mode, source = EXCLUDED.source,
			version = EXCLUDED.version, state = EXCLUDED.state, updated_at = NOW()
		WHERE sessions.version <= EXCLUDED.version`
	_, err = s.pool.Exec(ctx, query, snap.Code, snap.Active, string(snap.Mode), string(snap.Source),
		int64(snap.Version), state, snap.CreatedAt)
	return err
}

// Load returns the last saved snapshot of code.
func (s *PGStore) Load(ctx context.Context, code string) (game.Snapshot, error) {
	const query = `SELECT state FROM sessions WHERE code = $1`
	var state []byte
	if err := s.pool.QueryRow(ctx, query, code).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Snapshot{}, ErrNotFound
		}
		return game.Snapshot{}, err
	}
	return decodeSnapshot(state)
}

// Exists reports whether code was ever used.
func (s *PGStore) Exists(ctx context.Context, code string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM sessions WHERE code = $1)`
	var ok bool
	err := s.pool.QueryRow(ctx, query, code).Scan(&ok)
	return ok, err
}

// ListActive returns the snapshots of every session that has not ended.
func (s *PGStore) ListActive(ctx context.Context) ([]game.Snapshot, error) {
	const query = `SELECT state FROM sessions WHERE active ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []game.Snapshot
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(state)
		if err != nil {
			return nil, err
		}
		list = append(list, snap)
	}
	return list, rows.Err()
}

// List returns session summaries, newest first. limit <= 0 means no limit.
func (s *PGStore) List(ctx context.Context, activeOnly bool, limit int) ([]models.SessionSummary, error) {
	query := `SELECT code, active, mode, version, created_at, updated_at, ended_at FROM sessions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.SessionSummary
	for rows.Next() {
		var m models.SessionSummary
		var version int64
		if err := rows.Scan(&m.Code, &m.Active, &m.Mode, &version, &m.CreatedAt, &m.UpdatedAt, &m.EndedAt); err != nil {
			return nil, err
		}
		m.Version = uint64(version)
		list = append(list, m)
	}
	return list, rows.Err()
}

// AppendBuzz inserts a buzz or updates its resolution.
func (s *PGStore) AppendBuzz(ctx context.Context, code string, ev game.BuzzEvent) error {
	const query = `INSERT INTO buzz_events (id, session_code, track_index, player_id, player_name, team, elapsed, available_points, outcome, points, buzzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET outcome = EXCLUDED.outcome, points = EXCLUDED.points`
	_, err := s.pool.Exec(ctx, query, ev.ID, code, ev.TrackIndex, string(ev.PlayerID), ev.PlayerName,
		string(ev.Team), ev.Time, ev.AvailablePoints, string(ev.Outcome), ev.Points, ev.At)
	return err
}

// Buzzes returns the buzz history of code in track then time order.
func (s *PGStore) Buzzes(ctx context.Context, code string) ([]models.BuzzRow, error) {
	const query = `SELECT id, session_code, track_index, player_id, player_name, team, elapsed, available_points, outcome, points, buzzed_at
		FROM buzz_events WHERE session_code = $1 ORDER BY track_index, buzzed_at`
	rows, err := s.pool.Query(ctx, query, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.BuzzRow
	for rows.Next() {
		var b models.BuzzRow
		if err := rows.Scan(&b.ID, &b.SessionCode, &b.TrackIndex, &b.PlayerID, &b.PlayerName, &b.Team,
			&b.Elapsed, &b.AvailablePoints, &b.Outcome, &b.Points, &b.BuzzedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// UpsertLeaderboard writes the quiz totals of code in one transaction.
func (s *PGStore) UpsertLeaderboard(ctx context.Context, code string, entries []game.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const query = `INSERT INTO quiz_leaderboard (session_code, player_id, name, total_points, correct_answers, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (session_code, player_id) DO UPDATE SET name = EXCLUDED.name,
			total_points = EXCLUDED.total_points, correct_answers = EXCLUDED.correct_answers, updated_at = NOW()`
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(query, code, string(e.PlayerID), e.Name, e.TotalPoints, e.CorrectAnswers)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Leaderboard returns the stored quiz totals of code, best first.
func (s *PGStore) Leaderboard(ctx context.Context, code string) ([]models.LeaderboardRow, error) {
	const query = `SELECT session_code, player_id, name, total_points, correct_answers, updated_at
		FROM quiz_leaderboard WHERE session_code = $1 ORDER BY total_points DESC, player_id`
	rows, err := s.pool.Query(ctx, query, code)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[models.LeaderboardRow])
}

// MarkEnded records the end time of code.
func (s *PGStore) MarkEnded(ctx context.Context, code string, at time.Time) error {
	const query = `UPDATE sessions SET active = FALSE, ended_at = $2, updated_at = NOW() WHERE code = $1`
	tag, err := s.pool.Exec(ctx, query, code, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session and its history.
func (s *PGStore) Delete(ctx context.Context, code string) error {
	const query = `DELETE FROM sessions WHERE code = $1`
	tag, err := s.pool.Exec(ctx, query, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneOlderThan deletes sessions created before cutoff and returns their codes.
func (s *PGStore) PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `DELETE FROM sessions WHERE created_at < $1 RETURNING code`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func decodeSnapshot(state []byte) (game.Snapshot, error) {
	var snap game.Snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
