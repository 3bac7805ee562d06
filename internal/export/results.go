// Package export renders the results of a session as an XLSX workbook.
package export

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/blindtest-party/backend/internal/game"
)

// Sheet names.
const (
	SheetSummary     = "Summary"
	SheetTracks      = "Tracks"
	SheetBuzzes      = "Buzzes"
	SheetLeaderboard = "Leaderboard"
	SheetAnswers     = "Answers"
)

// Workbook builds the results workbook of snap. Team games get a buzz
// history sheet, quiz games a leaderboard and the answers of each track.
func Workbook(snap game.Snapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		return nil, err
	}
	summary := [][]interface{}{
		{"Session", snap.Code},
		{"Mode", string(snap.Mode)},
		{"Source", string(snap.Source)},
		{"Created", snap.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Tracks", len(snap.Tracks)},
		{"Players", len(snap.Players)},
	}
	if snap.Mode == game.ModeTeam {
		summary = append(summary, []interface{}{"Team 1", snap.Scores.Team1}, []interface{}{"Team 2", snap.Scores.Team2})
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return nil, err
	}

	tracks := [][]interface{}{{"#", "Title", "Artist", "Duration", "Revealed"}}
	for i, t := range snap.Tracks {
		tracks = append(tracks, []interface{}{i + 1, t.Title, t.Artist, t.Duration, t.Revealed})
	}
	if err := addSheet(f, SheetTracks, tracks); err != nil {
		return nil, err
	}

	switch snap.Mode {
	case game.ModeQuiz:
		board := [][]interface{}{{"Rank", "Player", "Points", "Correct answers"}}
		for i, e := range snap.Leaderboard {
			board = append(board, []interface{}{i + 1, e.Name, e.TotalPoints, e.CorrectAnswers})
		}
		if err := addSheet(f, SheetLeaderboard, board); err != nil {
			return nil, err
		}
		answers := [][]interface{}{{"Track", "Player", "Answer", "Time", "Correct", "Points"}}
		for _, i := range sortedKeys(snap.QuizAnswers) {
			for _, a := range snap.QuizAnswers[i] {
				answers = append(answers, []interface{}{i + 1, a.PlayerName, a.Label, a.Time, verdict(a.Correct), a.Points})
			}
		}
		if err := addSheet(f, SheetAnswers, answers); err != nil {
			return nil, err
		}
	default:
		buzzes := [][]interface{}{{"Track", "Team", "Player", "Time", "Available", "Outcome", "Points"}}
		for _, i := range sortedKeys(snap.BuzzTimes) {
			for _, b := range snap.BuzzTimes[i] {
				buzzes = append(buzzes, []interface{}{i + 1, string(b.Team), b.PlayerName, b.Time, b.AvailablePoints, string(b.Outcome), b.Points})
			}
		}
		if err := addSheet(f, SheetBuzzes, buzzes); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Write streams the workbook of snap to w.
func Write(w io.Writer, snap game.Snapshot) error {
	f, err := Workbook(snap)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	return f.Write(w)
}

// Bytes returns the encoded workbook of snap.
func Bytes(snap game.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addSheet(f *excelize.File, name string, rows [][]interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			return err
		}
	}
	return nil
}

func verdict(correct *bool) string {
	switch {
	case correct == nil:
		return ""
	case *correct:
		return "yes"
	}
	return "no"
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
