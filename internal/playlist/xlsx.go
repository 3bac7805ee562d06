// Package playlist imports playlists from spreadsheets.
package playlist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/blindtest-party/backend/internal/game"
)

// MaxTracks bounds an imported playlist.
const MaxTracks = 500

var ErrEmpty = errors.New("playlist sheet has no tracks")

type column int

const (
	colTitle column = iota
	colArtist
	colDuration
	colImage
	colAudio
	numColumns
)

var headerNames = map[string]column{
	"title":    colTitle,
	"song":     colTitle,
	"track":    colTitle,
	"artist":   colArtist,
	"duration": colDuration,
	"length":   colDuration,
	"image":    colImage,
	"cover":    colImage,
	"imageurl": colImage,
	"audio":    colAudio,
	"audiourl": colAudio,
	"url":      colAudio,
	"preview":  colAudio,
}

// ParseXLSX reads the first sheet of an XLSX workbook. The first row may be a
// header naming the columns; without one the order is Title, Artist,
// Duration, Image, Audio.
func ParseXLSX(r io.Reader) ([]game.Track, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]game.Track, error) {
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	index, ok := headerIndex(rows[0])
	if ok {
		rows = rows[1:]
	}

	var tracks []game.Track
	for i, row := range rows {
		title := cell(row, index[colTitle])
		if title == "" {
			continue
		}
		if len(tracks) == MaxTracks {
			return nil, fmt.Errorf("playlist exceeds %d tracks", MaxTracks)
		}
		d, err := ParseDuration(cell(row, index[colDuration]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		tracks = append(tracks, game.Track{
			Title:    title,
			Artist:   cell(row, index[colArtist]),
			Duration: d,
			ImageURL: cell(row, index[colImage]),
			AudioURL: cell(row, index[colAudio]),
		})
	}
	if len(tracks) == 0 {
		return nil, ErrEmpty
	}
	return tracks, nil
}

// headerIndex maps each column to its position. ok is false when row is data.
func headerIndex(row []string) ([numColumns]int, bool) {
	var index [numColumns]int
	for i := range index {
		index[i] = -1
	}
	for pos, name := range row {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
		if col, known := headerNames[key]; known && index[col] < 0 {
			index[col] = pos
		}
	}
	if index[colTitle] >= 0 {
		return index, true
	}
	for i := range index {
		index[i] = i
	}
	return index, false
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseDuration accepts seconds ("215", "215.5") or minutes:seconds ("3:35").
// Empty means unknown (0).
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if m, sec, found := strings.Cut(s, ":"); found {
		mins, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil || mins < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(sec), 64)
		if err != nil || secs < 0 || secs >= 60 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return float64(mins)*60 + secs, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return v, nil
}
