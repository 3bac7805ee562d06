package game

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Labels are the four answer slots of a quiz question.
var Labels = [4]string{"A", "B", "C", "D"}

// ValidLabel reports whether label is one of A-D.
func ValidLabel(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Choice is one candidate answer.
type Choice struct {
	Label  string `json:"label"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// QuizQuestion is the multiple-choice state of one track.
type QuizQuestion struct {
	TrackIndex   int      `json:"trackIndex"`
	Choices      []Choice `json:"choices"`
	CorrectLabel string   `json:"correctLabel,omitempty"`
	Revealed     bool     `json:"revealed"`
}

// QuizAnswer is a player's submission for a track.
type QuizAnswer struct {
	PlayerID    PlayerID  `json:"playerId"`
	PlayerName  string    `json:"playerName"`
	Label       string    `json:"label"`
	Time        float64   `json:"time"`
	SubmittedAt time.Time `json:"submittedAt"`
	Correct     *bool     `json:"correct"`
	Points      int       `json:"points"`
}

// LeaderboardEntry is a player's running quiz total.
type LeaderboardEntry struct {
	PlayerID       PlayerID `json:"playerId"`
	Name           string   `json:"name"`
	TotalPoints    int      `json:"totalPoints"`
	CorrectAnswers int      `json:"correctAnswers"`
}

// QuizPoints scores a correct answer given at t seconds with zero-based speed rank.
func QuizPoints(t float64, rank int) int {
	speed := math.Max(0, 500-t*10)
	order := math.Max(0, 500-float64(rank)*100)
	return int(math.Round(1000 + speed + order))
}

type shuffler func(n int, swap func(i, j int))

// buildQuestion draws three decoys from the other tracks of the playlist and
// places the four choices in shuffled slots.
func buildQuestion(tracks []Track, index int, shuffle shuffler) (*QuizQuestion, error) {
	if index < 0 || index >= len(tracks) {
		return nil, ErrTrackIndex
	}
	correct := tracks[index]
	seen := map[string]bool{trackKey(correct): true}
	var decoys []Track
	for i, t := range tracks {
		if i == index {
			continue
		}
		if k := trackKey(t); !seen[k] {
			seen[k] = true
			decoys = append(decoys, t)
		}
	}
	if len(decoys) < len(Labels)-1 {
		return nil, ErrNotEnoughTracks
	}
	shuffle(len(decoys), func(i, j int) { decoys[i], decoys[j] = decoys[j], decoys[i] })

	picks := append([]Track{correct}, decoys[:len(Labels)-1]...)
	order := []int{0, 1, 2, 3}
	shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	q := &QuizQuestion{TrackIndex: index, Choices: make([]Choice, len(Labels))}
	for slot, pick := range order {
		q.Choices[slot] = Choice{Label: Labels[slot], Title: picks[pick].Title, Artist: picks[pick].Artist}
		if pick == 0 {
			q.CorrectLabel = Labels[slot]
		}
	}
	return q, nil
}

func trackKey(t Track) string {
	return strings.ToLower(strings.TrimSpace(t.Title)) + "|" + strings.ToLower(strings.TrimSpace(t.Artist))
}

// scoreAnswers resolves every submission of a track against q, in place, and
// returns them ordered by response time.
func scoreAnswers(q *QuizQuestion, answers map[PlayerID]*QuizAnswer) []*QuizAnswer {
	ranked := make([]*QuizAnswer, 0, len(answers))
	for _, a := range answers {
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.PlayerID < b.PlayerID
	})
	for rank, a := range ranked {
		ok := a.Label == q.CorrectLabel
		a.Correct = &ok
		a.Points = 0
		if ok {
			a.Points = QuizPoints(a.Time, rank)
		}
	}
	return ranked
}
