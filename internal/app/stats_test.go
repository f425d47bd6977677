package app_test

import (
	"fmt"
	"testing"

	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

var plants = domain.Topic{ID: 7, Subject: "Science", Name: "Plants", Class: "6B"}

func rowsFor(scores ...int) []domain.ScoreRow {
	rows := make([]domain.ScoreRow, 0, len(scores))
	for i, s := range scores {
		rows = append(rows, domain.ScoreRow{UserID: int64(i + 1), StudentName: fmt.Sprintf("s%d", i+1), Score: s})
	}
	return rows
}

func TestSummarizeScoresExample(t *testing.T) {
	m := app.SummarizeScores(plants, rowsFor(20, 45, 100))

	if m.ScoreDistribution != [5]int{1, 1, 0, 0, 1} {
		t.Fatalf("unexpected distribution %v", m.ScoreDistribution)
	}
	if len(m.Leaderboard) != 3 || m.Leaderboard[0].Score != 100 || m.Leaderboard[1].Score != 45 || m.Leaderboard[2].Score != 20 {
		t.Fatalf("unexpected leaderboard %+v", m.Leaderboard)
	}
	if m.TotalResponses != 3 || m.HighestScore != 100 || m.LowestScore != 20 {
		t.Fatalf("unexpected summary %+v", m)
	}
	if m.AverageScore != 55 {
		t.Fatalf("expected average 55, got %v", m.AverageScore)
	}
	if m.ClassName != "6B" || m.Subject != "Science" || m.Topic != "Plants" {
		t.Fatalf("expected topic labels, got %+v", m)
	}
}

func TestSummarizeScoresEmpty(t *testing.T) {
	m := app.SummarizeScores(plants, nil)
	if m.TotalResponses != 0 || m.AverageScore != 0 || m.HighestScore != 0 || m.LowestScore != 0 {
		t.Fatalf("expected zero summary, got %+v", m)
	}
	if m.ScoreDistribution != [5]int{} {
		t.Fatalf("expected empty histogram, got %v", m.ScoreDistribution)
	}
	if m.Leaderboard == nil || len(m.Leaderboard) != 0 {
		t.Fatalf("expected empty non-nil leaderboard, got %#v", m.Leaderboard)
	}
}

func TestSummarizeScoresBucketEdges(t *testing.T) {
	m := app.SummarizeScores(plants, rowsFor(0, 20, 30, 40, 50, 60, 70, 80, 90, 100))
	if m.ScoreDistribution != [5]int{2, 2, 2, 2, 2} {
		t.Fatalf("unexpected distribution %v", m.ScoreDistribution)
	}
}

func TestSummarizeScoresInvariants(t *testing.T) {
	cases := [][]int{
		{10},
		{0, 0, 0},
		{10, 20, 30},
		{100, 90, 90, 80, 30, 0, 50, 60, 70, 40, 20, 10},
		{33, 67, 50},
	}
	for _, scores := range cases {
		m := app.SummarizeScores(plants, rowsFor(scores...))
		sum := 0
		for _, n := range m.ScoreDistribution {
			sum += n
		}
		if sum != len(scores) || m.TotalResponses != len(scores) {
			t.Fatalf("%v: histogram sum %d, total %d, want %d", scores, sum, m.TotalResponses, len(scores))
		}
		if m.AverageScore < float64(m.LowestScore) || m.AverageScore > float64(m.HighestScore) {
			t.Fatalf("%v: average %v outside [%d, %d]", scores, m.AverageScore, m.LowestScore, m.HighestScore)
		}
		if len(m.Leaderboard) > 10 {
			t.Fatalf("%v: leaderboard has %d entries", scores, len(m.Leaderboard))
		}
	}
}

func TestLeaderboardCapsAtTenAndKeepsTieOrder(t *testing.T) {
	scores := []int{50, 90, 50, 70, 50, 80, 50, 60, 50, 40, 50, 30}
	m := app.SummarizeScores(plants, rowsFor(scores...))
	if len(m.Leaderboard) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(m.Leaderboard))
	}
	want := []string{"s2", "s6", "s4", "s8", "s1", "s3", "s5", "s7", "s9", "s11"}
	for i, name := range want {
		if m.Leaderboard[i].StudentName != name {
			t.Fatalf("position %d: expected %s, got %+v", i, name, m.Leaderboard)
		}
	}
}

func TestRoundOneDecimal(t *testing.T) {
	cases := map[float64]float64{
		0:         0,
		33.3333:   33.3,
		66.6666:   66.7,
		12.25:     12.3,
		12.75:     12.8,
		100.0 / 3: 33.3,
		200.0 / 3: 66.7,
		55.0:      55,
		-12.25:    -12.3,
	}
	for in, want := range cases {
		if got := app.RoundOneDecimal(in); got != want {
			t.Fatalf("RoundOneDecimal(%v) = %v, want %v", in, got, want)
		}
	}
}
