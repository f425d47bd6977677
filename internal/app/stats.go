package app

import (
	"math"
	"sort"

	"school-quiz-service/internal/domain"
)

const leaderboardSize = 10

// SummarizeScores builds topic metrics from first-attempt rows given in insertion order.
// An empty input yields a zero-filled summary.
func SummarizeScores(topic domain.Topic, rows []domain.ScoreRow) domain.TopicMetrics {
	metrics := domain.TopicMetrics{
		ClassName:   topic.Class,
		Subject:     topic.Subject,
		Topic:       topic.Name,
		Leaderboard: []domain.LeaderboardEntry{},
	}
	if len(rows) == 0 {
		return metrics
	}

	sum := 0
	highest, lowest := rows[0].Score, rows[0].Score
	for _, row := range rows {
		sum += row.Score
		if row.Score > highest {
			highest = row.Score
		}
		if row.Score < lowest {
			lowest = row.Score
		}
		metrics.ScoreDistribution[bucketFor(row.Score)]++
	}

	metrics.TotalResponses = len(rows)
	metrics.AverageScore = RoundOneDecimal(float64(sum) / float64(len(rows)))
	metrics.HighestScore = highest
	metrics.LowestScore = lowest
	metrics.Leaderboard = topScores(rows, leaderboardSize)
	return metrics
}

// bucketFor maps a score to [0,20], (20,40], (40,60], (60,80], (80,100].
func bucketFor(score int) int {
	switch {
	case score <= 20:
		return 0
	case score <= 40:
		return 1
	case score <= 60:
		return 2
	case score <= 80:
		return 3
	default:
		return 4
	}
}

// topScores returns at most n entries by score descending; ties keep input order.
func topScores(rows []domain.ScoreRow, n int) []domain.LeaderboardEntry {
	sorted := make([]domain.ScoreRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for _, row := range sorted {
		entries = append(entries, domain.LeaderboardEntry{StudentName: row.StudentName, Score: row.Score})
	}
	return entries
}

// RoundOneDecimal rounds half away from zero to one decimal place.
func RoundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
