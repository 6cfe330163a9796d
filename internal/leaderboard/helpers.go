package leaderboard

import (
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	ws "github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

func toWSEntries(entries []Entry) []ws.LeaderboardEntry {
	result := make([]ws.LeaderboardEntry, len(entries))
	for i, e := range entries {
		result[i] = ws.LeaderboardEntry{
			Rank:      i + 1,
			UserID:    e.UserID.String(),
			BestScore: e.BestScore,
			BestTime:  e.BestTime,
		}
	}
	return result
}

func fromBestScores(rows []quiz.BestScore) []Entry {
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{UserID: r.UserID, BestScore: r.BestScore, BestTime: r.BestTime}
	}
	return out
}
