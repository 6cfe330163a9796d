package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// Advance applies one accepted daily attempt to a streak record.
//
// A correct answer on day D extends the streak when the last correct day is
// D-1 (or the player has none yet) and restarts it at 1 otherwise. Incorrect
// answers leave current_streak untouched; the break is only visible on the
// next correct day. Callers must invoke Advance once per (player, date).
func Advance(prev quiz.StreakRecord, date string, correct bool) (quiz.StreakRecord, error) {
	day, err := time.Parse(quiz.DateLayout, date)
	if err != nil {
		return prev, fmt.Errorf("parse date %q: %w", date, err)
	}

	next := prev
	next.LastPlayedDate = date
	if !correct {
		return next, nil
	}

	if prev.LastCorrectDate == date {
		return next, nil
	}

	next.TotalCorrect++
	switch {
	case prev.LastCorrectDate == "":
		next.CurrentStreak = 1
	case prev.LastCorrectDate == day.AddDate(0, 0, -1).Format(quiz.DateLayout):
		next.CurrentStreak = prev.CurrentStreak + 1
	default:
		next.CurrentStreak = 1
	}
	next.LastCorrectDate = date
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next, nil
}

// Store is the read side of the streak projection.
type Store interface {
	GetStreak(ctx context.Context, userID uuid.UUID) (quiz.StreakRecord, error)
	TopStreaks(ctx context.Context, since string, limit int) ([]quiz.StreakRecord, error)
	LongestStreaks(ctx context.Context, limit int) ([]quiz.StreakRecord, error)
	TopTotalCorrect(ctx context.Context, limit int) ([]quiz.StreakRecord, error)
}

// Board selects a streak ranking.
type Board string

const (
	// BoardActive ranks current streaks that can still be extended.
	BoardActive  Board = "active"
	BoardLongest Board = "longest"
	BoardTotal   Board = "total"
)

var ErrUnknownBoard = errors.New("unknown streak board")

// ParseBoard maps a query value to a Board; empty means BoardActive.
func ParseBoard(raw string) (Board, error) {
	switch b := Board(raw); b {
	case "":
		return BoardActive, nil
	case BoardActive, BoardLongest, BoardTotal:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBoard, raw)
	}
}

// Tracker exposes authoritative streak numbers. It never recomputes them,
// but a current streak whose last correct day is before yesterday is
// reported as 0 since it can no longer be extended.
type Tracker struct {
	store  Store
	today  func() string
	logger zerolog.Logger
}

// NewTracker builds a tracker. today returns the reference date.
func NewTracker(store Store, today func() string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		today:  today,
		logger: logger.With().Str("component", "streak_tracker").Logger(),
	}
}

// activeSince is the earliest last correct day that keeps a streak alive.
func (t *Tracker) activeSince() string {
	day, err := time.Parse(quiz.DateLayout, t.today())
	if err != nil {
		return t.today()
	}
	return day.AddDate(0, 0, -1).Format(quiz.DateLayout)
}

func (t *Tracker) display(rec quiz.StreakRecord, since string) quiz.StreakRecord {
	if rec.LastCorrectDate < since {
		rec.CurrentStreak = 0
	}
	return rec
}

// Get returns the player's streak, or a zero record for players who never played.
func (t *Tracker) Get(ctx context.Context, userID uuid.UUID) (quiz.StreakRecord, error) {
	rec, err := t.store.GetStreak(ctx, userID)
	if err != nil {
		return quiz.StreakRecord{}, fmt.Errorf("get streak: %w", err)
	}
	rec.UserID = userID
	return t.display(rec, t.activeSince()), nil
}

// Top lists one streak board.
func (t *Tracker) Top(ctx context.Context, board Board, limit int) ([]quiz.StreakRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	since := t.activeSince()

	var (
		recs []quiz.StreakRecord
		err  error
	)
	switch board {
	case BoardActive, "":
		recs, err = t.store.TopStreaks(ctx, since, limit)
	case BoardLongest:
		recs, err = t.store.LongestStreaks(ctx, limit)
	case BoardTotal:
		recs, err = t.store.TopTotalCorrect(ctx, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, board)
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("board", string(board)).Msg("streak board fetch failed")
		return nil, fmt.Errorf("%s streaks: %w", board, err)
	}
	for i := range recs {
		recs[i] = t.display(recs[i], since)
	}
	return recs, nil
}
