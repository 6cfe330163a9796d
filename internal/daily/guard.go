// Package daily enforces one scored Daily Challenge attempt per player per
// reference day.
//
// A submission first takes an optimistic mark, then performs the store's
// idempotent write, then re-reads the authoritative attempt. The mark only
// stops rapid duplicates; the re-read is what makes every caller converge on
// the row that won.
package daily

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/metrics"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// DefaultTimezone defines the civil day shared by all players.
const DefaultTimezone = "America/Chicago"

var (
	ErrAuthRequired      = errors.New("daily submission requires an authenticated player")
	ErrSubmitInProgress  = errors.New("daily submission already in progress")
	ErrInvalidDate       = errors.New("invalid daily date")
	ErrInvalidElapsed    = errors.New("elapsed seconds must not be negative")
	ErrSessionNotStarted = errors.New("daily session not started, enter first")
)

// defaultMarkGrace bounds how long a mark without a stored attempt blocks
// further submissions.
const defaultMarkGrace = 10 * time.Second

// Store is the slice of the data layer used by the guard.
type Store interface {
	FetchDailyQuestion(ctx context.Context, date string, includeAnswer bool) (quiz.Question, error)
	StartDailySession(ctx context.Context, userID uuid.UUID, date string) (time.Time, error)
	GetDailySession(ctx context.Context, userID uuid.UUID, date string) (time.Time, bool, error)
	GetDailyAttempt(ctx context.Context, userID uuid.UUID, date string) (quiz.DailyAttempt, error)
	SubmitDailyAttempt(ctx context.Context, userID uuid.UUID, date string, isCorrect bool, elapsed int) (bool, error)
}

// Evaluator checks a choice against the authoritative answer.
type Evaluator interface {
	Check(ctx context.Context, questionID int64, choice string) (evaluator.Result, error)
}

// EntryState tells the client what it may do on the Daily screen.
type EntryState string

const (
	EntryAnonymous       EntryState = "anonymous"
	EntryOpen            EntryState = "open"
	EntryAlreadyAnswered EntryState = "already_answered"
)

// Entry is what a player sees when opening Daily mode.
type Entry struct {
	Date      string             `json:"date"`
	State     EntryState         `json:"state"`
	Question  *quiz.Question     `json:"question,omitempty"`
	Attempt   *quiz.DailyAttempt `json:"attempt,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
}

// Outcome is the reconciled result of a submission. Accepted reports
// whether this call wrote the row; Attempt is always the server's record.
type Outcome struct {
	Attempt  quiz.DailyAttempt `json:"attempt"`
	Accepted bool              `json:"accepted"`
	Result   *evaluator.Result `json:"result,omitempty"`
}

// Options configures the guard.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	// MarkGrace is how long a mark may exist without a stored attempt
	// before submissions write through it. Defaults to 10s.
	MarkGrace time.Duration
}

// Guard coordinates Daily mode reads and the single write per day.
type Guard struct {
	store     Store
	marks     MarkCache
	evaluator Evaluator
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
	markGrace time.Duration
	logger    zerolog.Logger
}

// NewGuard builds a guard. m may be nil.
func NewGuard(store Store, marks MarkCache, eval Evaluator, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Guard {
	logger = logger.With().Str("component", "daily_guard").Logger()
	loc := opts.Location
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			logger.Warn().Err(err).Str("tz", DefaultTimezone).Msg("timezone unavailable, using UTC")
			loc = time.UTC
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	grace := opts.MarkGrace
	if grace <= 0 {
		grace = defaultMarkGrace
	}
	return &Guard{
		store:     store,
		marks:     marks,
		evaluator: eval,
		metrics:   m,
		loc:       loc,
		now:       now,
		markGrace: grace,
		logger:    logger,
	}
}

// Today returns the current civil date in the reference timezone.
func (g *Guard) Today() string {
	return g.now().In(g.loc).Format(quiz.DateLayout)
}

// Location returns the reference timezone.
func (g *Guard) Location() *time.Location {
	return g.loc
}

// Enter loads today's Daily state for player (uuid.Nil when anonymous).
// Players who already answered get their attempt and nothing is written;
// everyone else authenticated has their session start recorded.
func (g *Guard) Enter(ctx context.Context, player uuid.UUID) (Entry, error) {
	date := g.Today()
	entry := Entry{Date: date}

	q, err := g.store.FetchDailyQuestion(ctx, date, false)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch daily question for %s: %w", date, err)
	}
	entry.Question = &q

	if player == uuid.Nil {
		entry.State = EntryAnonymous
		return entry, nil
	}

	attempt, err := g.store.GetDailyAttempt(ctx, player, date)
	if err != nil {
		return Entry{}, fmt.Errorf("get daily attempt: %w", err)
	}
	if attempt.IsAnswered {
		entry.State = EntryAlreadyAnswered
		entry.Attempt = &attempt
		return entry, nil
	}

	started, err := g.store.StartDailySession(ctx, player, date)
	if err != nil {
		return Entry{}, fmt.Errorf("start daily session: %w", err)
	}
	entry.State = EntryOpen
	entry.Attempt = &attempt
	entry.StartedAt = &started
	return entry, nil
}

// Attempt returns the authoritative record for (player, date).
func (g *Guard) Attempt(ctx context.Context, player uuid.UUID, date string) (quiz.DailyAttempt, error) {
	if player == uuid.Nil {
		return quiz.DailyAttempt{}, ErrAuthRequired
	}
	if _, err := time.Parse(quiz.DateLayout, date); err != nil {
		return quiz.DailyAttempt{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	attempt, err := g.store.GetDailyAttempt(ctx, player, date)
	if err != nil {
		return quiz.DailyAttempt{}, fmt.Errorf("get daily attempt: %w", err)
	}
	return attempt, nil
}

// Submit records the player's single attempt for date.
func (g *Guard) Submit(ctx context.Context, player uuid.UUID, date string, isCorrect bool, elapsed int) (Outcome, error) {
	if player == uuid.Nil {
		return Outcome{}, ErrAuthRequired
	}
	if _, err := time.Parse(quiz.DateLayout, date); err != nil {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if elapsed < 0 {
		return Outcome{}, ErrInvalidElapsed
	}
	logger := g.logger.With().Str("player_id", player.String()).Str("date", date).Logger()

	token, marked, err := g.marks.Mark(ctx, player, date)
	if err != nil {
		// the store write is still idempotent without the mark
		logger.Warn().Err(err).Msg("daily mark unavailable")
	} else if !marked {
		attempt, err := g.store.GetDailyAttempt(ctx, player, date)
		if err != nil {
			return Outcome{}, fmt.Errorf("get daily attempt: %w", err)
		}
		if attempt.IsAnswered {
			g.metrics.DailySubmission("duplicate")
			return Outcome{Attempt: attempt}, nil
		}
		if !g.markIsStale(ctx, logger, player, date) {
			g.metrics.DailySubmission("in_progress")
			return Outcome{}, ErrSubmitInProgress
		}
		// the mark outlived a write that never landed
		logger.Warn().Msg("stale daily mark without attempt, writing through")
	}

	inserted, err := g.store.SubmitDailyAttempt(ctx, player, date, isCorrect, elapsed)
	if err != nil {
		g.metrics.DailySubmission("failed")
		if marked {
			if uerr := g.marks.Unmark(context.WithoutCancel(ctx), player, date, token); uerr != nil {
				logger.Error().Err(uerr).Msg("failed to roll back daily mark")
			}
		}
		logger.Error().Err(err).Msg("daily submission failed")
		return Outcome{}, fmt.Errorf("submit daily attempt: %w", err)
	}

	attempt, err := g.store.GetDailyAttempt(ctx, player, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("re-read daily attempt: %w", err)
	}

	if inserted {
		g.metrics.DailySubmission("accepted")
		logger.Info().Bool("correct", attempt.IsCorrect).Int("time_spent", attempt.TimeSpentSecs).Msg("daily attempt accepted")
	} else {
		g.metrics.DailySubmission("duplicate")
		logger.Info().Msg("daily attempt already recorded, reconciled to server")
	}
	return Outcome{Attempt: attempt, Accepted: inserted}, nil
}

func (g *Guard) markIsStale(ctx context.Context, logger zerolog.Logger, player uuid.UUID, date string) bool {
	age, held, err := g.marks.Age(ctx, player, date)
	if err != nil {
		logger.Warn().Err(err).Msg("daily mark age unavailable")
		return false
	}
	return !held || age >= g.markGrace
}

// Answer checks choice against today's question and submits the result.
// Elapsed time runs from the session start recorded by Enter; a player who
// never entered gets ErrSessionNotStarted.
func (g *Guard) Answer(ctx context.Context, player uuid.UUID, choice string) (Outcome, error) {
	if player == uuid.Nil {
		return Outcome{}, ErrAuthRequired
	}
	date := g.Today()

	existing, err := g.store.GetDailyAttempt(ctx, player, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("get daily attempt: %w", err)
	}
	if existing.IsAnswered {
		g.metrics.DailySubmission("duplicate")
		return Outcome{Attempt: existing}, nil
	}

	started, ok, err := g.store.GetDailySession(ctx, player, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("get daily session: %w", err)
	}
	if !ok {
		return Outcome{}, ErrSessionNotStarted
	}

	q, err := g.store.FetchDailyQuestion(ctx, date, false)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch daily question for %s: %w", date, err)
	}
	res, err := g.evaluator.Check(ctx, q.ID, choice)
	if err != nil {
		return Outcome{}, fmt.Errorf("check daily answer: %w", err)
	}

	elapsed := int(g.now().Sub(started) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	out, err := g.Submit(ctx, player, date, res.Correct, elapsed)
	if err != nil {
		return Outcome{}, err
	}
	out.Result = &res
	return out, nil
}
