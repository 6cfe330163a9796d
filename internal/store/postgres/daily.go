package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	"github.com/ivoshchikov/movie-quiz/internal/streak"
)

// AssignDailyQuestion pins a question to date, preferring questions that were
// never used for Daily mode. The first assignment for a date wins.
func (s *Store) AssignDailyQuestion(ctx context.Context, date string) (int64, error) {
	day, err := pgDate(date)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO daily_question (date, question_id)
		SELECT $1, q.id FROM question q
		WHERE NOT EXISTS (SELECT 1 FROM daily_question d WHERE d.question_id = q.id)
		ORDER BY random()
		LIMIT 1
		ON CONFLICT (date) DO NOTHING`, day)
	if err != nil {
		return 0, fmt.Errorf("assign daily question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Every question has been used already; recycle.
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO daily_question (date, question_id)
			SELECT $1, id FROM question ORDER BY random() LIMIT 1
			ON CONFLICT (date) DO NOTHING`, day); err != nil {
			return 0, fmt.Errorf("recycle daily question: %w", err)
		}
	}

	var id int64
	err = s.pool.QueryRow(ctx, `SELECT question_id FROM daily_question WHERE date = $1`, day).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, quiz.ErrNoDailyQuestion
	}
	if err != nil {
		return 0, fmt.Errorf("read daily question: %w", err)
	}
	return id, nil
}

// FetchDailyQuestion returns the question for date, assigning one when the
// rotation job has not run yet.
func (s *Store) FetchDailyQuestion(ctx context.Context, date string, includeAnswer bool) (quiz.Question, error) {
	id, err := s.AssignDailyQuestion(ctx, date)
	if err != nil {
		return quiz.Question{}, err
	}
	q, err := scanQuestion(s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM question WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return quiz.Question{}, quiz.ErrNoDailyQuestion
	}
	if err != nil {
		return quiz.Question{}, fmt.Errorf("fetch daily question: %w", err)
	}
	if !includeAnswer {
		return q.Public(), nil
	}
	return q, nil
}

// StartDailySession records when the player first saw the daily question.
// Later calls return the original start time.
func (s *Store) StartDailySession(ctx context.Context, userID uuid.UUID, date string) (time.Time, error) {
	day, err := pgDate(date)
	if err != nil {
		return time.Time{}, err
	}
	var started time.Time
	err = s.pool.QueryRow(ctx, `
		INSERT INTO daily_session (user_id, date) VALUES ($1, $2)
		ON CONFLICT (user_id, date) DO UPDATE SET started_at = daily_session.started_at
		RETURNING started_at`, pgUUID(userID), day).Scan(&started)
	if err != nil {
		return time.Time{}, fmt.Errorf("start daily session: %w", err)
	}
	return started, nil
}

// GetDailySession returns the recorded session start without creating one.
func (s *Store) GetDailySession(ctx context.Context, userID uuid.UUID, date string) (time.Time, bool, error) {
	day, err := pgDate(date)
	if err != nil {
		return time.Time{}, false, err
	}
	var started time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT started_at FROM daily_session
		WHERE user_id = $1 AND date = $2`, pgUUID(userID), day).Scan(&started)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get daily session: %w", err)
	}
	return started, true, nil
}

func (s *Store) GetDailyAttempt(ctx context.Context, userID uuid.UUID, date string) (quiz.DailyAttempt, error) {
	day, err := pgDate(date)
	if err != nil {
		return quiz.DailyAttempt{}, err
	}
	a := quiz.DailyAttempt{UserID: userID, Date: date}
	var answeredAt time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT is_correct, time_spent, answered_at
		FROM daily_attempt
		WHERE user_id = $1 AND date = $2`, pgUUID(userID), day).Scan(&a.IsCorrect, &a.TimeSpentSecs, &answeredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return quiz.DailyAttempt{}, fmt.Errorf("get daily attempt: %w", err)
	}
	a.IsAnswered = true
	a.AnsweredAt = &answeredAt
	return a, nil
}

// SubmitDailyAttempt inserts the attempt unless one exists and, when it did
// insert, advances the player's streak in the same transaction.
func (s *Store) SubmitDailyAttempt(ctx context.Context, userID uuid.UUID, date string, isCorrect bool, elapsed int) (bool, error) {
	day, err := pgDate(date)
	if err != nil {
		return false, err
	}
	uid := pgUUID(userID)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO daily_attempt (user_id, date, is_correct, time_spent)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, date) DO NOTHING`, uid, day, isCorrect, elapsed)
	if err != nil {
		return false, fmt.Errorf("insert daily attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO user_streak (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, uid); err != nil {
		return false, fmt.Errorf("ensure streak row: %w", err)
	}

	var (
		prev                    quiz.StreakRecord
		lastPlayed, lastCorrect pgtype.Date
	)
	err = tx.QueryRow(ctx, `
		SELECT current_streak, longest_streak, total_correct, last_played_date, last_correct_date
		FROM user_streak WHERE user_id = $1 FOR UPDATE`, uid).
		Scan(&prev.CurrentStreak, &prev.LongestStreak, &prev.TotalCorrect, &lastPlayed, &lastCorrect)
	if err != nil {
		return false, fmt.Errorf("lock streak row: %w", err)
	}
	prev.LastPlayedDate = dateString(lastPlayed)
	prev.LastCorrectDate = dateString(lastCorrect)

	next, err := streak.Advance(prev, date, isCorrect)
	if err != nil {
		return false, err
	}
	nextCorrect, err := optionalDate(next.LastCorrectDate)
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE user_streak
		SET current_streak = $2, longest_streak = $3, total_correct = $4,
		    last_played_date = $5, last_correct_date = $6, updated_at = now()
		WHERE user_id = $1`,
		uid, next.CurrentStreak, next.LongestStreak, next.TotalCorrect, day, nextCorrect); err != nil {
		return false, fmt.Errorf("update streak: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit daily attempt: %w", err)
	}
	return true, nil
}

func optionalDate(date string) (pgtype.Date, error) {
	if date == "" {
		return pgtype.Date{}, nil
	}
	return pgDate(date)
}

// Streaks and daily boards.

func (s *Store) GetStreak(ctx context.Context, userID uuid.UUID) (quiz.StreakRecord, error) {
	rec := quiz.StreakRecord{UserID: userID}
	var lastPlayed, lastCorrect pgtype.Date
	err := s.pool.QueryRow(ctx, `
		SELECT current_streak, longest_streak, total_correct, last_played_date, last_correct_date
		FROM user_streak WHERE user_id = $1`, pgUUID(userID)).
		Scan(&rec.CurrentStreak, &rec.LongestStreak, &rec.TotalCorrect, &lastPlayed, &lastCorrect)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return quiz.StreakRecord{}, fmt.Errorf("get streak: %w", err)
	}
	rec.LastPlayedDate = dateString(lastPlayed)
	rec.LastCorrectDate = dateString(lastCorrect)
	return rec, nil
}

// TopStreaks ranks streaks still alive on or after since.
func (s *Store) TopStreaks(ctx context.Context, since string, limit int) ([]quiz.StreakRecord, error) {
	day, err := pgDate(since)
	if err != nil {
		return nil, err
	}
	return s.listStreaks(ctx, "top streaks", `
		SELECT user_id, current_streak, longest_streak, total_correct, last_played_date, last_correct_date
		FROM user_streak
		WHERE current_streak > 0 AND last_correct_date >= $2
		ORDER BY current_streak DESC, user_id
		LIMIT $1`, limit, day)
}

func (s *Store) LongestStreaks(ctx context.Context, limit int) ([]quiz.StreakRecord, error) {
	return s.listStreaks(ctx, "longest streaks", `
		SELECT user_id, current_streak, longest_streak, total_correct, last_played_date, last_correct_date
		FROM user_streak
		WHERE longest_streak > 0
		ORDER BY longest_streak DESC, user_id
		LIMIT $1`, limit)
}

func (s *Store) TopTotalCorrect(ctx context.Context, limit int) ([]quiz.StreakRecord, error) {
	return s.listStreaks(ctx, "total correct", `
		SELECT user_id, current_streak, longest_streak, total_correct, last_played_date, last_correct_date
		FROM user_streak
		WHERE total_correct > 0
		ORDER BY total_correct DESC, user_id
		LIMIT $1`, limit)
}

func (s *Store) listStreaks(ctx context.Context, what, query string, args ...any) ([]quiz.StreakRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.StreakRecord, error) {
		var (
			rec                     quiz.StreakRecord
			id                      pgtype.UUID
			lastPlayed, lastCorrect pgtype.Date
		)
		err := row.Scan(&id, &rec.CurrentStreak, &rec.LongestStreak, &rec.TotalCorrect, &lastPlayed, &lastCorrect)
		rec.UserID = uuid.UUID(id.Bytes)
		rec.LastPlayedDate = dateString(lastPlayed)
		rec.LastCorrectDate = dateString(lastCorrect)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", what, err)
	}
	return out, nil
}

func (s *Store) DailyFastest(ctx context.Context, date string, limit int) ([]quiz.FastestEntry, error) {
	day, err := pgDate(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, time_spent, answered_at
		FROM daily_attempt
		WHERE date = $1 AND is_correct
		ORDER BY time_spent ASC, answered_at ASC
		LIMIT $2`, day, limit)
	if err != nil {
		return nil, fmt.Errorf("query daily fastest: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.FastestEntry, error) {
		var (
			e  quiz.FastestEntry
			id pgtype.UUID
		)
		err := row.Scan(&id, &e.TimeSpent, &e.AnsweredAt)
		e.UserID = uuid.UUID(id.Bytes)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan daily fastest: %w", err)
	}
	return out, nil
}

// FastestAllTime lists the quickest correct daily answers across all dates.
func (s *Store) FastestAllTime(ctx context.Context, limit int) ([]quiz.FastestEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, date, time_spent, answered_at
		FROM daily_attempt
		WHERE is_correct
		ORDER BY time_spent ASC, answered_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fastest all time: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.FastestEntry, error) {
		var (
			e   quiz.FastestEntry
			id  pgtype.UUID
			day pgtype.Date
		)
		err := row.Scan(&id, &day, &e.TimeSpent, &e.AnsweredAt)
		e.UserID = uuid.UUID(id.Bytes)
		e.Date = dateString(day)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fastest all time: %w", err)
	}
	return out, nil
}
