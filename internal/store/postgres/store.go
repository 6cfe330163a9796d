// Package postgres implements the quiz data store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// Store runs every query against a shared pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgDate(date string) (pgtype.Date, error) {
	t, err := time.Parse(quiz.DateLayout, date)
	if err != nil {
		return pgtype.Date{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

func dateString(d pgtype.Date) string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(quiz.DateLayout)
}

// Reference data.

func (s *Store) ListCategories(ctx context.Context) ([]quiz.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM category ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.Category, error) {
		var c quiz.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}
	return out, nil
}

const levelColumns = `id, key, name, time_limit_secs, lives, mistakes_allowed, sort_order`

func scanLevel(row pgx.Row) (quiz.DifficultyLevel, error) {
	var l quiz.DifficultyLevel
	err := row.Scan(&l.ID, &l.Key, &l.Name, &l.TimeLimitSecs, &l.Lives, &l.MistakesAllowed, &l.SortOrder)
	return l, err
}

func (s *Store) ListDifficultyLevels(ctx context.Context) ([]quiz.DifficultyLevel, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+levelColumns+` FROM difficulty_level ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("query difficulty levels: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.DifficultyLevel, error) {
		return scanLevel(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan difficulty levels: %w", err)
	}
	return out, nil
}

func (s *Store) GetDifficultyLevel(ctx context.Context, id int64) (quiz.DifficultyLevel, error) {
	l, err := scanLevel(s.pool.QueryRow(ctx, `SELECT `+levelColumns+` FROM difficulty_level WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return quiz.DifficultyLevel{}, quiz.ErrNotFound
	}
	if err != nil {
		return quiz.DifficultyLevel{}, fmt.Errorf("get difficulty level %d: %w", id, err)
	}
	return l, nil
}

func (s *Store) CountQuestions(ctx context.Context, categoryID, difficultyID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM question WHERE category_id = $1 AND difficulty_level_id = $2`,
		categoryID, difficultyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// Questions.

const questionColumns = `id, image_url, options, correct_answer, category_id, difficulty_level_id`

func scanQuestion(row pgx.Row) (quiz.Question, error) {
	var (
		q   quiz.Question
		raw []byte
	)
	if err := row.Scan(&q.ID, &q.ImageURL, &raw, &q.CorrectAnswer, &q.CategoryID, &q.DifficultyLevelID); err != nil {
		return quiz.Question{}, err
	}
	if err := json.Unmarshal(raw, &q.Options); err != nil {
		return quiz.Question{}, fmt.Errorf("decode options of question %d: %w", q.ID, err)
	}
	return q, nil
}

// FetchQuestion draws a random question of the filter that is not in exclude.
func (s *Store) FetchQuestion(ctx context.Context, categoryID, difficultyID int64, exclude []int64) (quiz.Question, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	q, err := scanQuestion(s.pool.QueryRow(ctx, `
		SELECT `+questionColumns+`
		FROM question
		WHERE category_id = $1
		  AND difficulty_level_id = $2
		  AND NOT (id = ANY($3::bigint[]))
		ORDER BY random()
		LIMIT 1`, categoryID, difficultyID, exclude))
	if errors.Is(err, pgx.ErrNoRows) {
		return quiz.Question{}, quiz.ErrNoMoreQuestions
	}
	if err != nil {
		return quiz.Question{}, fmt.Errorf("fetch question: %w", err)
	}
	return q, nil
}

func (s *Store) CorrectAnswer(ctx context.Context, questionID int64) (string, error) {
	var answer string
	err := s.pool.QueryRow(ctx, `SELECT correct_answer FROM question WHERE id = $1`, questionID).Scan(&answer)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", quiz.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read correct answer: %w", err)
	}
	return answer, nil
}

func (s *Store) TouchQuestionStats(ctx context.Context, questionID int64, correct bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO question_stats (question_id, shown_count, correct_count)
		VALUES ($1, 1, CASE WHEN $2 THEN 1 ELSE 0 END)
		ON CONFLICT (question_id) DO UPDATE
		SET shown_count   = question_stats.shown_count + 1,
		    correct_count = question_stats.correct_count + EXCLUDED.correct_count,
		    updated_at    = now()`, questionID, correct)
	if err != nil {
		return fmt.Errorf("touch question stats: %w", err)
	}
	return nil
}

// Seed writes.

func (s *Store) UpsertCategory(ctx context.Context, c quiz.Category) (quiz.Category, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO category (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, c.Name).Scan(&c.ID)
	if err != nil {
		return quiz.Category{}, fmt.Errorf("upsert category %q: %w", c.Name, err)
	}
	return c, nil
}

func (s *Store) UpsertDifficultyLevel(ctx context.Context, l quiz.DifficultyLevel) (quiz.DifficultyLevel, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO difficulty_level (key, name, time_limit_secs, lives, mistakes_allowed, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET name = EXCLUDED.name,
		    time_limit_secs = EXCLUDED.time_limit_secs,
		    lives = EXCLUDED.lives,
		    mistakes_allowed = EXCLUDED.mistakes_allowed,
		    sort_order = EXCLUDED.sort_order
		RETURNING id`, l.Key, l.Name, l.TimeLimitSecs, l.Lives, l.MistakesAllowed, l.SortOrder).Scan(&l.ID)
	if err != nil {
		return quiz.DifficultyLevel{}, fmt.Errorf("upsert difficulty level %q: %w", l.Key, err)
	}
	return l, nil
}

func (s *Store) UpsertQuestion(ctx context.Context, q quiz.Question) (quiz.Question, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("encode options: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO question (image_url, options, correct_answer, category_id, difficulty_level_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (image_url, category_id, difficulty_level_id) DO UPDATE
		SET options = EXCLUDED.options,
		    correct_answer = EXCLUDED.correct_answer
		RETURNING id`, q.ImageURL, options, q.CorrectAnswer, q.CategoryID, q.DifficultyLevelID).Scan(&q.ID)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("upsert question %q: %w", q.ImageURL, err)
	}
	return q, nil
}

// Best scores.

// UpsertBestScore only replaces the stored row when the new score is higher,
// or equal with a faster time.
func (s *Store) UpsertBestScore(ctx context.Context, userID uuid.UUID, categoryID, difficultyID int64, score, elapsed int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_best (user_id, category_id, difficulty_level_id, best_score, best_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category_id, difficulty_level_id) DO UPDATE
		SET best_score = EXCLUDED.best_score,
		    best_time  = EXCLUDED.best_time,
		    updated_at = now()
		WHERE EXCLUDED.best_score > user_best.best_score
		   OR (EXCLUDED.best_score = user_best.best_score AND EXCLUDED.best_time < user_best.best_time)`,
		pgUUID(userID), categoryID, difficultyID, score, elapsed)
	if err != nil {
		return fmt.Errorf("upsert best score: %w", err)
	}
	return nil
}

func collectBest(rows pgx.Rows) ([]quiz.BestScore, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (quiz.BestScore, error) {
		var (
			b  quiz.BestScore
			id pgtype.UUID
		)
		err := row.Scan(&id, &b.CategoryID, &b.DifficultyLevelID, &b.BestScore, &b.BestTime, &b.UpdatedAt)
		b.UserID = uuid.UUID(id.Bytes)
		return b, err
	})
}

func (s *Store) ListBestScores(ctx context.Context, userID uuid.UUID) ([]quiz.BestScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, category_id, difficulty_level_id, best_score, best_time, updated_at
		FROM user_best
		WHERE user_id = $1
		ORDER BY best_score DESC, best_time ASC`, pgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query best scores: %w", err)
	}
	out, err := collectBest(rows)
	if err != nil {
		return nil, fmt.Errorf("scan best scores: %w", err)
	}
	return out, nil
}

func (s *Store) TopBestScores(ctx context.Context, categoryID, difficultyID int64, limit int) ([]quiz.BestScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, category_id, difficulty_level_id, best_score, best_time, updated_at
		FROM user_best
		WHERE category_id = $1 AND difficulty_level_id = $2
		ORDER BY best_score DESC, best_time ASC, updated_at ASC
		LIMIT $3`, categoryID, difficultyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	out, err := collectBest(rows)
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	return out, nil
}
