package quiz

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the civil date format used for Daily mode keys.
const DateLayout = "2006-01-02"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoMoreQuestions signals that every question matching the filter has been shown.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrNoDailyQuestion is returned when no question is assigned to a date and none can be assigned.
	ErrNoDailyQuestion = errors.New("no daily question")
)

// Category groups questions by topic.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DifficultyLevel is read-only reference data that shapes a round.
type DifficultyLevel struct {
	ID              int64  `json:"id"`
	Key             string `json:"key"`
	Name            string `json:"name"`
	TimeLimitSecs   int    `json:"time_limit_secs"`
	Lives           int    `json:"lives"`
	MistakesAllowed int    `json:"mistakes_allowed"`
	SortOrder       int    `json:"sort_order"`
}

// Question is immutable once fetched. CorrectAnswer is server-side only.
type Question struct {
	ID                int64    `json:"id"`
	ImageURL          string   `json:"image_url"`
	Options           []string `json:"options"`
	CorrectAnswer     string   `json:"-"`
	CategoryID        int64    `json:"category_id"`
	DifficultyLevelID int64    `json:"difficulty_level_id"`
}

// Public returns a copy without the correct answer.
func (q Question) Public() Question {
	q.CorrectAnswer = ""
	q.Options = append([]string(nil), q.Options...)
	return q
}

// BestScore is a player's best (score, time) for a category/difficulty pair.
type BestScore struct {
	UserID            uuid.UUID `json:"user_id"`
	CategoryID        int64     `json:"category_id"`
	DifficultyLevelID int64     `json:"difficulty_level_id"`
	BestScore         int       `json:"best_score"`
	BestTime          int       `json:"best_time"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DailyAttempt is written at most once per (player, date).
type DailyAttempt struct {
	UserID        uuid.UUID  `json:"user_id"`
	Date          string     `json:"date"`
	IsAnswered    bool       `json:"is_answered"`
	IsCorrect     bool       `json:"is_correct"`
	TimeSpentSecs int        `json:"time_spent"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty"`
}

// FastestEntry is one row of a fastest correct answers board. Date is set
// on the all-time board only.
type FastestEntry struct {
	UserID     uuid.UUID `json:"user_id"`
	Date       string    `json:"date,omitempty"`
	TimeSpent  int       `json:"time_spent"`
	AnsweredAt time.Time `json:"answered_at"`
}

// StreakRecord is maintained by the store on each accepted daily write.
type StreakRecord struct {
	UserID          uuid.UUID `json:"user_id"`
	CurrentStreak   int       `json:"current_streak"`
	LongestStreak   int       `json:"longest_streak"`
	TotalCorrect    int       `json:"total_correct"`
	LastPlayedDate  string    `json:"last_played_date,omitempty"`
	LastCorrectDate string    `json:"-"`
}
