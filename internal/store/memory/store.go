// Package memory is an in-process implementation of the quiz data store.
// It mirrors the Postgres semantics (first write wins for daily rows,
// keep-higher best scores, streak projection on accepted writes).
package memory

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	"github.com/ivoshchikov/movie-quiz/internal/streak"
)

// Options tunes the store for tests.
type Options struct {
	// Deterministic makes FetchQuestion return the lowest eligible id.
	Deterministic bool
	Now           func() time.Time
	Seed          int64
}

type bestKey struct {
	user       uuid.UUID
	category   int64
	difficulty int64
}

type dailyKey struct {
	user uuid.UUID
	date string
}

type questionStats struct {
	shown   int
	correct int
}

// Store keeps every table in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	categories map[int64]quiz.Category
	levels     map[int64]quiz.DifficultyLevel
	questions  map[int64]quiz.Question
	stats      map[int64]questionStats
	best       map[bestKey]quiz.BestScore
	dailyQ     map[string]int64
	sessions   map[dailyKey]time.Time
	attempts   map[dailyKey]quiz.DailyAttempt
	streaks    map[uuid.UUID]quiz.StreakRecord

	deterministic bool
	now           func() time.Time
	rnd           *rand.Rand
}

func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Store{
		categories:    make(map[int64]quiz.Category),
		levels:        make(map[int64]quiz.DifficultyLevel),
		questions:     make(map[int64]quiz.Question),
		stats:         make(map[int64]questionStats),
		best:          make(map[bestKey]quiz.BestScore),
		dailyQ:        make(map[string]int64),
		sessions:      make(map[dailyKey]time.Time),
		attempts:      make(map[dailyKey]quiz.DailyAttempt),
		streaks:       make(map[uuid.UUID]quiz.StreakRecord),
		deterministic: opts.Deterministic,
		now:           now,
		rnd:           rand.New(rand.NewSource(seed)),
	}
}

// UpsertCategory inserts or renames a category.
func (s *Store) UpsertCategory(_ context.Context, c quiz.Category) (quiz.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = int64(len(s.categories) + 1)
		for id, existing := range s.categories {
			if existing.Name == c.Name {
				c.ID = id
			}
		}
	}
	s.categories[c.ID] = c
	return c, nil
}

// UpsertDifficultyLevel inserts or replaces a difficulty level.
func (s *Store) UpsertDifficultyLevel(_ context.Context, l quiz.DifficultyLevel) (quiz.DifficultyLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = int64(len(s.levels) + 1)
		for id, existing := range s.levels {
			if existing.Key == l.Key {
				l.ID = id
			}
		}
	}
	s.levels[l.ID] = l
	return l, nil
}

// UpsertQuestion inserts or replaces a question.
func (s *Store) UpsertQuestion(_ context.Context, q quiz.Question) (quiz.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = int64(len(s.questions) + 1)
		for id, existing := range s.questions {
			if existing.ImageURL == q.ImageURL && existing.CategoryID == q.CategoryID && existing.DifficultyLevelID == q.DifficultyLevelID {
				q.ID = id
			}
		}
	}
	q.Options = append([]string(nil), q.Options...)
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) ListCategories(_ context.Context) ([]quiz.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]quiz.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListDifficultyLevels(_ context.Context) ([]quiz.DifficultyLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]quiz.DifficultyLevel, 0, len(s.levels))
	for _, l := range s.levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *Store) GetDifficultyLevel(_ context.Context, id int64) (quiz.DifficultyLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.levels[id]
	if !ok {
		return quiz.DifficultyLevel{}, quiz.ErrNotFound
	}
	return l, nil
}

func (s *Store) CountQuestions(_ context.Context, categoryID, difficultyID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.questions {
		if q.CategoryID == categoryID && q.DifficultyLevelID == difficultyID {
			n++
		}
	}
	return n, nil
}

// FetchQuestion picks a question matching the filter that is not excluded.
func (s *Store) FetchQuestion(_ context.Context, categoryID, difficultyID int64, exclude []int64) (quiz.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var candidates []quiz.Question
	for _, q := range s.questions {
		if q.CategoryID != categoryID || q.DifficultyLevelID != difficultyID {
			continue
		}
		if _, excluded := skip[q.ID]; excluded {
			continue
		}
		candidates = append(candidates, q)
	}
	if len(candidates) == 0 {
		return quiz.Question{}, quiz.ErrNoMoreQuestions
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	pick := 0
	if !s.deterministic {
		pick = s.rnd.Intn(len(candidates))
	}
	q := candidates[pick]
	q.Options = append([]string(nil), q.Options...)
	return q, nil
}

func (s *Store) CorrectAnswer(_ context.Context, questionID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return "", quiz.ErrNotFound
	}
	return q.CorrectAnswer, nil
}

func (s *Store) TouchQuestionStats(_ context.Context, questionID int64, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[questionID]
	st.shown++
	if correct {
		st.correct++
	}
	s.stats[questionID] = st
	return nil
}

// QuestionStats reports (shown, correct) counters.
func (s *Store) QuestionStats(questionID int64) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[questionID]
	return st.shown, st.correct
}

// UpsertBestScore keeps the higher score, and the faster time on ties.
func (s *Store) UpsertBestScore(_ context.Context, userID uuid.UUID, categoryID, difficultyID int64, score, elapsed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bestKey{user: userID, category: categoryID, difficulty: difficultyID}
	cur, ok := s.best[key]
	if ok && (score < cur.BestScore || (score == cur.BestScore && elapsed >= cur.BestTime)) {
		return nil
	}
	s.best[key] = quiz.BestScore{
		UserID:            userID,
		CategoryID:        categoryID,
		DifficultyLevelID: difficultyID,
		BestScore:         score,
		BestTime:          elapsed,
		UpdatedAt:         s.now(),
	}
	return nil
}

func (s *Store) ListBestScores(_ context.Context, userID uuid.UUID) ([]quiz.BestScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quiz.BestScore
	for k, v := range s.best {
		if k.user == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BestScore > out[j].BestScore })
	return out, nil
}

func (s *Store) TopBestScores(_ context.Context, categoryID, difficultyID int64, limit int) ([]quiz.BestScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quiz.BestScore
	for k, v := range s.best {
		if k.category == categoryID && k.difficulty == difficultyID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BestScore != out[j].BestScore {
			return out[i].BestScore > out[j].BestScore
		}
		return out[i].BestTime < out[j].BestTime
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AssignDailyQuestion pins a question to a date; the first assignment wins.
func (s *Store) AssignDailyQuestion(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignLocked(date)
}

func (s *Store) assignLocked(date string) (int64, error) {
	if id, ok := s.dailyQ[date]; ok {
		return id, nil
	}
	used := make(map[int64]struct{}, len(s.dailyQ))
	for _, id := range s.dailyQ {
		used[id] = struct{}{}
	}
	var ids []int64
	for id := range s.questions {
		if _, seen := used[id]; !seen {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for id := range s.questions {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, quiz.ErrNoDailyQuestion
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pick := ids[0]
	if !s.deterministic {
		pick = ids[s.rnd.Intn(len(ids))]
	}
	s.dailyQ[date] = pick
	return pick, nil
}

func (s *Store) FetchDailyQuestion(_ context.Context, date string, includeAnswer bool) (quiz.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.assignLocked(date)
	if err != nil {
		return quiz.Question{}, err
	}
	q, ok := s.questions[id]
	if !ok {
		return quiz.Question{}, quiz.ErrNoDailyQuestion
	}
	if !includeAnswer {
		return q.Public(), nil
	}
	q.Options = append([]string(nil), q.Options...)
	return q, nil
}

func (s *Store) StartDailySession(_ context.Context, userID uuid.UUID, date string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dailyKey{user: userID, date: date}
	if started, ok := s.sessions[key]; ok {
		return started, nil
	}
	started := s.now()
	s.sessions[key] = started
	return started, nil
}

func (s *Store) GetDailySession(_ context.Context, userID uuid.UUID, date string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started, ok := s.sessions[dailyKey{user: userID, date: date}]
	return started, ok, nil
}

func (s *Store) GetDailyAttempt(_ context.Context, userID uuid.UUID, date string) (quiz.DailyAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[dailyKey{user: userID, date: date}]; ok {
		return a, nil
	}
	return quiz.DailyAttempt{UserID: userID, Date: date}, nil
}

// SubmitDailyAttempt inserts the attempt if none exists and reports whether it did.
func (s *Store) SubmitDailyAttempt(_ context.Context, userID uuid.UUID, date string, isCorrect bool, elapsed int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dailyKey{user: userID, date: date}
	if _, exists := s.attempts[key]; exists {
		return false, nil
	}

	next, err := streak.Advance(s.streaks[userID], date, isCorrect)
	if err != nil {
		return false, err
	}

	at := s.now()
	s.attempts[key] = quiz.DailyAttempt{
		UserID:        userID,
		Date:          date,
		IsAnswered:    true,
		IsCorrect:     isCorrect,
		TimeSpentSecs: elapsed,
		AnsweredAt:    &at,
	}
	next.UserID = userID
	s.streaks[userID] = next
	return true, nil
}

func (s *Store) GetStreak(_ context.Context, userID uuid.UUID) (quiz.StreakRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.streaks[userID]
	rec.UserID = userID
	return rec, nil
}

// SetStreak overwrites a streak row; used to seed fixtures.
func (s *Store) SetStreak(rec quiz.StreakRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[rec.UserID] = rec
}

// TopStreaks ranks streaks still alive on or after since.
func (s *Store) TopStreaks(_ context.Context, since string, limit int) ([]quiz.StreakRecord, error) {
	return s.rankStreaks(limit, func(rec quiz.StreakRecord) int {
		if rec.LastCorrectDate < since {
			return 0
		}
		return rec.CurrentStreak
	}), nil
}

func (s *Store) LongestStreaks(_ context.Context, limit int) ([]quiz.StreakRecord, error) {
	return s.rankStreaks(limit, func(rec quiz.StreakRecord) int { return rec.LongestStreak }), nil
}

func (s *Store) TopTotalCorrect(_ context.Context, limit int) ([]quiz.StreakRecord, error) {
	return s.rankStreaks(limit, func(rec quiz.StreakRecord) int { return rec.TotalCorrect }), nil
}

// rankStreaks orders records by score descending, dropping zero scores.
func (s *Store) rankStreaks(limit int, score func(quiz.StreakRecord) int) []quiz.StreakRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]quiz.StreakRecord, 0, len(s.streaks))
	for _, rec := range s.streaks {
		if score(rec) > 0 {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if si, sj := score(out[i]), score(out[j]); si != sj {
			return si > sj
		}
		return strings.Compare(out[i].UserID.String(), out[j].UserID.String()) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) DailyFastest(_ context.Context, date string, limit int) ([]quiz.FastestEntry, error) {
	return s.fastest(limit, func(d string) bool { return d == date }, false), nil
}

// FastestAllTime lists the quickest correct daily answers across all dates.
func (s *Store) FastestAllTime(_ context.Context, limit int) ([]quiz.FastestEntry, error) {
	return s.fastest(limit, func(string) bool { return true }, true), nil
}

func (s *Store) fastest(limit int, keep func(date string) bool, withDate bool) []quiz.FastestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quiz.FastestEntry
	for k, a := range s.attempts {
		if !keep(k.date) || !a.IsCorrect || a.AnsweredAt == nil {
			continue
		}
		e := quiz.FastestEntry{UserID: a.UserID, TimeSpent: a.TimeSpentSecs, AnsweredAt: *a.AnsweredAt}
		if withDate {
			e.Date = k.date
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeSpent != out[j].TimeSpent {
			return out[i].TimeSpent < out[j].TimeSpent
		}
		return out[i].AnsweredAt.Before(out[j].AnsweredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
