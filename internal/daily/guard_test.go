package daily

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/metrics"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	"github.com/ivoshchikov/movie-quiz/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// 21:00 on 2025-01-10 in Chicago, already 2025-01-11 in UTC.
var lateEvening = time.Date(2025, 1, 11, 3, 0, 0, 0, time.UTC)

func newStore(t *testing.T, clock *fakeClock) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New(memory.Options{Deterministic: true, Now: clock.Now})
	cat, err := store.UpsertCategory(ctx, quiz.Category{Name: "Movies"})
	require.NoError(t, err)
	lvl, err := store.UpsertDifficultyLevel(ctx, quiz.DifficultyLevel{Key: "hard", TimeLimitSecs: 20, Lives: 3, MistakesAllowed: 2})
	require.NoError(t, err)
	_, err = store.UpsertQuestion(ctx, quiz.Question{
		ImageURL:          "https://img.example/heat.jpg",
		Options:           []string{"Heat", "Ronin", "Collateral", "Thief"},
		CorrectAnswer:     "Heat",
		CategoryID:        cat.ID,
		DifficultyLevelID: lvl.ID,
	})
	require.NoError(t, err)
	return store
}

func newRedisMarks(t *testing.T) (*miniredis.Miniredis, *RedisMarks) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisMarks(client, 0)
}

func newGuard(store Store, marks MarkCache, clock *fakeClock, m *metrics.Metrics) *Guard {
	eval := evaluator.New(store.(evaluator.Store), zerolog.Nop())
	return NewGuard(store, marks, eval, m, Options{Now: clock.Now}, zerolog.Nop())
}

func TestToday_UsesReferenceTimezone(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	g := newGuard(newStore(t, clock), NewMemoryMarks(0), clock, nil)
	assert.Equal(t, "2025-01-10", g.Today())
	assert.Equal(t, DefaultTimezone, g.Location().String())
}

func TestSubmit_TwoTabsConvergeOnFirstWrite(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	player := uuid.New()
	ctx := context.Background()

	// each tab has its own optimistic scope
	tabA := newGuard(store, NewMemoryMarks(0), clock, nil)
	tabB := newGuard(store, NewMemoryMarks(0), clock, nil)

	first, err := tabA.Submit(ctx, player, "2025-01-10", true, 12)
	require.NoError(t, err)
	assert.True(t, first.Accepted)

	second, err := tabB.Submit(ctx, player, "2025-01-10", false, 40)
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.True(t, second.Attempt.IsAnswered)
	assert.True(t, second.Attempt.IsCorrect)
	assert.Equal(t, 12, second.Attempt.TimeSpentSecs)

	got, err := tabA.Attempt(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.True(t, got.IsAnswered)
	assert.True(t, got.IsCorrect)
	assert.Equal(t, 12, got.TimeSpentSecs)

	rec, err := store.GetStreak(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentStreak)
	assert.Equal(t, 1, rec.TotalCorrect)
}

func TestSubmit_SameScopeDuplicateBlockedByMark(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	_, marks := newRedisMarks(t)
	m := metrics.New(prometheus.NewRegistry())
	g := newGuard(store, marks, clock, m)
	player := uuid.New()
	ctx := context.Background()

	_, err := g.Submit(ctx, player, "2025-01-10", true, 12)
	require.NoError(t, err)

	out, err := g.Submit(ctx, player, "2025-01-10", false, 3)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.True(t, out.Attempt.IsCorrect)
	assert.Equal(t, 12, out.Attempt.TimeSpentSecs)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DailySubmissions.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DailySubmissions.WithLabelValues("duplicate")))
}

func TestSubmit_ConcurrentSingleWinner(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	_, marks := newRedisMarks(t)
	g := newGuard(store, marks, clock, nil)
	player := uuid.New()
	ctx := context.Background()

	const writers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := g.Submit(ctx, player, "2025-01-10", i%2 == 0, 10+i)
			if err != nil {
				assert.ErrorIs(t, err, ErrSubmitInProgress)
				return
			}
			if out.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	got, err := store.GetDailyAttempt(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.True(t, got.IsAnswered)
}

type failingStore struct {
	*memory.Store
	mu    sync.Mutex
	fails int
}

func (s *failingStore) SubmitDailyAttempt(ctx context.Context, userID uuid.UUID, date string, isCorrect bool, elapsed int) (bool, error) {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return false, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.Store.SubmitDailyAttempt(ctx, userID, date, isCorrect, elapsed)
}

func TestSubmit_WriteFailureRollsBackMark(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := &failingStore{Store: newStore(t, clock), fails: 1}
	mr, marks := newRedisMarks(t)
	g := newGuard(store, marks, clock, nil)
	player := uuid.New()
	ctx := context.Background()

	_, err := g.Submit(ctx, player, "2025-01-10", true, 12)
	require.Error(t, err)
	assert.False(t, mr.Exists(markKey(player, "2025-01-10")))

	got, err := store.GetDailyAttempt(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.False(t, got.IsAnswered)

	out, err := g.Submit(ctx, player, "2025-01-10", true, 12)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.True(t, mr.Exists(markKey(player, "2025-01-10")))
	ttl := mr.TTL(markKey(player, "2025-01-10"))
	assert.Equal(t, defaultMarkTTL, ttl)
}

func TestSubmit_Validation(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	g := newGuard(newStore(t, clock), NewMemoryMarks(0), clock, nil)
	ctx := context.Background()

	_, err := g.Submit(ctx, uuid.Nil, "2025-01-10", true, 1)
	assert.ErrorIs(t, err, ErrAuthRequired)
	_, err = g.Submit(ctx, uuid.New(), "01/10/2025", true, 1)
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = g.Submit(ctx, uuid.New(), "2025-01-10", true, -1)
	assert.ErrorIs(t, err, ErrInvalidElapsed)
}

func TestEnter_States(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	g := newGuard(store, NewMemoryMarks(0), clock, nil)
	ctx := context.Background()

	anon, err := g.Enter(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, EntryAnonymous, anon.State)
	require.NotNil(t, anon.Question)
	assert.Empty(t, anon.Question.CorrectAnswer)
	assert.Nil(t, anon.StartedAt)

	player := uuid.New()
	open, err := g.Enter(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, EntryOpen, open.State)
	assert.Equal(t, "2025-01-10", open.Date)
	require.NotNil(t, open.StartedAt)
	assert.True(t, open.StartedAt.Equal(lateEvening))

	// re-entering keeps the first session start
	clock.Advance(5 * time.Second)
	again, err := g.Enter(ctx, player)
	require.NoError(t, err)
	assert.True(t, again.StartedAt.Equal(lateEvening))

	_, err = g.Submit(ctx, player, "2025-01-10", false, 5)
	require.NoError(t, err)

	done, err := g.Enter(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, EntryAlreadyAnswered, done.State)
	require.NotNil(t, done.Attempt)
	assert.True(t, done.Attempt.IsAnswered)
	assert.False(t, done.Attempt.IsCorrect)
}

func TestAnswer_UsesServerSideElapsed(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	g := newGuard(store, NewMemoryMarks(0), clock, nil)
	player := uuid.New()
	ctx := context.Background()

	_, err := g.Enter(ctx, player)
	require.NoError(t, err)
	clock.Advance(12*time.Second + 700*time.Millisecond)

	out, err := g.Answer(ctx, player, " Heat ")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Correct)
	assert.Equal(t, "Heat", out.Result.CorrectAnswer)
	assert.Equal(t, 12, out.Attempt.TimeSpentSecs)
	assert.True(t, out.Attempt.IsCorrect)

	// a second answer is a no-op
	again, err := g.Answer(ctx, player, "Ronin")
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Nil(t, again.Result)
	assert.True(t, again.Attempt.IsCorrect)

	rec, err := store.GetStreak(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentStreak)
}

func TestAnswer_Anonymous(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	g := newGuard(newStore(t, clock), NewMemoryMarks(0), clock, nil)
	_, err := g.Answer(context.Background(), uuid.Nil, "Heat")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAnswer_RequiresEnteredSession(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	g := newGuard(store, NewMemoryMarks(0), clock, nil)
	player := uuid.New()
	ctx := context.Background()

	// viewing anonymously records nothing for the player
	_, err := g.Enter(ctx, uuid.Nil)
	require.NoError(t, err)
	clock.Advance(45 * time.Second)

	_, err = g.Answer(ctx, player, "Heat")
	assert.ErrorIs(t, err, ErrSessionNotStarted)

	got, err := store.GetDailyAttempt(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.False(t, got.IsAnswered)
	_, started, err := store.GetDailySession(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.False(t, started)

	// entering starts the clock from now, not from the anonymous view
	_, err = g.Enter(ctx, player)
	require.NoError(t, err)
	clock.Advance(7 * time.Second)
	out, err := g.Answer(ctx, player, "Heat")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, 7, out.Attempt.TimeSpentSecs)
}

func TestSubmit_StaleMarkWithoutAttemptWritesThrough(t *testing.T) {
	clock := &fakeClock{t: lateEvening}
	store := newStore(t, clock)
	mr, marks := newRedisMarks(t)
	g := newGuard(store, marks, clock, nil)
	player := uuid.New()
	ctx := context.Background()

	// a mark left behind by a writer that died before the insert
	_, ok, err := marks.Mark(ctx, player, "2025-01-10")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = g.Submit(ctx, player, "2025-01-10", true, 12)
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	mr.FastForward(defaultMarkGrace + time.Second)
	out, err := g.Submit(ctx, player, "2025-01-10", true, 12)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.True(t, out.Attempt.IsAnswered)

	again, err := g.Submit(ctx, player, "2025-01-10", false, 1)
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Equal(t, 12, again.Attempt.TimeSpentSecs)
}

func TestMemoryMarks_Age(t *testing.T) {
	marks := NewMemoryMarks(time.Minute)
	clock := &fakeClock{t: lateEvening}
	marks.now = clock.Now
	ctx := context.Background()
	player := uuid.New()

	_, held, err := marks.Age(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.False(t, held)

	_, _, err = marks.Mark(ctx, player, "2025-01-10")
	require.NoError(t, err)
	clock.Advance(20 * time.Second)
	age, held, err := marks.Age(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, 20*time.Second, age)

	clock.Advance(time.Minute)
	_, held, _ = marks.Age(ctx, player, "2025-01-10")
	assert.False(t, held)
}

func TestMemoryMarks_ExpiryAndOwnership(t *testing.T) {
	marks := NewMemoryMarks(time.Minute)
	clock := &fakeClock{t: lateEvening}
	marks.now = clock.Now
	ctx := context.Background()
	player := uuid.New()

	token, ok, err := marks.Mark(ctx, player, "2025-01-10")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = marks.Mark(ctx, player, "2025-01-10")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, marks.Unmark(ctx, player, "2025-01-10", "someone-else"))
	_, ok, _ = marks.Mark(ctx, player, "2025-01-10")
	assert.False(t, ok)

	require.NoError(t, marks.Unmark(ctx, player, "2025-01-10", token))
	_, ok, _ = marks.Mark(ctx, player, "2025-01-10")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok, _ = marks.Mark(ctx, player, "2025-01-10")
	assert.True(t, ok)
}

func TestRedisMarks_UnmarkOnlyOwnToken(t *testing.T) {
	mr, marks := newRedisMarks(t)
	ctx := context.Background()
	player := uuid.New()

	token, ok, err := marks.Mark(ctx, player, "2025-01-10")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, marks.Unmark(ctx, player, "2025-01-10", "stale-token"))
	assert.True(t, mr.Exists(markKey(player, "2025-01-10")))

	require.NoError(t, marks.Unmark(ctx, player, "2025-01-10", token))
	assert.False(t, mr.Exists(markKey(player, "2025-01-10")))
}
