package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/leaderboard"
	"github.com/ivoshchikov/movie-quiz/internal/metrics"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// Store is the slice of the data layer a round needs.
type Store interface {
	FetchQuestion(ctx context.Context, categoryID, difficultyID int64, exclude []int64) (quiz.Question, error)
	UpsertBestScore(ctx context.Context, userID uuid.UUID, categoryID, difficultyID int64, score, elapsed int) error
}

// Levels resolves difficulty levels, usually through the catalog cache.
type Levels interface {
	DifficultyLevel(ctx context.Context, id int64) (quiz.DifficultyLevel, error)
}

// Evaluator checks a choice against the authoritative answer.
type Evaluator interface {
	Check(ctx context.Context, questionID int64, choice string) (evaluator.Result, error)
}

// Recorder mirrors finished rounds into the hot leaderboard.
type Recorder interface {
	RecordResult(ctx context.Context, req leaderboard.RecordRequest) error
}

// ManagerOptions configures rounds created by a Manager.
type ManagerOptions struct {
	AdvanceDelay   time.Duration
	TickInterval   time.Duration
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Manager holds the shared collaborators and hands out one Round per client.
type Manager struct {
	store     Store
	levels    Levels
	evaluator Evaluator
	recorder  Recorder
	metrics   *metrics.Metrics
	opts      ManagerOptions
	logger    zerolog.Logger
}

// NewManager wires round dependencies. recorder and m may be nil.
func NewManager(
	store Store,
	levels Levels,
	eval Evaluator,
	recorder Recorder,
	m *metrics.Metrics,
	opts ManagerOptions,
	logger zerolog.Logger,
) *Manager {
	if opts.AdvanceDelay <= 0 {
		opts.AdvanceDelay = 500 * time.Millisecond
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     store,
		levels:    levels,
		evaluator: eval,
		recorder:  recorder,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("component", "game").Logger(),
	}
}

// NewRound returns an idle round that reports to sink.
func (m *Manager) NewRound(sink Sink) *Round {
	return newRound(m, sink)
}
