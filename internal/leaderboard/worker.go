package leaderboard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// Boards enumerates the (category, difficulty) pairs that have a board.
type Boards interface {
	Categories(ctx context.Context) ([]quiz.Category, error)
	DifficultyLevels(ctx context.Context) ([]quiz.DifficultyLevel, error)
}

// Source is the authoritative best-score store.
type Source interface {
	TopBestScores(ctx context.Context, categoryID, difficultyID int64, limit int) ([]quiz.BestScore, error)
}

// SyncWorker periodically rebuilds the Redis boards from Postgres so that a
// flushed or lagging cache converges on the stored best scores.
type SyncWorker struct {
	svc      *Service
	boards   Boards
	source   Source
	logger   zerolog.Logger
	interval time.Duration
}

func NewSyncWorker(svc *Service, boards Boards, source Source, interval time.Duration, logger zerolog.Logger) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncWorker{
		svc:      svc,
		boards:   boards,
		source:   source,
		logger:   logger.With().Str("component", "leaderboard_sync_worker").Logger(),
		interval: interval,
	}
}

// Run blocks until context cancellation.
func (w *SyncWorker) Run(ctx context.Context) error {
	if w.svc == nil || w.source == nil || w.boards == nil {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// run immediately
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SyncWorker) tick(ctx context.Context) {
	cats, err := w.boards.Categories(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("list categories for sync failed")
		return
	}
	levels, err := w.boards.DifficultyLevels(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("list difficulty levels for sync failed")
		return
	}

	synced := 0
	for _, c := range cats {
		for _, l := range levels {
			if ctx.Err() != nil {
				return
			}
			rows, err := w.source.TopBestScores(ctx, c.ID, l.ID, w.svc.TopN())
			if err != nil {
				w.logger.Warn().Err(err).Int64("category_id", c.ID).Int64("difficulty_id", l.ID).Msg("board fetch failed")
				continue
			}
			if err := w.svc.Replace(ctx, c.ID, l.ID, rows); err != nil {
				w.logger.Warn().Err(err).Int64("category_id", c.ID).Int64("difficulty_id", l.ID).Msg("board rebuild failed")
				continue
			}
			synced++
		}
	}
	w.logger.Debug().Int("boards", synced).Msg("leaderboards synced")
}
