package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	ws "github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// maxTrackedTime caps the elapsed seconds folded into a ZSET score.
const maxTrackedTime = 999_999

// Entry represents a leaderboard record sent to clients.
type Entry struct {
	UserID    uuid.UUID `json:"user_id"`
	BestScore int       `json:"best_score"`
	BestTime  int       `json:"best_time"`
}

// RecordRequest captures a finished round.
type RecordRequest struct {
	UserID       uuid.UUID
	CategoryID   int64
	DifficultyID int64
	Score        int
	ElapsedSecs  int
}

// ServiceOptions configures leaderboard service behavior.
type ServiceOptions struct {
	TopN           int
	PubSubChannel  string
	EntryTTL       time.Duration
	RedisKeyPrefix string
}

// Service keeps a hot copy of every (category, difficulty) board in Redis and
// emits updates over Pub/Sub. Postgres stays authoritative.
type Service struct {
	redis         *redis.Client
	logger        zerolog.Logger
	topN          int
	pubsubChannel string
	entryTTL      time.Duration
	prefix        string
}

// NewService constructs a leaderboard service instance.
func NewService(redis *redis.Client, logger zerolog.Logger, opts ServiceOptions) *Service {
	topN := opts.TopN
	if topN <= 0 {
		topN = 50
	}
	channel := opts.PubSubChannel
	if channel == "" {
		channel = DefaultUpdateChannel
	}
	prefix := opts.RedisKeyPrefix
	if prefix == "" {
		prefix = "lb"
	}

	return &Service{
		redis:         redis,
		logger:        logger.With().Str("component", "leaderboard").Logger(),
		topN:          topN,
		pubsubChannel: channel,
		entryTTL:      opts.EntryTTL,
		prefix:        prefix,
	}
}

// TopN is the largest board size served.
func (s *Service) TopN() int {
	return s.topN
}

// RecordResult folds a round into the board, keeping the better of the stored
// and the new result, then publishes the refreshed top entries.
func (s *Service) RecordResult(ctx context.Context, req RecordRequest) error {
	key := s.boardKey(req.CategoryID, req.DifficultyID)

	pipe := s.redis.TxPipeline()
	pipe.ZAddGT(ctx, key, redis.Z{
		Score:  encodeScore(req.Score, req.ElapsedSecs),
		Member: req.UserID.String(),
	})
	if s.entryTTL > 0 {
		pipe.Expire(ctx, key, s.entryTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard %s: %w", key, err)
	}

	go s.publishUpdate(context.Background(), req.CategoryID, req.DifficultyID)
	return nil
}

// Top retrieves the best entries of a board.
func (s *Service) Top(ctx context.Context, categoryID, difficultyID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.topN {
		limit = s.topN
	}

	results, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(categoryID, difficultyID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			s.logger.Warn().Err(err).Str("member", member).Msg("skip malformed leaderboard member")
			continue
		}
		score, elapsed := decodeScore(z.Score)
		entries = append(entries, Entry{UserID: id, BestScore: score, BestTime: elapsed})
	}
	return entries, nil
}

// Replace rebuilds a board from authoritative rows.
func (s *Service) Replace(ctx context.Context, categoryID, difficultyID int64, rows []quiz.BestScore) error {
	key := s.boardKey(categoryID, difficultyID)

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	if len(rows) > 0 {
		members := make([]redis.Z, 0, len(rows))
		for _, r := range rows {
			members = append(members, redis.Z{
				Score:  encodeScore(r.BestScore, r.BestTime),
				Member: r.UserID.String(),
			})
		}
		pipe.ZAdd(ctx, key, members...)
		if s.entryTTL > 0 {
			pipe.Expire(ctx, key, s.entryTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace leaderboard %s: %w", key, err)
	}
	return nil
}

func (s *Service) publishUpdate(ctx context.Context, categoryID, difficultyID int64) {
	entries, err := s.Top(ctx, categoryID, difficultyID, 10)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect leaderboard update")
		return
	}
	if len(entries) == 0 {
		return
	}

	payload := ws.LeaderboardUpdatePayload{
		CategoryID:   categoryID,
		DifficultyID: difficultyID,
		Top:          toWSEntries(entries),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal leaderboard update")
		return
	}
	if err := s.redis.Publish(ctx, s.pubsubChannel, data).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish leaderboard update")
	}
}

func (s *Service) boardKey(categoryID, difficultyID int64) string {
	return fmt.Sprintf("%s:best:%d:%d", s.prefix, categoryID, difficultyID)
}

// encodeScore orders by score descending, then by elapsed time ascending.
func encodeScore(score, elapsed int) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxTrackedTime {
		elapsed = maxTrackedTime
	}
	return float64(score)*(maxTrackedTime+1) + float64(maxTrackedTime-elapsed)
}

func decodeScore(v float64) (score, elapsed int) {
	whole := int64(math.Round(v))
	score = int(whole / (maxTrackedTime + 1))
	elapsed = maxTrackedTime - int(whole%(maxTrackedTime+1))
	return score, elapsed
}
