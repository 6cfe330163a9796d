package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ws "github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// DefaultUpdateChannel carries best-score board snapshots between replicas.
const DefaultUpdateChannel = "lb:updates"

// Broadcaster relays best-score board snapshots published by any replica's
// Service to the round sockets connected to this one. A snapshot replaces
// the client's copy of one (category, difficulty) board.
type Broadcaster struct {
	redis   *redis.Client
	hub     *ws.Hub
	channel string
	logger  zerolog.Logger
}

func NewBroadcaster(client *redis.Client, hub *ws.Hub, channel string, logger zerolog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultUpdateChannel
	}
	return &Broadcaster{
		redis:   client,
		hub:     hub,
		channel: channel,
		logger:  logger.With().Str("component", "board_relay").Str("channel", channel).Logger(),
	}
}

// Run relays snapshots until ctx ends. Without Redis there is nothing to
// relay and it returns at once.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil || b.hub == nil {
		return nil
	}

	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Debug().Msg("relaying best-score snapshots")

	snapshots := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-snapshots:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *Broadcaster) relay(payload string) {
	var board ws.LeaderboardUpdatePayload
	if err := json.Unmarshal([]byte(payload), &board); err != nil {
		b.logger.Warn().Err(err).Msg("dropping undecodable board snapshot")
		return
	}
	if board.CategoryID <= 0 || board.DifficultyID <= 0 || len(board.Top) == 0 {
		b.logger.Debug().Int64("category_id", board.CategoryID).Int64("difficulty_id", board.DifficultyID).Msg("dropping empty board snapshot")
		return
	}

	msg, err := ws.NewMessage(ws.TypeLeaderboardUpdate, board)
	if err != nil {
		b.logger.Warn().Err(err).Msg("encode board snapshot")
		return
	}
	if err := b.hub.BroadcastAll(msg); err != nil {
		b.logger.Warn().Err(err).
			Int64("category_id", board.CategoryID).
			Int64("difficulty_id", board.DifficultyID).
			Msg("board snapshot not delivered to every socket")
	}
}
