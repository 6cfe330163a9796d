package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/auth/jwt"
	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/logging"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
	"github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// Handler serves the rounds WebSocket. Each connection owns one Round.
type Handler struct {
	manager  *Manager
	hub      *ws.Hub
	tokens   auth.TokenValidator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the rounds WebSocket handler.
func NewHandler(manager *Manager, hub *ws.Hub, tokens auth.TokenValidator, upgrader websocket.Upgrader, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		hub:      hub,
		tokens:   tokens,
		upgrader: upgrader,
		logger:   logger.With().Str("component", "game_ws").Logger(),
	}
}

// HandleWebSocket upgrades the request. The token query parameter is
// optional; without it the player is anonymous and nothing is saved.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	player := uuid.Nil
	if p, ok := auth.PlayerFromContext(r.Context()); ok {
		player = p.ID
	}
	if token := r.URL.Query().Get("token"); token != "" {
		p, err := auth.PlayerFromToken(h.tokens, token)
		if err != nil {
			h.logger.Warn().Err(err).Msg("WebSocket token validation failed")
			code := httperrors.ErrCodeInvalidToken
			if errors.Is(err, jwt.ErrExpiredToken) {
				code = httperrors.ErrCodeTokenExpired
			}
			httperrors.RespondUnauthorized(w, code, "Invalid token")
			return
		}
		player = p.ID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.HandleConnection(r.Context(), conn, player)
}

// HandleConnection runs the read loop for an upgraded socket until the peer
// goes away, then abandons the round.
func (h *Handler) HandleConnection(ctx context.Context, sock ws.Socket, player uuid.UUID) {
	conn := ws.NewConnection(sock, h.logger)
	h.hub.Register(conn)

	logger := h.logger.With().
		Str("conn_id", conn.ID.String()).
		Str("player_id", player.String()).
		Logger()
	ctx = logging.IntoContext(context.WithoutCancel(ctx), logger)

	round := h.manager.NewRound(connSink{conn: conn, logger: logger})

	go conn.WritePump()

	conn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(ctx, conn, round, player, msg)
	})

	round.Close()
	h.hub.Unregister(conn)
	conn.Close()
}

func (h *Handler) handleMessage(ctx context.Context, conn *ws.Connection, round *Round, player uuid.UUID, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeStartRound:
		return h.handleStartRound(ctx, conn, round, player, msg.Payload)
	case ws.TypeSubmitAnswer:
		return h.handleSubmitAnswer(ctx, conn, round, msg.Payload)
	case ws.TypeLeaveRound:
		round.Close()
		return h.send(conn, ws.TypeRoundState, snapshotPayload(round.Snapshot()))
	case ws.TypePing:
		return h.send(conn, ws.TypePong, nil)
	default:
		return h.sendError(conn, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *Handler) handleStartRound(ctx context.Context, conn *ws.Connection, round *Round, player uuid.UUID, payload json.RawMessage) error {
	var req ws.StartRoundPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(conn, httperrors.ErrCodeInvalidPayload, "Invalid start_round payload")
	}
	if req.CategoryID <= 0 || req.DifficultyID <= 0 {
		return h.sendError(conn, httperrors.ErrCodeMissingField, "category_id and difficulty_id are required")
	}

	err := round.Start(ctx, player, req.CategoryID, req.DifficultyID)
	switch {
	case err == nil, errors.Is(err, ErrRoundChanged):
		return nil
	case errors.Is(err, quiz.ErrNotFound), errors.Is(err, ErrInvalidLevel):
		return h.sendError(conn, httperrors.ErrCodeUnknownDifficulty, "Unknown difficulty level")
	default:
		logging.FromContext(ctx).Error().Err(err).Msg("start round failed")
		return h.sendError(conn, httperrors.ErrCodeRoundStartFailed, "Could not start the round")
	}
}

func (h *Handler) handleSubmitAnswer(ctx context.Context, conn *ws.Connection, round *Round, payload json.RawMessage) error {
	var req ws.SubmitAnswerPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(conn, httperrors.ErrCodeInvalidPayload, "Invalid submit_answer payload")
	}

	err := round.Submit(ctx, req.QuestionID, req.Answer)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAnswerNotAccepted), errors.Is(err, ErrStaleQuestion), errors.Is(err, ErrRoundChanged):
		// late or duplicate answers are dropped without a reply
		logging.FromContext(ctx).Debug().Err(err).Int64("question_id", req.QuestionID).Msg("answer ignored")
		return nil
	case errors.Is(err, evaluator.ErrUnavailable):
		// answer_error was already emitted by the round
		return nil
	default:
		return err
	}
}

func (h *Handler) send(conn *ws.Connection, msgType string, payload interface{}) error {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

func (h *Handler) sendError(conn *ws.Connection, code, message string) error {
	return h.send(conn, ws.TypeError, ws.ErrorPayload{Code: code, Message: message})
}

func snapshotPayload(s Snapshot) ws.RoundStatePayload {
	p := ws.RoundStatePayload{
		State:        string(s.State),
		CategoryID:   s.CategoryID,
		DifficultyID: s.DifficultyID,
		Score:        s.Score,
		Lives:        s.Lives,
		MistakesLeft: s.MistakesLeft,
	}
	if s.RoundID != uuid.Nil {
		p.RoundID = s.RoundID.String()
	}
	return p
}

// connSink adapts a WebSocket connection to the round Sink.
type connSink struct {
	conn   *ws.Connection
	logger zerolog.Logger
}

func (s connSink) Emit(eventType string, payload interface{}) {
	msg, err := ws.NewMessage(eventType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", eventType).Msg("encode event")
		return
	}
	if err := s.conn.Send(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", eventType).Msg("event dropped")
	}
}
