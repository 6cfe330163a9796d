package leaderboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
	ws "github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// Store is the authoritative side of every board.
type Store interface {
	Source
	ListBestScores(ctx context.Context, userID uuid.UUID) ([]quiz.BestScore, error)
	DailyFastest(ctx context.Context, date string, limit int) ([]quiz.FastestEntry, error)
	FastestAllTime(ctx context.Context, limit int) ([]quiz.FastestEntry, error)
}

// HTTPHandler exposes REST endpoints for leaderboard queries.
type HTTPHandler struct {
	svc    *Service
	store  Store
	today  func() string
	logger zerolog.Logger
}

// NewHTTPHandler constructs a leaderboard HTTP handler. today supplies the
// default date for the daily fastest board.
func NewHTTPHandler(svc *Service, store Store, today func() string, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:    svc,
		store:  store,
		today:  today,
		logger: logger.With().Str("component", "leaderboard_http").Logger(),
	}
}

// HandleBoard responds with the best scores of a category/difficulty pair.
// Route: GET /v1/leaderboards/{category_id}/{difficulty_id}?limit=10
func (h *HTTPHandler) HandleBoard(w http.ResponseWriter, r *http.Request) {
	categoryID, err1 := strconv.ParseInt(r.PathValue("category_id"), 10, 64)
	difficultyID, err2 := strconv.ParseInt(r.PathValue("difficulty_id"), 10, 64)
	if err1 != nil || err2 != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "category_id and difficulty_id must be integers")
		return
	}
	limit := parseLimit(r)

	ctx := r.Context()
	var (
		top    []ws.LeaderboardEntry
		source = "redis"
	)

	if h.svc != nil {
		if entries, err := h.svc.Top(ctx, categoryID, difficultyID, limit); err == nil {
			top = toWSEntries(entries)
		} else {
			h.logger.Warn().Err(err).Int64("category_id", categoryID).Int64("difficulty_id", difficultyID).Msg("redis leaderboard fetch failed")
		}
	}

	if len(top) == 0 {
		source = "postgres"
		rows, err := h.store.TopBestScores(ctx, categoryID, difficultyID, limit)
		if err != nil {
			h.logger.Error().Err(err).Msg("leaderboard fallback failed")
			httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeLeaderboardFetchFailed, "Leaderboard unavailable")
			return
		}
		top = toWSEntries(fromBestScores(rows))
	}

	writeJSON(w, map[string]interface{}{
		"category_id":   categoryID,
		"difficulty_id": difficultyID,
		"top":           top,
		"source":        source,
		"retrievedAt":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleMyBest lists the caller's best score per board.
// Route: GET /v1/me/best
func (h *HTTPHandler) HandleMyBest(w http.ResponseWriter, r *http.Request) {
	player, ok := auth.PlayerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}
	rows, err := h.store.ListBestScores(r.Context(), player.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", player.ID.String()).Msg("list best scores failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeServiceUnavailable, "Best scores unavailable")
		return
	}
	if rows == nil {
		rows = []quiz.BestScore{}
	}
	writeJSON(w, map[string]interface{}{"best": rows})
}

// HandleDailyFastest lists the fastest correct answers of a day.
// Route: GET /v1/daily/fastest?date=YYYY-MM-DD&limit=10
func (h *HTTPHandler) HandleDailyFastest(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.today()
	}
	if _, err := time.Parse(quiz.DateLayout, date); err != nil {
		httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidDate, "date must be YYYY-MM-DD", "date")
		return
	}

	rows, err := h.store.DailyFastest(r.Context(), date, parseLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("daily fastest fetch failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeLeaderboardFetchFailed, "Leaderboard unavailable")
		return
	}
	if rows == nil {
		rows = []quiz.FastestEntry{}
	}
	writeJSON(w, map[string]interface{}{"date": date, "top": rows})
}

// HandleDailyRecords lists the fastest correct daily answers of all time.
// Route: GET /v1/daily/records?limit=10
func (h *HTTPHandler) HandleDailyRecords(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.FastestAllTime(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("daily records fetch failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeLeaderboardFetchFailed, "Leaderboard unavailable")
		return
	}
	if rows == nil {
		rows = []quiz.FastestEntry{}
	}
	writeJSON(w, map[string]interface{}{"top": rows})
}

func parseLimit(r *http.Request) int {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
