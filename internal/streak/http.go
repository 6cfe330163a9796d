package streak

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
)

// HTTPHandler serves streak reads.
type HTTPHandler struct {
	tracker *Tracker
	logger  zerolog.Logger
}

func NewHTTPHandler(tracker *Tracker, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		tracker: tracker,
		logger:  logger.With().Str("component", "streak_http").Logger(),
	}
}

// HandleMine serves GET /v1/streaks/me.
func (h *HTTPHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	player, ok := auth.PlayerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}
	rec, err := h.tracker.Get(r.Context(), player.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", player.ID.String()).Msg("streak fetch failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeServiceUnavailable, "Streak unavailable")
		return
	}
	writeJSON(w, rec)
}

// HandleTop serves GET /v1/streaks/top?board=active|longest|total&limit=10.
func (h *HTTPHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	board, err := ParseBoard(r.URL.Query().Get("board"))
	if err != nil {
		httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidRequest, "board must be active, longest or total", "board")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidRequest, "limit must be an integer", "limit")
			return
		}
		limit = parsed
	}
	recs, err := h.tracker.Top(r.Context(), board, limit)
	if err != nil {
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeLeaderboardFetchFailed, "Streak leaderboard unavailable")
		return
	}
	if recs == nil {
		recs = []quiz.StreakRecord{}
	}
	writeJSON(w, map[string]interface{}{"board": board, "top": recs})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
