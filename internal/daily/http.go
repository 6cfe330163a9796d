package daily

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
)

// HTTPHandler exposes Daily mode over REST.
type HTTPHandler struct {
	guard  *Guard
	logger zerolog.Logger
}

func NewHTTPHandler(guard *Guard, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		guard:  guard,
		logger: logger.With().Str("component", "daily_http").Logger(),
	}
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// HandleEnter serves GET /v1/daily. Authentication is optional.
func (h *HTTPHandler) HandleEnter(w http.ResponseWriter, r *http.Request) {
	player := uuid.Nil
	if p, ok := auth.PlayerFromContext(r.Context()); ok {
		player = p.ID
	}

	entry, err := h.guard.Enter(r.Context(), player)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleAnswer serves POST /v1/daily/answer.
func (h *HTTPHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	player, ok := auth.PlayerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid request body")
		return
	}
	if req.Answer == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingField, "answer is required", "answer")
		return
	}

	out, err := h.guard.Answer(r.Context(), player.ID, req.Answer)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleMine serves GET /v1/daily/me?date=YYYY-MM-DD (today by default).
func (h *HTTPHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	player, ok := auth.PlayerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.guard.Today()
	}

	attempt, err := h.guard.Attempt(r.Context(), player.ID, date)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAuthRequired):
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
	case errors.Is(err, ErrInvalidDate):
		httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidDate, "date must be YYYY-MM-DD", "date")
	case errors.Is(err, ErrSubmitInProgress):
		httperrors.RespondConflict(w, httperrors.ErrCodeSubmitInProgress, "A submission for today is already in progress")
	case errors.Is(err, ErrSessionNotStarted):
		httperrors.RespondConflict(w, httperrors.ErrCodeSessionNotStarted, "Open today's challenge before answering")
	case errors.Is(err, quiz.ErrNoDailyQuestion):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNoDailyQuestion, "No daily question available")
	case errors.Is(err, evaluator.ErrUnavailable):
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeEvaluationFailed, "Could not check the answer, try again")
	default:
		h.logger.Error().Err(err).Msg("daily request failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeSubmitFailed, "Daily challenge unavailable, try again")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
