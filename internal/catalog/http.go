package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
)

// HTTPHandler exposes reference data over REST.
type HTTPHandler struct {
	catalog *Catalog
	logger  zerolog.Logger
}

func NewHTTPHandler(catalog *Catalog, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		catalog: catalog,
		logger:  logger.With().Str("component", "catalog_http").Logger(),
	}
}

// HandleCategories serves GET /v1/categories.
func (h *HTTPHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Categories(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list categories failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeServiceUnavailable, "Categories unavailable")
		return
	}
	if cats == nil {
		cats = []quiz.Category{}
	}
	writeJSON(w, map[string]interface{}{"categories": cats})
}

// HandleDifficulties serves GET /v1/difficulties.
func (h *HTTPHandler) HandleDifficulties(w http.ResponseWriter, r *http.Request) {
	levels, err := h.catalog.DifficultyLevels(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list difficulty levels failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeServiceUnavailable, "Difficulty levels unavailable")
		return
	}
	if levels == nil {
		levels = []quiz.DifficultyLevel{}
	}
	writeJSON(w, map[string]interface{}{"difficulties": levels})
}

// HandleCount serves GET /v1/questions/count?category_id=&difficulty_id=.
func (h *HTTPHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	categoryID, err := parseID(q.Get("category_id"))
	if err != nil {
		httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidRequest, "category_id must be a positive integer", "category_id")
		return
	}
	difficultyID, err := parseID(q.Get("difficulty_id"))
	if err != nil {
		httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidRequest, "difficulty_id must be a positive integer", "difficulty_id")
		return
	}

	if _, err := h.catalog.DifficultyLevel(r.Context(), difficultyID); errors.Is(err, quiz.ErrNotFound) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeUnknownDifficulty, "Unknown difficulty level")
		return
	}

	n, err := h.catalog.CountQuestions(r.Context(), categoryID, difficultyID)
	if err != nil {
		h.logger.Error().Err(err).Msg("count questions failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeServiceUnavailable, "Question count unavailable")
		return
	}
	writeJSON(w, map[string]interface{}{
		"category_id":   categoryID,
		"difficulty_id": difficultyID,
		"count":         n,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
