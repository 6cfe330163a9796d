package streak

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

func TestHTTP_Mine(t *testing.T) {
	store := new(mockStore)
	player := uuid.New()
	store.On("GetStreak", mock.Anything, player).Return(quiz.StreakRecord{CurrentStreak: 3, LongestStreak: 7, TotalCorrect: 20, LastCorrectDate: "2025-01-10"}, nil)
	h := NewHTTPHandler(NewTracker(store, fixedToday, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/v1/streaks/me", nil)
	req = req.WithContext(auth.WithPlayer(req.Context(), auth.Player{ID: player}))
	rr := httptest.NewRecorder()
	h.HandleMine(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rec quiz.StreakRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, 3, rec.CurrentStreak)
	assert.Equal(t, 7, rec.LongestStreak)
	assert.Equal(t, player, rec.UserID)
	assert.NotContains(t, rr.Body.String(), "2025-01-10")
}

func TestHTTP_MineRequiresAuth(t *testing.T) {
	h := NewHTTPHandler(NewTracker(new(mockStore), fixedToday, zerolog.Nop()), zerolog.Nop())
	rr := httptest.NewRecorder()
	h.HandleMine(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHTTP_Top(t *testing.T) {
	store := new(mockStore)
	store.On("TopStreaks", mock.Anything, "2025-01-10", 5).Return([]quiz.StreakRecord{{UserID: uuid.New(), CurrentStreak: 9, LastCorrectDate: "2025-01-11"}}, nil)
	h := NewHTTPHandler(NewTracker(store, fixedToday, zerolog.Nop()), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.HandleTop(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/top?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Top []quiz.StreakRecord `json:"top"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.Top, 1)
	assert.Equal(t, 9, body.Top[0].CurrentStreak)
	store.AssertExpectations(t)
}

func TestHTTP_TopErrors(t *testing.T) {
	store := new(mockStore)
	store.On("TopStreaks", mock.Anything, "2025-01-10", 10).Return([]quiz.StreakRecord(nil), errors.New("db down"))
	h := NewHTTPHandler(NewTracker(store, fixedToday, zerolog.Nop()), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.HandleTop(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/top?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.HandleTop(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/top?board=weekly", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.HandleTop(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/top", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHTTP_MineStaleStreakShowsZero(t *testing.T) {
	store := new(mockStore)
	player := uuid.New()
	store.On("GetStreak", mock.Anything, player).Return(quiz.StreakRecord{CurrentStreak: 30, LongestStreak: 30, TotalCorrect: 31, LastCorrectDate: "2024-01-01"}, nil)
	h := NewHTTPHandler(NewTracker(store, fixedToday, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/v1/streaks/me", nil)
	req = req.WithContext(auth.WithPlayer(req.Context(), auth.Player{ID: player}))
	rr := httptest.NewRecorder()
	h.HandleMine(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rec quiz.StreakRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, 0, rec.CurrentStreak)
	assert.Equal(t, 30, rec.LongestStreak)
}

func TestHTTP_TopLongestBoard(t *testing.T) {
	store := new(mockStore)
	store.On("LongestStreaks", mock.Anything, 10).Return([]quiz.StreakRecord{{UserID: uuid.New(), LongestStreak: 30}}, nil)
	h := NewHTTPHandler(NewTracker(store, fixedToday, zerolog.Nop()), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.HandleTop(rr, httptest.NewRequest(http.MethodGet, "/v1/streaks/top?board=longest", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Board string              `json:"board"`
		Top   []quiz.StreakRecord `json:"top"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "longest", body.Board)
	require.Len(t, body.Top, 1)
	assert.Equal(t, 30, body.Top[0].LongestStreak)
	store.AssertExpectations(t)
}
