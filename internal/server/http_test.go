package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoshchikov/movie-quiz/internal/auth/jwt"
	"github.com/ivoshchikov/movie-quiz/internal/catalog"
	"github.com/ivoshchikov/movie-quiz/internal/config"
	"github.com/ivoshchikov/movie-quiz/internal/leaderboard"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	"github.com/ivoshchikov/movie-quiz/internal/store/memory"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() *config.App {
	return &config.App{
		HTTPAddr: "127.0.0.1:0",
		CORS: config.CORS{
			AllowedOrigins:   []string{"http://localhost:3000"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           600,
		},
	}
}

func newTestServer(t *testing.T, routes Routes) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(testConfig(), zerolog.Nop(), routes)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestUpgraderOriginCheck(t *testing.T) {
	up := NewUpgrader(testConfig().CORS)

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/rounds", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, up.CheckOrigin(r), tc.origin)
	}

	open := NewUpgrader(config.CORS{AllowedOrigins: []string{"*"}})
	r := httptest.NewRequest(http.MethodGet, "/ws/rounds", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, open.CheckOrigin(r))
}

func TestHealthAndPing(t *testing.T) {
	var down atomic.Bool
	ts := newTestServer(t, Routes{Pingers: []Pinger{pingerFunc(func(context.Context) error {
		if down.Load() {
			return errors.New("redis down")
		}
		return nil
	})}})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/v1/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(ts.URL + "/v1/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Routes{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/daily/answer", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))
}

func TestCORS_WildcardNeverPairsCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"*"}
	ts := httptest.NewServer(NewHTTPServer(cfg, zerolog.Nop(), Routes{}).Handler)
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, "https://evil.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnknownOriginGetsNoGrant(t *testing.T) {
	ts := newTestServer(t, Routes{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/daily/answer", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestRoutesAndAuth(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.Options{})
	_, err := store.UpsertCategory(ctx, quiz.Category{Name: "Classics"})
	require.NoError(t, err)
	_, err = store.UpsertDifficultyLevel(ctx, quiz.DifficultyLevel{Key: "easy", Name: "Easy", TimeLimitSecs: 20, Lives: 3, MistakesAllowed: 1})
	require.NoError(t, err)

	tokens := jwt.NewManager(jwt.TokenConfig{Secret: []byte("test-secret")})
	ts := newTestServer(t, Routes{
		Catalog:     catalog.NewHTTPHandler(catalog.New(store, nil, catalog.Options{}, zerolog.Nop()), zerolog.Nop()),
		Leaderboard: leaderboard.NewHTTPHandler(nil, store, func() string { return "2025-01-10" }, zerolog.Nop()),
		Tokens:      tokens,
	})

	resp, err := http.Get(ts.URL + "/v1/categories")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/categories", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/me/best")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := tokens.Issue(uuid.New(), "player@example.com")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/me/best", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/v1/me/best", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ws/rounds")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
