package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/auth"
	"github.com/ivoshchikov/movie-quiz/internal/catalog"
	"github.com/ivoshchikov/movie-quiz/internal/config"
	"github.com/ivoshchikov/movie-quiz/internal/daily"
	"github.com/ivoshchikov/movie-quiz/internal/game"
	"github.com/ivoshchikov/movie-quiz/internal/leaderboard"
	"github.com/ivoshchikov/movie-quiz/internal/logging"
	"github.com/ivoshchikov/movie-quiz/internal/streak"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes carries the handlers mounted by NewHTTPServer. Nil handlers leave
// their routes unregistered.
type Routes struct {
	Catalog     *catalog.HTTPHandler
	Leaderboard *leaderboard.HTTPHandler
	Daily       *daily.HTTPHandler
	Streak      *streak.HTTPHandler
	Game        *game.Handler
	Tokens      auth.TokenValidator
	Metrics     http.Handler
	Pingers     []Pinger
}

// NewUpgrader builds a WebSocket upgrader that only accepts the configured origins.
// Requests without an Origin header (non-browser clients) are accepted.
func NewUpgrader(cors config.CORS) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(cors.AllowedOrigins))
	wildcard := false
	for _, o := range cors.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewHTTPServer wires the API routes behind CORS, auth and request logging.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, routes Routes) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	metricsHandler := routes.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("GET /v1/ping", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDependencies(r.Context(), routes.Pingers); err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("dependency ping failed")
			httperrors.RespondError(w, http.StatusBadGateway, httperrors.ErrCodeUpstreamError, "upstream error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	if h := routes.Catalog; h != nil {
		mux.HandleFunc("GET /v1/categories", h.HandleCategories)
		mux.HandleFunc("GET /v1/difficulties", h.HandleDifficulties)
		mux.HandleFunc("GET /v1/questions/count", h.HandleCount)
	}

	if h := routes.Leaderboard; h != nil {
		mux.HandleFunc("GET /v1/leaderboards/{category_id}/{difficulty_id}", h.HandleBoard)
		mux.Handle("GET /v1/me/best", auth.RequireAuth(http.HandlerFunc(h.HandleMyBest)))
		mux.HandleFunc("GET /v1/daily/fastest", h.HandleDailyFastest)
		mux.HandleFunc("GET /v1/daily/records", h.HandleDailyRecords)
	}

	if h := routes.Daily; h != nil {
		mux.HandleFunc("GET /v1/daily", h.HandleEnter)
		mux.HandleFunc("POST /v1/daily/answer", h.HandleAnswer)
		mux.HandleFunc("GET /v1/daily/me", h.HandleMine)
	}

	if h := routes.Streak; h != nil {
		mux.HandleFunc("GET /v1/streaks/me", h.HandleMine)
		mux.HandleFunc("GET /v1/streaks/top", h.HandleTop)
	}

	if h := routes.Game; h != nil {
		mux.HandleFunc("GET /ws/rounds", h.HandleWebSocket)
	}

	var handler http.Handler = mux
	if routes.Tokens != nil {
		handler = auth.Middleware(routes.Tokens, logger)(handler)
	}
	handler = newCORS(cfg.CORS, logger).Handler(handler)
	handler = requestLogger(logger)(handler)

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func pingDependencies(ctx context.Context, pingers []Pinger) error {
	for _, p := range pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PoolPinger adapts a pgx pool.
type PoolPinger struct{ Pool *pgxpool.Pool }

func (p PoolPinger) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

// RedisPinger adapts a go-redis client.
type RedisPinger struct{ Client *redis.Client }

func (p RedisPinger) Ping(ctx context.Context) error { return p.Client.Ping(ctx).Err() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			reqLogger := logger.With().Str("request_id", reqID).Logger()
			r = r.WithContext(logging.IntoContext(r.Context(), reqLogger))
			w.Header().Set("X-Request-ID", reqID)

			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			reqLogger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func newCORS(cfg config.CORS, logger zerolog.Logger) *cors.Cors {
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	wildcard := false
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		origins = append(origins, o)
	}
	credentials := cfg.AllowCredentials
	if wildcard && credentials {
		// browsers refuse credentialed responses for "*"
		logger.Warn().Msg("CORS wildcard origin configured, disabling credentials")
		credentials = false
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: credentials,
		MaxAge:           cfg.MaxAge,
	})
}
