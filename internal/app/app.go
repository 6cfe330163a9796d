package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivoshchikov/movie-quiz/internal/auth/jwt"
	"github.com/ivoshchikov/movie-quiz/internal/catalog"
	"github.com/ivoshchikov/movie-quiz/internal/config"
	"github.com/ivoshchikov/movie-quiz/internal/daily"
	"github.com/ivoshchikov/movie-quiz/internal/game"
	"github.com/ivoshchikov/movie-quiz/internal/game/evaluator"
	"github.com/ivoshchikov/movie-quiz/internal/leaderboard"
	"github.com/ivoshchikov/movie-quiz/internal/logging"
	"github.com/ivoshchikov/movie-quiz/internal/metrics"
	"github.com/ivoshchikov/movie-quiz/internal/server"
	"github.com/ivoshchikov/movie-quiz/internal/store/postgres"
	"github.com/ivoshchikov/movie-quiz/internal/streak"
	ws "github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server)
// and the background workers that run next to it.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	lbBroadcaster *leaderboard.Broadcaster
	lbSyncWorker  *leaderboard.SyncWorker
	rotator       *daily.Rotator
}

// New bootstraps logger, Postgres, Redis, the domain services and the HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	loc, err := time.LoadLocation(cfg.Daily.Timezone)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load daily timezone: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store := postgres.New(pool)
	cat := catalog.New(store, redisClient, catalog.Options{TTL: cfg.Catalog.CacheTTL}, logger)
	eval := evaluator.New(store, logger)

	tokens := jwt.NewManager(jwt.TokenConfig{
		Secret:   []byte(cfg.Security.JWTSecret),
		Issuer:   cfg.Security.JWTIssuer,
		Audience: cfg.Security.JWTAudience,
	})

	leaderboardSvc := leaderboard.NewService(redisClient, logger, leaderboard.ServiceOptions{
		TopN:          cfg.Leaderboard.TopN,
		PubSubChannel: cfg.Leaderboard.Channel,
		EntryTTL:      cfg.Leaderboard.EntryTTL,
	})
	wsHub := ws.NewHub(logger)

	gameManager := game.NewManager(store, cat, eval, leaderboardSvc, m, game.ManagerOptions{
		AdvanceDelay:   cfg.Game.AdvanceDelay,
		TickInterval:   cfg.Game.TickInterval,
		PersistTimeout: cfg.Game.PersistTimeout,
	}, logger)
	gameHandler := game.NewHandler(gameManager, wsHub, tokens, server.NewUpgrader(cfg.CORS), logger)

	guard := daily.NewGuard(store, daily.NewRedisMarks(redisClient, cfg.Daily.MarkTTL), eval, m, daily.Options{Location: loc}, logger)
	tracker := streak.NewTracker(store, guard.Today, logger)

	apiServer := server.NewHTTPServer(cfg, logger, server.Routes{
		Catalog:     catalog.NewHTTPHandler(cat, logger),
		Leaderboard: leaderboard.NewHTTPHandler(leaderboardSvc, store, guard.Today, logger),
		Daily:       daily.NewHTTPHandler(guard, logger),
		Streak:      streak.NewHTTPHandler(tracker, logger),
		Game:        gameHandler,
		Tokens:      tokens,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Pingers:     []server.Pinger{server.PoolPinger{Pool: pool}, server.RedisPinger{Client: redisClient}},
	})

	return &Application{
		cfg:           cfg,
		logger:        logger,
		pool:          pool,
		redis:         redisClient,
		http:          apiServer,
		lbBroadcaster: leaderboard.NewBroadcaster(redisClient, wsHub, cfg.Leaderboard.Channel, logger),
		lbSyncWorker:  leaderboard.NewSyncWorker(leaderboardSvc, cat, store, cfg.Leaderboard.SyncInterval, logger),
		rotator:       daily.NewRotator(store, loc, cfg.Daily.RotationSpec, logger),
	}, nil
}

// Run starts the HTTP server and background workers, then waits for a
// termination signal or the first fatal error.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		return nil
	})

	a.runWorker(gctx, g, "leaderboard broadcaster", a.lbBroadcaster.Run)
	a.runWorker(gctx, g, "leaderboard sync worker", a.lbSyncWorker.Run)
	a.runWorker(gctx, g, "daily rotator", a.rotator.Run)

	err := g.Wait()

	a.pool.Close()
	if cerr := a.redis.Close(); cerr != nil {
		a.logger.Error().Err(cerr).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return err
}

// runWorker keeps a worker failure from taking the API down; only the
// shutdown context ends it.
func (a *Application) runWorker(ctx context.Context, g *errgroup.Group, name string, run func(context.Context) error) {
	g.Go(func() error {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Str("worker", name).Msg("background worker stopped")
		}
		return nil
	})
}
