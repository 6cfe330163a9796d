package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ivoshchikov/movie-quiz/internal/catalog"
	"github.com/ivoshchikov/movie-quiz/internal/config"
	"github.com/ivoshchikov/movie-quiz/internal/seed"
	"github.com/ivoshchikov/movie-quiz/internal/store/postgres"
)

func main() {
	path := flag.String("file", "configs/seed.yaml", "Seed YAML file")
	flag.Parse()

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load("configs/.env")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	fh, err := os.Open(*path)
	if err != nil {
		log.Fatal().Err(err).Str("file", *path).Msg("failed to open seed file")
	}
	doc, err := seed.Decode(fh)
	fh.Close()
	if err != nil {
		log.Fatal().Err(err).Str("file", *path).Msg("invalid seed file")
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	store := postgres.New(pool)
	if _, err := seed.Apply(ctx, store, doc, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()
	if err := catalog.New(store, redisClient, catalog.Options{}, log.Logger).Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("catalog cache invalidation failed; entries expire on their own")
	}
}
