package config

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"movie-quiz"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres    Postgres
	Redis       Redis
	Security    Security
	Game        Game
	Daily       Daily
	Catalog     Catalog
	Leaderboard Leaderboard
	CORS        CORS
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10"`
}

// DSN renders the libpq-style connection string understood by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode, p.MaxConns)
}

// Redis holds cache, mark and pub/sub configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Security configures validation of tokens minted by the auth provider.
type Security struct {
	JWTSecret   string `env:"JWT_SECRET,notEmpty"`
	JWTIssuer   string `env:"JWT_ISSUER" envDefault:""`
	JWTAudience string `env:"JWT_AUDIENCE" envDefault:"authenticated"`
}

// Game groups timed round settings.
type Game struct {
	AdvanceDelay   time.Duration `env:"GAME_ADVANCE_DELAY" envDefault:"500ms"`
	TickInterval   time.Duration `env:"GAME_TICK_INTERVAL" envDefault:"1s"`
	PersistTimeout time.Duration `env:"GAME_PERSIST_TIMEOUT" envDefault:"5s"`
}

// Daily configures the Daily Challenge.
type Daily struct {
	Timezone     string        `env:"DAILY_TIMEZONE" envDefault:"America/Chicago"`
	RotationSpec string        `env:"DAILY_ROTATION_CRON" envDefault:"0 0 * * *"`
	MarkTTL      time.Duration `env:"DAILY_MARK_TTL" envDefault:"26h"`
}

// Catalog configures the reference data cache.
type Catalog struct {
	CacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"10m"`
}

// Leaderboard governs the Redis boards and their broadcast.
type Leaderboard struct {
	TopN         int           `env:"LEADERBOARD_TOP_N" envDefault:"50"`
	Channel      string        `env:"LEADERBOARD_CHANNEL" envDefault:"leaderboard:updates"`
	EntryTTL     time.Duration `env:"LEADERBOARD_ENTRY_TTL" envDefault:"0s"`
	SyncInterval time.Duration `env:"LEADERBOARD_SYNC_INTERVAL" envDefault:"5m"`
}

// CORS holds Cross-Origin Resource Sharing configuration.
type CORS struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Daily.Timezone); err != nil {
		return nil, fmt.Errorf("parse config: DAILY_TIMEZONE: %w", err)
	}
	return cfg, nil
}
