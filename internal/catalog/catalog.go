// Package catalog serves read-only reference data (categories, difficulty
// levels, question counts) with a Redis read-through cache.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

const (
	defaultTTL       = 10 * time.Minute
	keyCategories    = "catalog:categories"
	keyDifficulties  = "catalog:difficulties"
	keyCountTemplate = "catalog:count:%d:%d"
)

// Store is the reference-data slice of the data store.
type Store interface {
	ListCategories(ctx context.Context) ([]quiz.Category, error)
	ListDifficultyLevels(ctx context.Context) ([]quiz.DifficultyLevel, error)
	GetDifficultyLevel(ctx context.Context, id int64) (quiz.DifficultyLevel, error)
	CountQuestions(ctx context.Context, categoryID, difficultyID int64) (int, error)
}

// Options tunes caching. A zero TTL uses the default.
type Options struct {
	TTL time.Duration
}

// Catalog reads through Redis to the store. A nil Redis client disables caching.
type Catalog struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	logger zerolog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func New(store Store, client *redis.Client, opts Options, logger zerolog.Logger) *Catalog {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Catalog{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Catalog) Categories(ctx context.Context) ([]quiz.Category, error) {
	return readThrough(ctx, c, keyCategories, c.store.ListCategories)
}

func (c *Catalog) DifficultyLevels(ctx context.Context) ([]quiz.DifficultyLevel, error) {
	return readThrough(ctx, c, keyDifficulties, c.store.ListDifficultyLevels)
}

// DifficultyLevel resolves one level, preferring the cached list.
func (c *Catalog) DifficultyLevel(ctx context.Context, id int64) (quiz.DifficultyLevel, error) {
	levels, err := c.DifficultyLevels(ctx)
	if err == nil {
		for _, l := range levels {
			if l.ID == id {
				return l, nil
			}
		}
	}
	level, err := c.store.GetDifficultyLevel(ctx, id)
	if err != nil {
		return quiz.DifficultyLevel{}, fmt.Errorf("difficulty level %d: %w", id, err)
	}
	return level, nil
}

func (c *Catalog) CountQuestions(ctx context.Context, categoryID, difficultyID int64) (int, error) {
	key := fmt.Sprintf(keyCountTemplate, categoryID, difficultyID)
	return readThrough(ctx, c, key, func(ctx context.Context) (int, error) {
		return c.store.CountQuestions(ctx, categoryID, difficultyID)
	})
}

// Invalidate drops every cached entry, e.g. after seeding.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	keys, err := c.client.Keys(ctx, "catalog:*").Result()
	if err != nil {
		return fmt.Errorf("list catalog keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func readThrough[T any](ctx context.Context, c *Catalog, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := cacheGet[T](ctx, c, key); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited.
		if v, ok := cacheGet[T](ctx, c, key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return zero, err
		}
		c.cacheSet(ctx, key, v)
		return v, nil
	})
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", key, err)
	}
	return result.(T), nil
}

func cacheGet[T any](ctx context.Context, c *Catalog, key string) (T, bool) {
	var v T
	if c.client == nil {
		return v, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache entry corrupted")
		return v, false
	}
	return v, true
}

func (c *Catalog) cacheSet(ctx context.Context, key string, v any) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttlWithJitter()).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}

func (c *Catalog) ttlWithJitter() time.Duration {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
