package daily

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MarkCache holds the optimistic "answered" marks. A mark is owned by the
// token returned from Mark and only that token can remove it.
type MarkCache interface {
	Mark(ctx context.Context, player uuid.UUID, date string) (token string, ok bool, err error)
	Unmark(ctx context.Context, player uuid.UUID, date, token string) error
	// Age reports how long ago the current mark was taken. held is false
	// when no mark exists.
	Age(ctx context.Context, player uuid.UUID, date string) (age time.Duration, held bool, err error)
}

const defaultMarkTTL = 26 * time.Hour

// deletes the key only while it still holds our token
var unmarkScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisMarks keeps marks in Redis with SET NX EX.
type RedisMarks struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarks creates a Redis-backed mark cache. ttl should outlast the
// reference day; it defaults to 26 hours.
func NewRedisMarks(client *redis.Client, ttl time.Duration) *RedisMarks {
	if ttl <= 0 {
		ttl = defaultMarkTTL
	}
	return &RedisMarks{client: client, ttl: ttl}
}

func markKey(player uuid.UUID, date string) string {
	return fmt.Sprintf("daily:mark:%s:%s", date, player.String())
}

func (m *RedisMarks) Mark(ctx context.Context, player uuid.UUID, date string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, markKey(player, date), token, m.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("set daily mark: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (m *RedisMarks) Unmark(ctx context.Context, player uuid.UUID, date, token string) error {
	if err := unmarkScript.Run(ctx, m.client, []string{markKey(player, date)}, token).Err(); err != nil {
		return fmt.Errorf("release daily mark: %w", err)
	}
	return nil
}

func (m *RedisMarks) Age(ctx context.Context, player uuid.UUID, date string) (time.Duration, bool, error) {
	left, err := m.client.PTTL(ctx, markKey(player, date)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("read daily mark ttl: %w", err)
	}
	// -2 means no key, -1 a key without expiry
	if left < 0 {
		return 0, left == -1, nil
	}
	return m.ttl - left, true, nil
}

type memoryMark struct {
	token   string
	expires time.Time
}

// MemoryMarks is a process-local MarkCache for tests and single-node runs.
type MemoryMarks struct {
	mu    sync.Mutex
	marks map[string]memoryMark
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryMarks(ttl time.Duration) *MemoryMarks {
	if ttl <= 0 {
		ttl = defaultMarkTTL
	}
	return &MemoryMarks{marks: make(map[string]memoryMark), ttl: ttl, now: time.Now}
}

func (m *MemoryMarks) Mark(_ context.Context, player uuid.UUID, date string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markKey(player, date)
	now := m.now()
	if cur, ok := m.marks[key]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.marks[key] = memoryMark{token: token, expires: now.Add(m.ttl)}
	return token, true, nil
}

func (m *MemoryMarks) Unmark(_ context.Context, player uuid.UUID, date, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markKey(player, date)
	if cur, ok := m.marks[key]; ok && cur.token == token {
		delete(m.marks, key)
	}
	return nil
}

func (m *MemoryMarks) Age(_ context.Context, player uuid.UUID, date string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.marks[markKey(player, date)]
	now := m.now()
	if !ok || !now.Before(cur.expires) {
		return 0, false, nil
	}
	return m.ttl - cur.expires.Sub(now), true, nil
}
