// Package cache — read-through кэш refresh-токенов поверх Redis.
//
// Запись хранится как Redis Hash по ключу <prefix><hash refresh-токена>
// с TTL, равным остатку жизни токена. Кэш сугубо ускоряющий: промах или
// недоступность Redis означает поход в Postgres, но не ошибку операции.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultPrefix — префикс ключей по умолчанию.
const defaultPrefix = "auth:rt:"

// Поля hash-записи.
const (
	fieldUserID    = "uid"
	fieldRevoked   = "rev" // "0"/"1"
	fieldExpiresAt = "exp" // unix-секунды
)

// RefreshEntry — кэшируемое состояние refresh-токена.
type RefreshEntry struct {
	UserID    uuid.UUID
	Revoked   bool
	ExpiresAt time.Time
}

// RefreshCache — минимальный контракт кэша refresh-токенов.
type RefreshCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RefreshEntry, bool, error)
	// Set сохраняет запись с TTL (обычно ExpiresAt-now).
	Set(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error
	// MarkRevoked помечает запись отозванной, сохраняя остаточный TTL.
	MarkRevoked(ctx context.Context, hash string) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (redis://:pass@host:6379/0)
// и проверяет соединение ping-ом: нерабочий Redis виден на старте,
// а не на первом запросе. Пустой prefix заменяется на defaultPrefix.
func NewRedisCache(ctx context.Context, redisURL, prefix string) (RefreshCache, error) {
	const op = "cache.NewRedisCache"

	if prefix == "" {
		prefix = defaultPrefix
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", op, err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(hash string) string { return c.prefix + hash }

func (c *redisCache) Get(ctx context.Context, hash string) (*RefreshEntry, bool, error) {
	const op = "cache.Get"

	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if len(m) == 0 {
		return nil, false, nil
	}

	entry, err := entryFromHash(m)
	if err != nil {
		// Битую запись считаем промахом: источник истины — Postgres.
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	return entry, true, nil
}

func (c *redisCache) Set(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error {
	const op = "cache.Set"

	kv := map[string]string{
		fieldUserID:    e.UserID.String(),
		fieldRevoked:   formatRevoked(e.Revoked),
		fieldExpiresAt: strconv.FormatInt(e.ExpiresAt.Unix(), 10),
	}

	// HSET и EXPIRE одной транзакцией: запись без TTL жила бы вечно.
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *redisCache) MarkRevoked(ctx context.Context, hash string) error {
	const op = "cache.MarkRevoked"

	if err := c.rdb.HSet(ctx, c.key(hash), fieldRevoked, "1").Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *redisCache) Close() error { return c.rdb.Close() }

func entryFromHash(m map[string]string) (*RefreshEntry, error) {
	uid, err := uuid.Parse(m[fieldUserID])
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldUserID, err)
	}

	expUnix, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fieldExpiresAt, err)
	}

	return &RefreshEntry{
		UserID:    uid,
		Revoked:   m[fieldRevoked] == "1",
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
	}, nil
}

func formatRevoked(revoked bool) string {
	if revoked {
		return "1"
	}

	return "0"
}
