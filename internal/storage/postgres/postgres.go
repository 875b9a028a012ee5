// Package postgres — pgx-реализация хранилища пользователей и refresh-токенов.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// Параметры пула. Соединения живут ограниченное время: при миграции
// мастера вечные коннекты держатся за мёртвый адрес.
const (
	maxConnLifetime = time.Hour
	maxConnIdleTime = 30 * time.Minute
)

// Storage — хранилище поверх пула pgx.
type Storage struct {
	db *pgxpool.Pool
}

var _ storage.Storage = (*Storage)(nil)

// New открывает пул соединений по DSN и проверяет его ping-ом
// до первого запроса. Дедлайн подключения — ответственность вызывающего
// (ctx с таймаутом).
func New(ctx context.Context, dbURL string) (*Storage, error) {
	const op = "storage.postgres.New"

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse dsn: %w", op, err)
	}

	cfg.MaxConnLifetime = maxConnLifetime
	cfg.MaxConnIdleTime = maxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{db: pool}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() {
	s.db.Close()
}
