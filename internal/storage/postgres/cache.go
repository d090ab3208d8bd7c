package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Cache is a PostgreSQL implementation of the stream cache capability. Each
// cursor lives in one row of the stream_cursor table, keyed by the client
// flavor's fixed cache key.
type Cache struct {
	pool *Pool
}

// NewCache creates a PostgreSQL-backed cursor cache.
func NewCache(pool *Pool) *Cache {
	return &Cache{pool: pool}
}

// Get returns the stored value for key and whether one exists.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT value
		FROM stream_cursor
		WHERE key = $1
	`, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key. Uses upsert to handle initial insert and
// subsequent updates.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO stream_cursor (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`, key, value)
	return err
}
