package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// PersistentCache mirrors in-memory entries to durable storage. Writes are
// fire-and-forget from the store's point of view; the in-memory map stays the
// source of truth for hit/miss decisions within a process.
type PersistentCache interface {
	Store(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) (int64, error)
	Load(ctx context.Context, key string) (*Entry, error)
	Close() error
}

// SQLiteCache persists entries as msgpack blobs in cache.db so a restarted
// process can serve warm data before the first recompute.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates a sqlite-backed persistent cache tier.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// Store writes or replaces the mirrored entry.
func (c *SQLiteCache) Store(ctx context.Context, entry *Entry) error {
	blob, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", entry.Key, err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)`,
		entry.Key, blob, entry.ExpiresAt().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist cache entry %s: %w", entry.Key, err)
	}
	return nil
}

// Delete removes a mirrored entry.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteExpired prunes entries past their expiry and returns how many were
// removed.
func (c *SQLiteCache) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired cache entries: %w", err)
	}
	return result.RowsAffected()
}

// Load reads a mirrored entry, or nil when absent or already expired.
func (c *SQLiteCache) Load(ctx context.Context, key string) (*Entry, error) {
	var blob []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&blob, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry %s: %w", key, err)
	}
	if time.Now().Unix() >= expiresAt {
		return nil, nil
	}

	var entry Entry
	if err := msgpack.Unmarshal(blob, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return &entry, nil
}

// Close is a no-op; the underlying database is owned by the caller.
func (c *SQLiteCache) Close() error {
	return nil
}

// RedisCache mirrors entries into Redis with native TTLs, for deployments
// where warm data should survive individual process restarts and be shared
// across replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a redis-backed persistent cache tier.
func NewRedisCache(addr, password string, db int, prefix string) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Ping verifies connectivity to the Redis server.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Store writes the entry with its remaining TTL. Entries already past expiry
// are skipped.
func (c *RedisCache) Store(ctx context.Context, entry *Entry) error {
	remaining := time.Until(entry.ExpiresAt())
	if remaining <= 0 {
		return nil
	}

	blob, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", entry.Key, err)
	}

	if err := c.client.Set(ctx, c.key(entry.Key), blob, remaining).Err(); err != nil {
		return fmt.Errorf("failed to persist cache entry %s to redis: %w", entry.Key, err)
	}
	return nil
}

// Delete removes a mirrored entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry %s from redis: %w", key, err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys natively.
func (c *RedisCache) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// Load reads a mirrored entry, or nil when absent.
func (c *RedisCache) Load(ctx context.Context, key string) (*Entry, error) {
	blob, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry %s from redis: %w", key, err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(blob, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return &entry, nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
