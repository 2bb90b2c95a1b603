package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/database"
)

func newTestSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name:    "cache",
		Profile: database.ProfileCache,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteCache(db.Conn())
}

func TestSQLiteCache_RoundTrip(t *testing.T) {
	tier := newTestSQLiteCache(t)
	ctx := context.Background()

	entry := &Entry{
		Key:            "org:acme:summary",
		Payload:        []byte(`{"responses":12}`),
		CreatedAt:      time.Now(),
		TTL:            time.Minute,
		LastAccessedAt: time.Now(),
		SizeBytes:      16,
		Tags:           []string{"org:acme"},
	}
	require.NoError(t, tier.Store(ctx, entry))

	got, err := tier.Load(ctx, "org:acme:summary")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Payload, got.Payload)
	assert.Equal(t, entry.Tags, got.Tags)
	assert.False(t, got.Compressed)

	missing, err := tier.Load(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteCache_DeleteAndExpiry(t *testing.T) {
	tier := newTestSQLiteCache(t)
	ctx := context.Background()

	expired := &Entry{
		Key:       "expired",
		Payload:   []byte(`1`),
		CreatedAt: time.Now().Add(-2 * time.Minute),
		TTL:       time.Minute,
	}
	live := &Entry{
		Key:       "live",
		Payload:   []byte(`2`),
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}
	require.NoError(t, tier.Store(ctx, expired))
	require.NoError(t, tier.Store(ctx, live))

	// Expired rows are invisible to Load even before the prune runs.
	got, err := tier.Load(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, got)

	pruned, err := tier.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	require.NoError(t, tier.Delete(ctx, "live"))
	got, err = tier.Load(ctx, "live")
	require.NoError(t, err)
	assert.Nil(t, got)
}
