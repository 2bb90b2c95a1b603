package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", t.Name(), name),
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNew_AppliesProfile(t *testing.T) {
	db := newTestDB(t, "analytics")

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, "analytics", db.Name())
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestMigrate(t *testing.T) {
	t.Run("applies analytics schema", func(t *testing.T) {
		db := newTestDB(t, "analytics")
		require.NoError(t, db.Migrate())

		_, err := db.Exec("SELECT id FROM responses LIMIT 1")
		assert.NoError(t, err)
		_, err = db.Exec("SELECT organization_id FROM aggregates LIMIT 1")
		assert.NoError(t, err)
	})

	t.Run("applies jobs schema", func(t *testing.T) {
		db := newTestDB(t, "jobs")
		require.NoError(t, db.Migrate())

		_, err := db.Exec("SELECT id FROM background_jobs LIMIT 1")
		assert.NoError(t, err)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := newTestDB(t, "cache")
		require.NoError(t, db.Migrate())
		require.NoError(t, db.Migrate())
	})

	t.Run("unknown database name is a no-op", func(t *testing.T) {
		db := newTestDB(t, "mystery")
		assert.NoError(t, db.Migrate())
	})
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t, "jobs")
	require.NoError(t, db.Migrate())

	t.Run("commits on success", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO background_jobs
				(id, job_type, organization_id, status, priority, scheduled_at, created_at, updated_at)
				VALUES ('j1', 'daily_aggregation', 'org1', 'pending', 1, 0, 0, 0)`)
			return err
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM background_jobs").Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(`INSERT INTO background_jobs
				(id, job_type, organization_id, status, priority, scheduled_at, created_at, updated_at)
				VALUES ('j2', 'daily_aggregation', 'org1', 'pending', 1, 0, 0, 0)`); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		})
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM background_jobs WHERE id = 'j2'").Scan(&count))
		assert.Equal(t, 0, count)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			panic("kaboom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in transaction")
	})
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t, "analytics")
	require.NoError(t, db.Migrate())

	assert.NoError(t, db.HealthCheck(context.Background()))
}
