//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/database"
	"github.com/pixelsmith-dev/pixelsmith/pkg/testhelpers"
)

func TestRunMigrations_IdempotentOnMigratedSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	// GetTestDB already migrated the schema; a second run must be a
	// no-op, not an error.
	sqlDB, err := sql.Open("pgx", testDB.ConnStr)
	require.NoError(t, err)
	defer sqlDB.Close()

	_, thisFile, _, _ := runtime.Caller(0)
	cfg := &config.DatabaseConfig{
		MigrationsPath: filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations"),
	}
	require.NoError(t, database.RunMigrations(sqlDB, cfg, zap.NewNop()))
}

func TestRunMigrations_CreatesGenerationsTable(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	var tableExists bool
	err := testDB.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'generations'
		)
	`).Scan(&tableExists)
	require.NoError(t, err)
	assert.True(t, tableExists, "generations table should exist")

	var indexExists bool
	err = testDB.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM pg_indexes
			WHERE tablename = 'generations'
			AND indexname = 'idx_generations_user_created'
		)
	`).Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists, "user/created_at index should exist")
}

func TestRunMigrations_MissingSourceFails(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	sqlDB, err := sql.Open("pgx", testDB.ConnStr)
	require.NoError(t, err)
	defer sqlDB.Close()

	cfg := &config.DatabaseConfig{MigrationsPath: "/nonexistent/migrations"}
	err = database.RunMigrations(sqlDB, cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration source")
}
