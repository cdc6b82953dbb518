// Package testutil provides shared helpers for package tests: database setup
// and a fake Discord session implementing platform.API.
package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/onnwee/voicekeeper/db"
)

// SetupTestDB creates a Postgres test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(t.Context(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupSQLite opens an in-memory sqlite database with the service schema.
// Store queries are written to run on both engines, so most persistence tests
// use this instead of requiring a live Postgres.
func SetupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE user_channel_settings (
			user_id TEXT PRIMARY KEY,
			channel_id TEXT,
			channel_name TEXT,
			user_limit INTEGER DEFAULT 0,
			banned_users TEXT DEFAULT '[]',
			muted_users TEXT DEFAULT '[]',
			is_locked BOOLEAN DEFAULT FALSE,
			is_hidden BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE user_balance (
			user_id TEXT PRIMARY KEY,
			balance INTEGER DEFAULT 0,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := database.Exec(s); err != nil {
			database.Close()
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
