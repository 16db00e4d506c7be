package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/db"
	"github.com/xxxsen/imgidx/internal/repo"
)

// OpenSQLiteTestDB opens a throwaway sqlite database in a temp dir. The pure
// Go driver means these tests run everywhere.
func OpenSQLiteTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgidx-test.db")
	conn, err := db.Open(config.DBConfig{Driver: repo.DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	if err := db.ApplyMigrations(conn, repo.DriverSQLite); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn, repo.DriverSQLite
}

// OpenPostgresTestDB connects to the postgres named by TEST_DB_HOST, skipping
// when unset. Exercises the pgvector column path.
func OpenPostgresTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DBConfig{
		Driver:   repo.DriverPostgres,
		Host:     host,
		Port:     5432,
		User:     "imgidx",
		Password: "imgidx_pass",
		DBName:   "imgidx_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open postgres db: %v", err)
	}
	if err := db.ApplyMigrations(conn, repo.DriverPostgres); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn, repo.DriverPostgres
}
