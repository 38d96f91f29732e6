// Package databasetest opens throwaway databases for tests.
package databasetest

import (
	"path/filepath"
	"testing"

	"duet/backend/internal/database"

	"gorm.io/gorm"
)

// New returns a migrated sqlite database stored under t.TempDir. It is closed
// when the test ends.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "duet.db") + "?_pragma=busy_timeout(5000)"
	db, err := database.Connect("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
