package services

import (
	"path/filepath"
	"testing"

	"github.com/openbusdata/busdq/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a throwaway sqlite database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := models.MigrateAll(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func boolPtr(v bool) *bool { return &v }

func uintPtr(v uint) *uint { return &v }
