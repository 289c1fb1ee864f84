package models

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := MigrateAll(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func TestInitialiseDQSReport_CreatesThenResets(t *testing.T) {
	db := openTestDB(t)

	report, err := InitialiseDQSReport(db, 42, "first.json")
	if err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if report.Status != StatusPipelinePending || report.FileName != "first.json" {
		t.Errorf("report = %+v", report)
	}

	// Simulate a completed run, then re-initialise.
	if err := db.Model(&Report{}).Where("id = ?", report.ID).
		Update("status", StatusReportGenerated).Error; err != nil {
		t.Fatalf("update status: %v", err)
	}

	again, err := InitialiseDQSReport(db, 42, "second.json")
	if err != nil {
		t.Fatalf("re-initialise: %v", err)
	}
	if again.ID != report.ID {
		t.Errorf("re-initialise created a new row: %d != %d", again.ID, report.ID)
	}
	if again.Status != StatusPipelinePending || again.FileName != "second.json" {
		t.Errorf("re-initialised report = %+v", again)
	}

	var count int64
	db.Model(&Report{}).Where("revision_id = ?", 42).Count(&count)
	if count != 1 {
		t.Errorf("reports for revision = %d, want exactly 1", count)
	}
}

func TestInitialiseTaskResults(t *testing.T) {
	db := openTestDB(t)

	report := Report{Created: time.Now().UTC(), RevisionID: 1, Status: StatusPipelinePending}
	if err := db.Create(&report).Error; err != nil {
		t.Fatalf("create report: %v", err)
	}
	checks := []Check{
		{Observation: "A", Importance: LevelCritical, Category: CategoryDataSet},
		{Observation: "B", Importance: LevelAdvisory, Category: CategoryStop},
	}
	for i := range checks {
		if err := db.Create(&checks[i]).Error; err != nil {
			t.Fatalf("create check: %v", err)
		}
	}

	results, err := InitialiseTaskResults(db, &report, []uint{10, 11, 12}, checks)
	if err != nil {
		t.Fatalf("initialise task results: %v", err)
	}
	if len(results) != 6 {
		t.Errorf("results = %d, want 6 (3 files x 2 checks)", len(results))
	}

	var pending int64
	db.Model(&TaskResult{}).Where("report_id = ? AND status = ?", report.ID, TaskStatusPending).Count(&pending)
	if pending != 6 {
		t.Errorf("pending rows = %d, want 6", pending)
	}
}

func TestInitialiseTaskResults_NoFiles(t *testing.T) {
	db := openTestDB(t)

	report := Report{Created: time.Now().UTC(), RevisionID: 1, Status: StatusPipelinePending}
	if err := db.Create(&report).Error; err != nil {
		t.Fatalf("create report: %v", err)
	}

	results, err := InitialiseTaskResults(db, &report, nil, []Check{{Observation: "A"}})
	if err != nil {
		t.Fatalf("initialise task results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestSeedChecks_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := SeedChecks(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var first int64
	db.Model(&Check{}).Count(&first)
	if first == 0 {
		t.Fatal("no checks seeded")
	}

	if err := SeedChecks(db); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	var second int64
	db.Model(&Check{}).Count(&second)
	if first != second {
		t.Errorf("re-seed changed check count: %d -> %d", first, second)
	}
}
