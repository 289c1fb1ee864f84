package models

import (
	"fmt"

	"github.com/openbusdata/busdq/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return MigrateAll(DB)
}

// MigrateAll migrates the full schema on the given connection. Tests
// use it against a throwaway sqlite database.
func MigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organisation{},
		&Dataset{},
		&DatasetRevision{},
		&TXCFileAttributes{},
		&Service{},
		&ServicePattern{},
		&VehicleJourney{},
		&StopPoint{},
		&ServicePatternStop{},
		&SeasonalService{},
		&ConsumerFeedback{},
		&FaresMetadata{},
		&OTCService{},
		&Check{},
		&Report{},
		&TaskResult{},
		&ObservationResult{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// defaultChecks is the seeded data quality rule catalogue. The check
// worker pipeline evaluates these against each published TXC file.
var defaultChecks = []Check{
	{Observation: "Incorrect NOC", Importance: LevelCritical, Category: CategoryDataSet, QueueName: "dqs-incorrect-noc"},
	{Observation: "Incorrect licence number", Importance: LevelCritical, Category: CategoryDataSet, QueueName: "dqs-incorrect-licence"},
	{Observation: "First stop is set down only", Importance: LevelCritical, Category: CategoryStop, QueueName: "dqs-first-stop-set-down"},
	{Observation: "Last stop is pick up only", Importance: LevelCritical, Category: CategoryStop, QueueName: "dqs-last-stop-pick-up"},
	{Observation: "Missing journey code", Importance: LevelCritical, Category: CategoryJourney, QueueName: "dqs-missing-journey-code"},
	{Observation: "Duplicate journey code", Importance: LevelCritical, Category: CategoryJourney, QueueName: "dqs-duplicate-journey-code"},
	{Observation: "Incorrect stop type", Importance: LevelAdvisory, Category: CategoryStop, QueueName: "dqs-incorrect-stop-type"},
	{Observation: "Stop not found in NaPTAN", Importance: LevelAdvisory, Category: CategoryStop, QueueName: "dqs-stop-not-in-naptan"},
	{Observation: "First stop is not a timing point", Importance: LevelAdvisory, Category: CategoryTiming, QueueName: "dqs-first-stop-not-timing"},
	{Observation: "Last stop is not a timing point", Importance: LevelAdvisory, Category: CategoryTiming, QueueName: "dqs-last-stop-not-timing"},
	{Observation: "No timing point for more than 15 minutes", Importance: LevelAdvisory, Category: CategoryTiming, QueueName: "dqs-no-timing-point-15"},
	{Observation: "Serviced organisation data is out of date", Importance: LevelAdvisory, Category: CategoryJourney, QueueName: "dqs-serviced-org-out-of-date"},
	{Observation: "Cancelled service appearing as active", Importance: LevelAdvisory, Category: CategoryDataSet, QueueName: "dqs-cancelled-service-active"},
}

// SeedDefaultData creates the check reference rows if not present.
func SeedDefaultData() error {
	return SeedChecks(DB)
}

func SeedChecks(db *gorm.DB) error {
	for _, check := range defaultChecks {
		var count int64
		db.Model(&Check{}).Where("observation = ?", check.Observation).Count(&count)
		if count == 0 {
			if err := db.Create(&check).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
