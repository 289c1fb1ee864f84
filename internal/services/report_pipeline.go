package services

import (
	"context"
	"fmt"

	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/pkg/logger"
	"gorm.io/gorm"
)

// ReportPipeline initialises data quality runs. It resets the report
// row for a revision and stages one pending task per (file, check)
// pair; the actual checks are run by an external worker that fills in
// observations and flips the report status.
type ReportPipeline struct {
	db *gorm.DB
}

func NewReportPipeline(db *gorm.DB) *ReportPipeline {
	return &ReportPipeline{db: db}
}

// Process runs one ReportTask. Used as the processor for both the
// async worker and the sync queue fallback.
func (p *ReportPipeline) Process(ctx context.Context, task *ReportTask) error {
	report, err := p.Initialise(task.RevisionID, task.FileName)
	if err != nil {
		return err
	}
	logger.Infof("[ReportPipeline] Report %d initialised for revision %d", report.ID, task.RevisionID)
	return nil
}

// Initialise resets the revision's report and stages pending task
// results for every published TXC file against every seeded check.
// The whole staging runs in one transaction so a crash mid-way never
// leaves a pending report with half its tasks.
func (p *ReportPipeline) Initialise(revisionID uint, fileName string) (*models.Report, error) {
	var report *models.Report
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var err error
		report, err = models.InitialiseDQSReport(tx, revisionID, fileName)
		if err != nil {
			return fmt.Errorf("initialise report: %w", err)
		}

		// Stale tasks from the previous run are dropped with it.
		if err := tx.Where("report_id = ?", report.ID).Delete(&models.TaskResult{}).Error; err != nil {
			return fmt.Errorf("clear previous task results: %w", err)
		}

		var fileIDs []uint
		if err := tx.Model(&models.TXCFileAttributes{}).
			Where("revision_id = ?", revisionID).
			Pluck("id", &fileIDs).Error; err != nil {
			return fmt.Errorf("load txc files: %w", err)
		}

		var checks []models.Check
		if err := tx.Find(&checks).Error; err != nil {
			return fmt.Errorf("load checks: %w", err)
		}

		if _, err := models.InitialiseTaskResults(tx, report, fileIDs, checks); err != nil {
			return fmt.Errorf("stage task results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
