package services

import (
	"time"

	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// sraCronSpec runs the recount nightly, after the overnight data
// ingest has settled. The retention sweep follows half an hour later.
const (
	sraCronSpec     = "30 2 * * *"
	cleanupCronSpec = "0 3 * * *"
)

// SRAScheduler recomputes every organisation's requires-attention
// counters on a nightly cron so dashboard reads stay cheap.
type SRAScheduler struct {
	db            *gorm.DB
	attention     *AttentionService
	flags         config.FeatureFlags
	cronScheduler *cron.Cron
}

func NewSRAScheduler(db *gorm.DB, flags config.FeatureFlags) *SRAScheduler {
	return &SRAScheduler{
		db:        db,
		attention: NewAttentionService(db),
		flags:     flags,
	}
}

func (s *SRAScheduler) StartScheduler() {
	s.cronScheduler = cron.New()

	if _, err := s.cronScheduler.AddFunc(sraCronSpec, func() {
		s.RecomputeAll(time.Now().UTC())
	}); err != nil {
		logger.Errorf("[SRAScheduler] Failed to add recount job: %v", err)
		return
	}
	if _, err := s.cronScheduler.AddFunc(cleanupCronSpec, func() {
		if err := s.CleanupUnpublishedReports(); err != nil {
			logger.Errorf("[SRAScheduler] Retention sweep failed: %v", err)
		}
	}); err != nil {
		logger.Errorf("[SRAScheduler] Failed to add cleanup job: %v", err)
		return
	}

	s.cronScheduler.Start()
	logger.Infof("[SRAScheduler] Scheduler started (cron: %s)", sraCronSpec)
}

func (s *SRAScheduler) StopScheduler() {
	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

// RecomputeAll recounts every organisation. One organisation failing
// is logged and skipped, the rest still get fresh counters.
func (s *SRAScheduler) RecomputeAll(today time.Time) {
	var orgIDs []uint
	if err := s.db.Model(&models.Organisation{}).Pluck("id", &orgIDs).Error; err != nil {
		logger.Errorf("[SRAScheduler] Failed to list organisations: %v", err)
		return
	}

	updated := 0
	for _, orgID := range orgIDs {
		if err := s.RecomputeOrganisation(orgID, today); err != nil {
			logger.Errorf("[SRAScheduler] Organisation %d recount failed: %v", orgID, err)
			continue
		}
		updated++
	}
	logger.Infof("[SRAScheduler] Recount complete: %d/%d organisations updated", updated, len(orgIDs))
}

// CleanupUnpublishedReports drops report runs, their staged tasks and
// their observations for revisions that are no longer published.
// Nothing reads those artefacts once the revision is withdrawn.
func (s *SRAScheduler) CleanupUnpublishedReports() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var reportIDs []uint
		err := tx.Table("dqs_reports AS rep").
			Select("rep.id").
			Joins("JOIN dataset_revisions AS rev ON rev.id = rep.revision_id").
			Where("rev.is_published = ?", false).
			Scan(&reportIDs).Error
		if err != nil {
			return err
		}
		if len(reportIDs) == 0 {
			return nil
		}

		err = tx.Where("task_result_id IN (?)", tx.
			Table("dqs_task_results AS tr").
			Select("tr.id").
			Where("tr.report_id IN ?", reportIDs)).
			Delete(&models.ObservationResult{}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("report_id IN ?", reportIDs).Delete(&models.TaskResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", reportIDs).Delete(&models.Report{}).Error; err != nil {
			return err
		}
		logger.Infof("[SRAScheduler] Retention sweep removed %d unpublished report runs", len(reportIDs))
		return nil
	})
}

// RecomputeOrganisation recounts one organisation and persists the
// counters on its row.
func (s *SRAScheduler) RecomputeOrganisation(orgID uint, today time.Time) error {
	result, err := s.attention.ComputeOrganisationSRA(orgID, s.flags, today)
	if err != nil {
		return err
	}
	return s.db.Model(&models.Organisation{}).
		Where("id = ?", orgID).
		Updates(map[string]interface{}{
			"total_inscope": result.TotalInscope,
			"timetable_sra": result.TimetableSRA,
			"fares_sra":     result.FaresSRA,
			"overall_sra":   result.OverallSRA,
		}).Error
}
