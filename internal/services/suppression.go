package services

import (
	"fmt"

	"github.com/openbusdata/busdq/backend/internal/models"
	"gorm.io/gorm"
)

// SuppressionService toggles the suppression flag on data quality
// observations and consumer feedback. Suppression hides a finding from
// the attention classification and the summary counts without deleting
// it.
type SuppressionService struct {
	db *gorm.DB
}

func NewSuppressionService(db *gorm.DB) *SuppressionService {
	return &SuppressionService{db: db}
}

// SuppressObservation sets is_suppressed on every observation of the
// given check within the given revision. Applying the same value twice
// is a no-op, and the update is a single statement so a concurrent
// caller can never see a half-toggled set.
func (s *SuppressionService) SuppressObservation(revisionID, checkID uint, suppress bool) (int64, error) {
	result := s.db.Model(&models.ObservationResult{}).
		Where("task_result_id IN (?)", s.db.
			Table("dqs_task_results AS tr").
			Select("tr.id").
			Joins("JOIN txc_file_attributes AS txc ON txc.id = tr.txc_file_attributes_id").
			Where("tr.check_id = ? AND txc.revision_id = ?", checkID, revisionID)).
		Update("is_suppressed", suppress)
	if result.Error != nil {
		return 0, fmt.Errorf("suppress observations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SuppressFeedback sets is_suppressed on one consumer feedback row.
func (s *SuppressionService) SuppressFeedback(feedbackID uint, suppress bool) error {
	result := s.db.Model(&models.ConsumerFeedback{}).
		Where("id = ?", feedbackID).
		Update("is_suppressed", suppress)
	if result.Error != nil {
		return fmt.Errorf("suppress feedback: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
