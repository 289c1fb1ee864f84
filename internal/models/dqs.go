package models

import (
	"time"

	"gorm.io/gorm"
)

// Report status vocabulary. A report only feeds the summary once it
// reaches StatusReportGenerated.
const (
	StatusPipelinePending        = "PIPELINE_PENDING"
	StatusPipelineSucceeded      = "PIPELINE_SUCCEEDED"
	StatusReportGenerated        = "REPORT_GENERATED"
	StatusReportGenerationFailed = "REPORT_GENERATION_FAILED"
)

// Check importance levels.
const (
	LevelCritical = "Critical"
	LevelAdvisory = "Advisory"
	LevelFeedback = "Feedback"
)

// Check categories.
const (
	CategoryStop    = "Stop"
	CategoryTiming  = "Timing"
	CategoryJourney = "Journey"
	CategoryDataSet = "Data set"
)

// TaskResult status vocabulary.
const (
	TaskStatusPending   = "PENDING"
	TaskStatusCompleted = "COMPLETED"
)

const taskResultBatchSize = 1000

// Check is a named data quality rule. Reference data, seeded once and
// read-only to the aggregation layer.
type Check struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Observation string `gorm:"size:1024;not null" json:"observation"`
	Importance  string `gorm:"size:64;not null" json:"importance"`
	Category    string `gorm:"size:64;not null" json:"category"`
	QueueName   string `gorm:"size:256" json:"queue_name"`
}

// Report is one data quality run against a dataset revision. Exactly
// one current report exists per revision: re-initialising resets the
// existing row instead of inserting a new one.
type Report struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Created    time.Time `json:"created"`
	FileName   string    `gorm:"size:255" json:"file_name"`
	RevisionID uint      `gorm:"index;not null" json:"revision_id"`
	Status     string    `gorm:"size:64" json:"status"`
}

// TaskResult is one evaluation of a Check against one TXC file within
// one Report. Rows are created in bulk when a run is initialised and
// mutated only by the external check worker.
type TaskResult struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	Created             time.Time          `json:"created"`
	Modified            time.Time          `gorm:"autoUpdateTime" json:"modified"`
	Status              string             `gorm:"size:64;not null" json:"status"`
	Message             string             `gorm:"type:text" json:"message"`
	CheckID             *uint              `gorm:"index" json:"check_id"`
	Check               *Check             `gorm:"foreignKey:CheckID" json:"check,omitempty"`
	ReportID            *uint              `gorm:"index" json:"report_id"`
	TXCFileAttributesID *uint              `gorm:"index" json:"txc_file_attributes_id"`
	TXCFileAttributes   *TXCFileAttributes `gorm:"foreignKey:TXCFileAttributesID" json:"txc_file_attributes,omitempty"`
}

// ObservationResult is one concrete rule violation instance tied to a
// vehicle journey / stop pair. IsSuppressed is tri-state: nil when
// suppression is not applicable to the check, otherwise the operator's
// acknowledgement flag.
type ObservationResult struct {
	ID                   uint        `gorm:"primaryKey" json:"id"`
	Details              string      `gorm:"type:text" json:"details"`
	TaskResultID         uint        `gorm:"index;not null" json:"task_result_id"`
	TaskResult           *TaskResult `gorm:"foreignKey:TaskResultID" json:"task_result,omitempty"`
	VehicleJourneyID     *uint       `gorm:"index" json:"vehicle_journey_id"`
	ServicePatternStopID *uint       `gorm:"index" json:"service_pattern_stop_id"`
	ServicedOrgID        *uint       `gorm:"index" json:"serviced_org_id"`
	IsSuppressed         *bool       `json:"is_suppressed"`
}

// InitialiseDQSReport resets the current report row for a revision back
// to the pending state, or creates the row if the revision has never
// been checked. Prior run history is deliberately not retained.
func InitialiseDQSReport(db *gorm.DB, revisionID uint, fileName string) (*Report, error) {
	var report Report
	err := db.Where("revision_id = ?", revisionID).First(&report).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		report = Report{
			Created:    time.Now().UTC(),
			FileName:   fileName,
			RevisionID: revisionID,
			Status:     StatusPipelinePending,
		}
		if err := db.Create(&report).Error; err != nil {
			return nil, err
		}
		return &report, nil
	case err != nil:
		return nil, err
	}

	report.Created = time.Now().UTC()
	report.FileName = fileName
	report.Status = StatusPipelinePending
	if err := db.Save(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// InitialiseTaskResults bulk-creates pending TaskResult rows for every
// (TXC file, check) combination of a freshly initialised report.
func InitialiseTaskResults(db *gorm.DB, report *Report, fileIDs []uint, checks []Check) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(fileIDs)*len(checks))
	for _, fileID := range fileIDs {
		for i := range checks {
			fid := fileID
			cid := checks[i].ID
			rid := report.ID
			results = append(results, TaskResult{
				Created:             time.Now().UTC(),
				Status:              TaskStatusPending,
				CheckID:             &cid,
				ReportID:            &rid,
				TXCFileAttributesID: &fid,
			})
		}
	}
	if len(results) == 0 {
		return results, nil
	}
	if err := db.CreateInBatches(&results, taskResultBatchSize).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (Check) TableName() string             { return "dqs_checks" }
func (Report) TableName() string            { return "dqs_reports" }
func (TaskResult) TableName() string        { return "dqs_task_results" }
func (ObservationResult) TableName() string { return "dqs_observation_results" }
