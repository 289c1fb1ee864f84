package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/internal/services"
	"github.com/openbusdata/busdq/backend/pkg/response"
	"gorm.io/gorm"
)

// RevisionHandler starts data quality runs for dataset revisions.
type RevisionHandler struct {
	db *gorm.DB
}

func NewRevisionHandler(db *gorm.DB) *RevisionHandler {
	return &RevisionHandler{db: db}
}

// InitialiseReport queues a data quality run for a revision. The
// generated file name identifies this run's eventual report artefact.
// POST /api/revisions/:id/reports
func (h *RevisionHandler) InitialiseReport(c *gin.Context) {
	revisionID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var revision models.DatasetRevision
	if err := h.db.First(&revision, revisionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			response.Error(c, response.NewNotFound("revision not found"))
			return
		}
		response.Error(c, response.NewServerError("failed to load revision"))
		return
	}

	task := &services.ReportTask{
		RevisionID: revisionID,
		FileName:   "dqs_report_" + uuid.NewString() + ".json",
	}
	if err := services.GetTaskQueue().Enqueue(task); err != nil {
		response.Error(c, response.NewServerError("failed to queue report task"))
		return
	}

	response.Created(c, gin.H{
		"revision_id": revisionID,
		"file_name":   task.FileName,
		"status":      models.StatusPipelinePending,
	})
}

// GetReport returns the current report row for a revision.
// GET /api/revisions/:id/reports
func (h *RevisionHandler) GetReport(c *gin.Context) {
	revisionID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var report models.Report
	if err := h.db.Where("revision_id = ?", revisionID).First(&report).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			response.Error(c, response.NewNotFound("no report for revision"))
			return
		}
		response.Error(c, response.NewServerError("failed to load report"))
		return
	}
	response.Success(c, report)
}
