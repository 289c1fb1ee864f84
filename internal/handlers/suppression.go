package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openbusdata/busdq/backend/internal/services"
	"github.com/openbusdata/busdq/backend/pkg/response"
	"gorm.io/gorm"
)

// SuppressionHandler toggles suppression on observations and consumer
// feedback.
type SuppressionHandler struct {
	suppressionService *services.SuppressionService
}

func NewSuppressionHandler(db *gorm.DB) *SuppressionHandler {
	return &SuppressionHandler{
		suppressionService: services.NewSuppressionService(db),
	}
}

type suppressObservationRequest struct {
	RevisionID *uint `json:"revision_id" binding:"required"`
	CheckID    *uint `json:"check_id" binding:"required"`
	Suppress   *bool `json:"is_suppressed" binding:"required"`
}

// SuppressObservation sets the suppression flag on every observation
// of one check within a revision.
// POST /api/observations/suppress
func (h *SuppressionHandler) SuppressObservation(c *gin.Context) {
	var req suppressObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, response.NewRequiredParams("revision_id, check_id, is_suppressed"))
		return
	}

	affected, err := h.suppressionService.SuppressObservation(*req.RevisionID, *req.CheckID, *req.Suppress)
	if err != nil {
		response.Error(c, response.NewServerError("failed to update suppression"))
		return
	}
	response.Success(c, gin.H{"rows_affected": affected})
}

type suppressFeedbackRequest struct {
	FeedbackID *uint `json:"feedback_id" binding:"required"`
	Suppress   *bool `json:"is_suppressed" binding:"required"`
}

// SuppressFeedback sets the suppression flag on one feedback row.
// POST /api/feedback/suppress
func (h *SuppressionHandler) SuppressFeedback(c *gin.Context) {
	var req suppressFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, response.NewRequiredParams("feedback_id, is_suppressed"))
		return
	}

	if err := h.suppressionService.SuppressFeedback(*req.FeedbackID, *req.Suppress); err != nil {
		if err == gorm.ErrRecordNotFound {
			response.Error(c, response.NewNotFound("feedback not found"))
			return
		}
		response.Error(c, response.NewServerError("failed to update suppression"))
		return
	}
	response.Success(c, gin.H{"feedback_id": *req.FeedbackID, "is_suppressed": *req.Suppress})
}

// pathID parses a numeric path parameter.
func pathID(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, response.NewBadRequest("invalid " + name)
	}
	return uint(v), nil
}
