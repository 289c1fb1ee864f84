package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/internal/services"
	"github.com/openbusdata/busdq/backend/pkg/response"
	"gorm.io/gorm"
)

// AttentionHandler serves the requires-attention views for the
// publisher dashboard.
type AttentionHandler struct {
	db               *gorm.DB
	attentionService *services.AttentionService
	flags            config.FeatureFlags
}

func NewAttentionHandler(db *gorm.DB, flags config.FeatureFlags) *AttentionHandler {
	return &AttentionHandler{
		db:               db,
		attentionService: services.NewAttentionService(db),
		flags:            flags,
	}
}

// GetRequiresAttention lists the organisation's timetable services
// requiring attention, plus the cached counters and percentage.
// GET /api/organisations/:id/requires-attention
func (h *AttentionHandler) GetRequiresAttention(c *gin.Context) {
	orgID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var org models.Organisation
	if err := h.db.First(&org, orgID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			response.Error(c, response.NewNotFound("organisation not found"))
			return
		}
		response.Error(c, response.NewServerError("failed to load organisation"))
		return
	}

	today := time.Now().UTC()
	records, err := h.attentionService.GetTimetableRecordsRequireAttention(orgID, today)
	if err != nil {
		response.Error(c, response.NewServerError("failed to compute requires attention"))
		return
	}

	response.Success(c, gin.H{
		"organisation_id":               org.ID,
		"total_inscope":                 org.TotalInscope,
		"timetable_sra":                 org.TimetableSRA,
		"fares_sra":                     org.FaresSRA,
		"overall_sra":                   org.OverallSRA,
		"requires_attention_percentage": services.RoundPercent(org.OverallSRA, org.TotalInscope),
		"services":                      records,
	})
}

// GetFaresAttention lists the fares statuses per published line.
// GET /api/organisations/:id/fares-attention
func (h *AttentionHandler) GetFaresAttention(c *gin.Context) {
	orgID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	if !h.flags.FaresRequireAttention {
		response.Success(c, gin.H{"services": []services.FaresAttentionRecord{}})
		return
	}

	records, err := h.attentionService.GetFaresAttentionRecords(orgID, time.Now().UTC())
	if err != nil {
		response.Error(c, response.NewServerError("failed to compute fares attention"))
		return
	}
	response.Success(c, gin.H{"services": records})
}
