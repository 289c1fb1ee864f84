package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/services"
	"github.com/openbusdata/busdq/backend/pkg/logger"
	"github.com/openbusdata/busdq/backend/pkg/response"
	"gorm.io/gorm"
)

// ReportHandler serves the data quality report summary and its CSV
// export.
type ReportHandler struct {
	summaryService *services.SummaryService
	flags          config.FeatureFlags
}

func NewReportHandler(db *gorm.DB, flags config.FeatureFlags) *ReportHandler {
	return &ReportHandler{
		summaryService: services.NewSummaryService(db),
		flags:          flags,
	}
}

// GetSummary returns the grouped observation summary for a report.
// GET /api/report-summary?report_id=N&revision_id=N
func (h *ReportHandler) GetSummary(c *gin.Context) {
	reportID, revisionID, err := reportParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	summary := h.summaryService.GetReport(reportID, revisionID, h.flags)
	response.Success(c, summary)
}

// ExportCSV streams the raw observation rows of a report as CSV.
// GET /api/report-summary/export?report_id=N&revision_id=N
func (h *ReportHandler) ExportCSV(c *gin.Context) {
	reportID, revisionID, err := reportParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	fileName := "observations.csv"
	if reportID != nil {
		fileName = fmt.Sprintf("observations_report_%d.csv", *reportID)
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)

	if err := h.summaryService.WriteObservationsCSV(c.Writer, reportID, revisionID, h.flags); err != nil {
		// Headers are out already, all we can do is abort the stream.
		logger.Errorf("CSV export failed: %v", err)
		c.Abort()
	}
}

// reportParams reads the report/revision id query pair. Both must be
// present together or absent together.
func reportParams(c *gin.Context) (reportID, revisionID *uint, err error) {
	rawReport := c.Query("report_id")
	rawRevision := c.Query("revision_id")
	if rawReport == "" && rawRevision == "" {
		return nil, nil, nil
	}
	if rawReport == "" || rawRevision == "" {
		return nil, nil, response.NewRequiredParams("report_id, revision_id")
	}

	reportID, err = parseID(rawReport, "report_id")
	if err != nil {
		return nil, nil, err
	}
	revisionID, err = parseID(rawRevision, "revision_id")
	if err != nil {
		return nil, nil, err
	}
	return reportID, revisionID, nil
}

func parseID(raw, name string) (*uint, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, response.NewBadRequest("invalid " + name)
	}
	id := uint(v)
	return &id, nil
}
