package services

import (
	"sort"

	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/pkg/logger"
	"gorm.io/gorm"
)

// ObservationURLNone marks an observation name with no guidance page.
const ObservationURLNone = ""

// observationURLs maps observation names onto their guidance pages.
// Unmapped names resolve to ObservationURLNone, never an error.
var observationURLs = map[string]string{
	"Incorrect NOC":                             "/guidance/data-quality/incorrect-noc",
	"Incorrect licence number":                  "/guidance/data-quality/incorrect-licence-number",
	"First stop is set down only":               "/guidance/data-quality/first-stop-set-down-only",
	"Last stop is pick up only":                 "/guidance/data-quality/last-stop-pick-up-only",
	"Missing journey code":                      "/guidance/data-quality/missing-journey-code",
	"Duplicate journey code":                    "/guidance/data-quality/duplicate-journey-code",
	"Incorrect stop type":                       "/guidance/data-quality/incorrect-stop-type",
	"Stop not found in NaPTAN":                  "/guidance/data-quality/stop-not-in-naptan",
	"First stop is not a timing point":          "/guidance/data-quality/first-stop-not-timing-point",
	"Last stop is not a timing point":           "/guidance/data-quality/last-stop-not-timing-point",
	"No timing point for more than 15 minutes":  "/guidance/data-quality/no-timing-point-15-minutes",
	"Serviced organisation data is out of date": "/guidance/data-quality/serviced-organisation-out-of-date",
	"Cancelled service appearing as active":     "/guidance/data-quality/cancelled-service-active",
}

// levelIntros holds the static explanatory paragraph shown above each
// importance level's observations.
var levelIntros = map[string]string{
	models.LevelCritical: "Critical observations are data quality issues that must be " +
		"resolved before the data meets the standard required by the bus open data " +
		"regulations. Resolve these in your scheduling tool and republish your data.",
	models.LevelAdvisory: "Advisory observations suggest there may be an error in your " +
		"data. If an observation is intended behaviour for the service, it can be " +
		"suppressed; suppressed observations are retained for audit.",
	models.LevelFeedback: "Feedback raised by data consumers against your published " +
		"services. Review each item and suppress it once addressed.",
}

// summaryLevels is the fixed presentation order.
var summaryLevels = []string{models.LevelCritical, models.LevelAdvisory}

// ObservationGroup is the per-observation drill-down row inside a
// level.
type ObservationGroup struct {
	Observation        string `json:"observation"`
	Category           string `json:"category"`
	Importance         string `json:"importance"`
	URL                string `json:"url"`
	ServicesAffected   int    `json:"number_of_services_affected"`
	SuppressedServices int    `json:"number_of_suppressed_observation"`
}

// LevelSummary aggregates one importance level.
type LevelSummary struct {
	Intro  string             `json:"intro"`
	Count  int                `json:"count"`
	Groups []ObservationGroup `json:"observations"`
}

// Summary is the report-level aggregation consumed by both the
// dashboard and the CSV views. Degraded is true when the summary is
// empty because the aggregation failed rather than because there is no
// data yet; the rendered output is identical either way.
type Summary struct {
	Data                map[string]*LevelSummary `json:"data"`
	Count               int                      `json:"count"`
	BusServicesAffected int                      `json:"bus_services_affected"`
	Degraded            bool                     `json:"-"`
}

// SummaryService builds report summaries.
type SummaryService struct {
	db *gorm.DB
}

func NewSummaryService(db *gorm.DB) *SummaryService {
	return &SummaryService{db: db}
}

// emptySummary is the well-defined "no data yet" result: one entry per
// importance level with its intro text and zero count.
func emptySummary(degraded bool) *Summary {
	data := make(map[string]*LevelSummary, len(summaryLevels))
	for _, level := range summaryLevels {
		data[level] = &LevelSummary{Intro: levelIntros[level], Count: 0}
	}
	return &Summary{Data: data, Count: 0, BusServicesAffected: 0, Degraded: degraded}
}

// GetReport builds the observation summary for one (report, revision)
// pair. Absent identifiers, a report that has not reached the
// generated state, or a disabled pipeline flag all resolve to the
// empty summary; so does any aggregation failure, which is logged and
// marked Degraded. The dashboard never hard-fails on a report.
func (s *SummaryService) GetReport(reportID, revisionID *uint, flags config.FeatureFlags) *Summary {
	if reportID == nil || revisionID == nil || !flags.NewDataQualityService {
		return emptySummary(false)
	}

	var report models.Report
	err := s.db.Where("id = ? AND revision_id = ?", *reportID, *revisionID).First(&report).Error
	if err == gorm.ErrRecordNotFound {
		return emptySummary(false)
	}
	if err != nil {
		logger.Error().Err(err).Uint("report_id", *reportID).Msg("report summary: load report failed")
		return emptySummary(true)
	}
	if report.Status != models.StatusReportGenerated {
		return emptySummary(false)
	}

	rows, err := NewObservationQuery(s.db).
		ForReportRevision(*reportID, *revisionID).
		WithCheck().
		WithJourney().
		WithStop().
		Rows()
	if err != nil {
		logger.Error().Err(err).
			Uint("report_id", *reportID).
			Uint("revision_id", *revisionID).
			Msg("report summary: observation query failed")
		return emptySummary(true)
	}
	if len(rows) == 0 {
		return emptySummary(false)
	}

	summary := s.aggregate(rows, flags)

	if flags.SpecificFeedback {
		feedbackCount, err := s.feedbackCount(*revisionID)
		if err != nil {
			logger.Error().Err(err).Uint("revision_id", *revisionID).Msg("report summary: feedback count failed")
			return emptySummary(true)
		}
		summary.Data[models.LevelFeedback] = &LevelSummary{
			Intro: levelIntros[models.LevelFeedback],
			Count: feedbackCount,
		}
	}

	return summary
}

func (s *SummaryService) aggregate(rows []ObservationRow, flags config.FeatureFlags) *Summary {
	// Dataset-wide denominator over the full, unfiltered result set:
	// suppression never changes it.
	affected := make(map[[2]string]struct{})
	for _, r := range rows {
		affected[[2]string{r.ServiceCode, r.LineName}] = struct{}{}
	}

	// Drop exact duplicates across the full column set. The composite
	// (journey start, service, line) identity is part of the row, so
	// struct equality covers it.
	seen := make(map[ObservationRow]struct{}, len(rows))
	deduped := make([]ObservationRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		deduped = append(deduped, r)
	}

	type groupKey struct{ observation, category, importance string }
	groups := make(map[groupKey]*ObservationGroup)
	var order []groupKey
	for _, r := range deduped {
		key := groupKey{r.Observation, r.Category, r.Importance}
		g, ok := groups[key]
		if !ok {
			g = &ObservationGroup{
				Observation: r.Observation,
				Category:    r.Category,
				Importance:  r.Importance,
				URL:         observationURL(r.Observation),
			}
			groups[key] = g
			order = append(order, key)
		}
		g.ServicesAffected++
		if r.IsSuppressed {
			g.SuppressedServices++
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].observation < order[j].observation })

	summary := emptySummary(false)
	summary.Count = len(deduped)
	summary.BusServicesAffected = len(affected)
	for _, key := range order {
		g := groups[key]
		if g.Importance == models.LevelFeedback && !flags.SpecificFeedback {
			continue
		}
		level, ok := summary.Data[g.Importance]
		if !ok {
			// Unknown importance values are carried without intro text
			// rather than dropped.
			level = &LevelSummary{}
			summary.Data[g.Importance] = level
		}
		level.Groups = append(level.Groups, *g)
		level.Count += g.ServicesAffected - g.SuppressedServices
	}
	return summary
}

// feedbackCount counts non-suppressed consumer feedback rows tied to a
// concrete service of the revision.
func (s *SummaryService) feedbackCount(revisionID uint) (int, error) {
	var count int64
	err := s.db.Model(&models.ConsumerFeedback{}).
		Where("revision_id = ? AND service_id IS NOT NULL", revisionID).
		Where("(is_suppressed IS NULL OR is_suppressed = ?)", false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func observationURL(observation string) string {
	if url, ok := observationURLs[observation]; ok {
		return url
	}
	return ObservationURLNone
}
