package services

import (
	"math"
	"time"

	"github.com/openbusdata/busdq/backend/internal/models"
)

// Fares status vocabulary. These strings surface directly on the
// operator dashboard and in compliance exports.
const (
	StatusPublished   = "Published"
	StatusUnpublished = "Unpublished"

	StatusCompliant    = "Compliant"
	StatusNonCompliant = "Non compliant"

	Status42DayLookAheadIncomplete = "42 day look ahead is incomplete"
	StatusOneYearOld               = "One year old"
	StatusNotStale                 = "Not Stale"

	AttentionYes = "Yes"
	AttentionNo  = "No"
)

const (
	// lookAheadDays is the forward window operators are expected to
	// keep published data valid for.
	lookAheadDays = 42
	// staleAfterDays is how old a dataset may get before it counts
	// as stale.
	staleAfterDays = 365
)

// truncateDay drops the time-of-day component.
func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EvaluateFaresStaleness computes the two fares staleness flags for a
// single dataset, relative to the injected today. A nil operating
// period end date means the service is open-ended and is never flagged,
// regardless of last update.
func EvaluateFaresStaleness(operatingPeriodEndDate *time.Time, lastUpdated time.Time, today time.Time) (incomplete42Day bool, oneYearOld bool) {
	if operatingPeriodEndDate == nil {
		return false, false
	}

	day := truncateDay(today)
	end := truncateDay(*operatingPeriodEndDate)

	incomplete42Day = !end.After(day.AddDate(0, 0, lookAheadDays))
	oneYearOld = truncateDay(lastUpdated).Before(day.AddDate(0, 0, -staleAfterDays))
	return incomplete42Day, oneYearOld
}

// IsFaresStale reports whether either staleness flag is raised.
func IsFaresStale(operatingPeriodEndDate *time.Time, lastUpdated time.Time, today time.Time) bool {
	incomplete, oneYear := EvaluateFaresStaleness(operatingPeriodEndDate, lastUpdated, today)
	return incomplete || oneYear
}

// GetFaresTimelinessStatus maps the two staleness flags onto the
// dashboard vocabulary. The incomplete look-ahead takes precedence
// over the one-year rule.
func GetFaresTimelinessStatus(incomplete42Day, oneYearOld bool) string {
	if incomplete42Day {
		return Status42DayLookAheadIncomplete
	}
	if oneYearOld {
		return StatusOneYearOld
	}
	return StatusNotStale
}

// GetFaresPublishedStatus derives the published status from the
// presence of a matched fares dataset id.
func GetFaresPublishedStatus(faresDatasetID *uint) string {
	if faresDatasetID == nil {
		return StatusUnpublished
	}
	return StatusPublished
}

// GetFaresComplianceStatus derives the compliance status from the
// fares validator error count.
func GetFaresComplianceStatus(validationErrorCount int) string {
	if validationErrorCount > 0 {
		return StatusNonCompliant
	}
	return StatusCompliant
}

// GetFaresRequiresAttention folds the three status strings into the
// final classification. "No" only when published, not stale and
// compliant; any other combination requires attention.
func GetFaresRequiresAttention(publishedStatus, timelinessStatus, complianceStatus string) string {
	if publishedStatus == StatusPublished &&
		timelinessStatus == StatusNotStale &&
		complianceStatus == StatusCompliant {
		return AttentionNo
	}
	return AttentionYes
}

// TimetableStaleness carries the three timetable staleness rules.
type TimetableStaleness struct {
	StaleEndDate      bool
	Stale12MonthsOld  bool
	StaleOTCVariation bool
}

// Any reports whether any rule fired.
func (t TimetableStaleness) Any() bool {
	return t.StaleEndDate || t.Stale12MonthsOld || t.StaleOTCVariation
}

// EvaluateTimetableStaleness applies the timetable staleness rules to
// one registered service and its published TXC file. The effective
// stale dates are derived from the raw dates: the end-date rule
// anticipates the look-ahead window, the 12-month rule anticipates a
// year since last modification, the OTC rule anticipates a registered
// variation taking effect after the file was last touched.
func EvaluateTimetableStaleness(service *models.OTCService, file *models.TXCFileAttributes, today time.Time) TimetableStaleness {
	var out TimetableStaleness
	if service == nil || file == nil || file.ModificationDatetime == nil || service.EffectiveDate == nil {
		return out
	}

	day := truncateDay(today)
	lastModified := truncateDay(*file.ModificationDatetime)
	effectiveDate := truncateDay(*service.EffectiveDate)
	staleLastModified := lastModified.AddDate(0, 0, staleAfterDays)
	staleOTCEffective := effectiveDate.AddDate(0, 0, -lookAheadDays)

	out.StaleOTCVariation = staleOTCEffective.After(lastModified) && !staleOTCEffective.After(day)

	if file.OperatingPeriodEndDate != nil {
		staleEndDate := truncateDay(*file.OperatingPeriodEndDate).AddDate(0, 0, -lookAheadDays)
		out.StaleEndDate = staleEndDate.Before(staleLastModified) &&
			!staleEndDate.After(day) &&
			!effectiveDate.After(lastModified)
		out.Stale12MonthsOld = staleLastModified.Before(staleEndDate) &&
			!staleLastModified.After(day) &&
			!effectiveDate.After(lastModified)
	} else {
		out.Stale12MonthsOld = !staleLastModified.After(day) && !effectiveDate.After(lastModified)
	}

	return out
}

// IsTimetableStale reports whether any timetable staleness rule fires.
func IsTimetableStale(service *models.OTCService, file *models.TXCFileAttributes, today time.Time) bool {
	return EvaluateTimetableStaleness(service, file, today).Any()
}

// RoundPercent computes round(100*part/total) with half-away-from-zero
// rounding. A zero total yields 0, never an error.
func RoundPercent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
