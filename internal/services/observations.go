package services

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ObservationRow is one fully-derived observation row: the shape both
// the summary aggregation and the CSV export consume. All fields are
// plain values so rows can be deduplicated by comparison.
type ObservationRow struct {
	Importance       string
	Category         string
	Observation      string
	ServiceCode      string
	LineName         string
	JourneyStartTime string // HH:MM, empty when no journey is linked
	Direction        string // first letter capitalised
	StopName         string // "<common name> (<atco code>)"
	Details          string
	IsSuppressed     bool
}

// rawObservationRow is the scan target for the joined query; the
// display fields are derived from it in Go.
type rawObservationRow struct {
	Importance       string     `gorm:"column:importance"`
	Category         string     `gorm:"column:category"`
	Observation      string     `gorm:"column:observation"`
	ServiceCode      string     `gorm:"column:service_code"`
	LineName         string     `gorm:"column:line_name"`
	Details          string     `gorm:"column:details"`
	IsSuppressed     *bool      `gorm:"column:is_suppressed"`
	JourneyStartTime *time.Time `gorm:"column:journey_start_time"`
	Direction        string     `gorm:"column:direction"`
	AtcoCode         string     `gorm:"column:atco_code"`
	NaptanCommonName *string    `gorm:"column:naptan_common_name"`
	TxcCommonName    string     `gorm:"column:txc_common_name"`
}

// ObservationQuery assembles the observation row query from named,
// composable steps. Each step contributes its joins and projections;
// Rows executes a single set-oriented query.
type ObservationQuery struct {
	db      *gorm.DB
	selects []string
	joins   []string
	where   string
	args    []interface{}
}

// NewObservationQuery starts an observation row query on the given
// connection.
func NewObservationQuery(db *gorm.DB) *ObservationQuery {
	return &ObservationQuery{db: db}
}

// ForReportRevision scopes the query to one report run over one
// revision, joining observations through their task results and the
// revision's TXC file attributes.
func (q *ObservationQuery) ForReportRevision(reportID, revisionID uint) *ObservationQuery {
	q.joins = append(q.joins,
		"JOIN dqs_task_results AS tr ON tr.id = obs.task_result_id",
		"JOIN txc_file_attributes AS txc ON txc.id = tr.txc_file_attributes_id",
	)
	q.selects = append(q.selects,
		"obs.details AS details",
		"obs.is_suppressed AS is_suppressed",
		"txc.service_code AS service_code",
	)
	q.where = "tr.report_id = ? AND txc.revision_id = ?"
	q.args = append(q.args, reportID, revisionID)
	return q
}

// WithCheck projects the check's observation name, importance and
// category.
func (q *ObservationQuery) WithCheck() *ObservationQuery {
	q.joins = append(q.joins, "JOIN dqs_checks AS chk ON chk.id = tr.check_id")
	q.selects = append(q.selects,
		"chk.observation AS observation",
		"chk.importance AS importance",
		"chk.category AS category",
	)
	return q
}

// WithJourney projects the linked vehicle journey's start time and
// direction. Observations without a journey keep empty fields.
func (q *ObservationQuery) WithJourney() *ObservationQuery {
	q.joins = append(q.joins, "LEFT JOIN vehicle_journeys AS vj ON vj.id = obs.vehicle_journey_id")
	q.selects = append(q.selects,
		"vj.start_time AS journey_start_time",
		"vj.direction AS direction",
	)
	return q
}

// WithStop projects the stop identity (atco code, NaPTAN common name
// with TXC fallback) and the line name of the service pattern the stop
// belongs to.
func (q *ObservationQuery) WithStop() *ObservationQuery {
	q.joins = append(q.joins,
		"LEFT JOIN service_pattern_stops AS sps ON sps.id = obs.service_pattern_stop_id",
		"LEFT JOIN stop_points AS sp ON sp.id = sps.naptan_stop_id",
		"LEFT JOIN service_patterns AS spat ON spat.id = sps.service_pattern_id",
	)
	q.selects = append(q.selects,
		"sps.atco_code AS atco_code",
		"sp.common_name AS naptan_common_name",
		"sps.txc_common_name AS txc_common_name",
		"spat.line_name AS line_name",
	)
	return q
}

// Rows executes the assembled query and derives the display fields.
func (q *ObservationQuery) Rows() ([]ObservationRow, error) {
	if q.where == "" {
		return nil, fmt.Errorf("observation query not scoped to a report/revision")
	}

	tx := q.db.Table("dqs_observation_results AS obs").
		Select(strings.Join(q.selects, ", "))
	for _, j := range q.joins {
		tx = tx.Joins(j)
	}
	tx = tx.Where(q.where, q.args...).Order("obs.id")

	var raw []rawObservationRow
	if err := tx.Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("query observation rows: %w", err)
	}

	rows := make([]ObservationRow, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, r.derive())
	}
	return rows, nil
}

func (r rawObservationRow) derive() ObservationRow {
	row := ObservationRow{
		Importance:  r.Importance,
		Category:    r.Category,
		Observation: r.Observation,
		ServiceCode: r.ServiceCode,
		LineName:    r.LineName,
		Details:     r.Details,
		Direction:   capitaliseFirst(r.Direction),
		StopName:    deriveStopName(r.AtcoCode, r.NaptanCommonName, r.TxcCommonName),
	}
	if r.JourneyStartTime != nil {
		row.JourneyStartTime = fmt.Sprintf("%02d:%02d", r.JourneyStartTime.Hour(), r.JourneyStartTime.Minute())
	}
	if r.IsSuppressed != nil {
		row.IsSuppressed = *r.IsSuppressed
	}
	return row
}

// capitaliseFirst upper-cases the first letter only ("outbound" ->
// "Outbound").
func capitaliseFirst(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// deriveStopName renders "<common name> (<atco code>)", preferring the
// NaPTAN common name and falling back to the TXC one.
func deriveStopName(atcoCode string, naptanName *string, txcName string) string {
	name := txcName
	if naptanName != nil && *naptanName != "" {
		name = *naptanName
	}
	if name == "" && atcoCode == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s)", name, atcoCode)
}
