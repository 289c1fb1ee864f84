package services

import (
	"fmt"
	"io"
	"strings"

	"github.com/openbusdata/busdq/backend/internal/config"
)

// observationCSVHeader is the fixed column order of the observation
// export.
var observationCSVHeader = []string{"Importance", "Line", "Observation", "Detail"}

// WriteObservationsCSV streams the observation detail export for a
// report. Every field is quoted, including ones that need no quoting,
// and records are CRLF terminated. One row is written per underlying
// observation: the export is deliberately not deduplicated, a finding
// repeated across journeys appears once per journey.
func (s *SummaryService) WriteObservationsCSV(w io.Writer, reportID, revisionID *uint, flags config.FeatureFlags) error {
	if err := writeCSVRecord(w, observationCSVHeader); err != nil {
		return err
	}
	if reportID == nil || revisionID == nil || !flags.NewDataQualityService {
		return nil
	}

	query := NewObservationQuery(s.db).
		ForReportRevision(*reportID, *revisionID).
		WithCheck().
		WithJourney().
		WithStop()
	rows, err := query.Rows()
	if err != nil {
		return fmt.Errorf("load observations for export: %w", err)
	}

	for _, row := range rows {
		record := []string{row.Importance, row.LineName, row.Observation, row.Details}
		if err := writeCSVRecord(w, record); err != nil {
			return err
		}
	}
	return nil
}

// writeCSVRecord renders one record with every field quoted, embedded
// quotes doubled, and a CRLF terminator.
func writeCSVRecord(w io.Writer, fields []string) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}
