package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Organisation represents a publishing operator, with the cached
// "services requiring attention" counters recomputed by the scheduler.
type Organisation struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	ShortName       string         `gorm:"size:255" json:"short_name"`
	LicenceRequired *bool          `json:"licence_required"` // nil means undetermined
	TotalInscope    int            `gorm:"default:0" json:"total_inscope"`
	TimetableSRA    int            `gorm:"default:0" json:"timetable_sra"`
	FaresSRA        int            `gorm:"default:0" json:"fares_sra"`
	OverallSRA      int            `gorm:"default:0" json:"overall_sra"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Dataset represents one published data feed belonging to an organisation.
type Dataset struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganisationID uint      `gorm:"index;not null" json:"organisation_id"`
	DatasetType    string    `gorm:"size:20;not null" json:"dataset_type"` // timetable, fares
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DatasetRevision is one uploaded version of a dataset.
type DatasetRevision struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	DatasetID   uint       `gorm:"index;not null" json:"dataset_id"`
	Dataset     *Dataset   `gorm:"foreignKey:DatasetID" json:"dataset,omitempty"`
	Name        string     `gorm:"size:255" json:"name"`
	IsPublished bool       `gorm:"default:false" json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LineNameSeparator joins multiple line names inside a single
// TXCFileAttributes row. Aggregation always works on split rows.
const LineNameSeparator = ","

// TXCFileAttributes holds the metadata extracted from one published
// TransXChange file. It is the join key that ties data quality
// observations back to human-meaningful services and lines.
type TXCFileAttributes struct {
	ID                       uint             `gorm:"primaryKey" json:"id"`
	RevisionID               uint             `gorm:"index;not null" json:"revision_id"`
	Revision                 *DatasetRevision `gorm:"foreignKey:RevisionID" json:"revision,omitempty"`
	ServiceCode              string           `gorm:"size:100;index" json:"service_code"`
	LineNames                string           `gorm:"size:255" json:"line_names"` // separator-joined
	LicenceNumber            string           `gorm:"size:56" json:"licence_number"`
	NationalOperatorCode     string           `gorm:"size:20" json:"national_operator_code"`
	Filename                 string           `gorm:"size:512" json:"filename"`
	RevisionNumber           int              `json:"revision_number"`
	OperatingPeriodStartDate *time.Time       `json:"operating_period_start_date"`
	OperatingPeriodEndDate   *time.Time       `json:"operating_period_end_date"`
	ModificationDatetime     *time.Time       `json:"modification_datetime"`
	CreatedAt                time.Time        `json:"created_at"`
}

// LineNameList splits the stored line names into individual lines.
func (t *TXCFileAttributes) LineNameList() []string {
	if t.LineNames == "" {
		return nil
	}
	parts := strings.Split(t.LineNames, LineNameSeparator)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// TXCFileLine is one logical (file, line) row: a file registered for
// multiple lines is expanded into one of these per line name.
type TXCFileLine struct {
	FileID               uint
	ServiceCode          string
	LineName             string
	LicenceNumber        string
	NationalOperatorCode string
}

// SplitLineNames expands a set of TXCFileAttributes into per-line rows,
// keyed by file id. Aggregation consumes these split rows, never the
// packed column.
func SplitLineNames(files []TXCFileAttributes) map[uint][]TXCFileLine {
	out := make(map[uint][]TXCFileLine, len(files))
	for _, f := range files {
		for _, line := range f.LineNameList() {
			out[f.ID] = append(out[f.ID], TXCFileLine{
				FileID:               f.ID,
				ServiceCode:          f.ServiceCode,
				LineName:             line,
				LicenceNumber:        f.LicenceNumber,
				NationalOperatorCode: f.NationalOperatorCode,
			})
		}
	}
	return out
}

// Service is a transmodel service derived from a published revision.
type Service struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	RevisionID          uint       `gorm:"index;not null" json:"revision_id"`
	ServiceCode         string     `gorm:"size:100;index" json:"service_code"`
	Name                string     `gorm:"size:255" json:"name"`
	TXCFileAttributesID *uint      `gorm:"index" json:"txc_file_attributes_id"`
	StartDate           *time.Time `json:"start_date"`
	EndDate             *time.Time `json:"end_date"`
}

// ServicePattern is a distinct stop sequence within a service.
type ServicePattern struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	RevisionID uint   `gorm:"index;not null" json:"revision_id"`
	ServiceID  *uint  `gorm:"index" json:"service_id"`
	LineName   string `gorm:"size:255" json:"line_name"`
}

// VehicleJourney is a single scheduled journey over a service pattern.
type VehicleJourney struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ServicePatternID *uint      `gorm:"index" json:"service_pattern_id"`
	StartTime        *time.Time `json:"start_time"`
	Direction        string     `gorm:"size:64" json:"direction"`
	JourneyCode      string     `gorm:"size:64" json:"journey_code"`
	LineRef          string     `gorm:"size:255" json:"line_ref"`
}

// StopPoint is a NaPTAN stop reference row.
type StopPoint struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	AtcoCode   string `gorm:"size:20;uniqueIndex" json:"atco_code"`
	CommonName string `gorm:"size:255" json:"common_name"`
}

// ServicePatternStop is one stop occurrence within a service pattern.
// NaptanStopID is nil when the stop could not be matched to NaPTAN; the
// TXC-provided common name is kept as a fallback for display.
type ServicePatternStop struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ServicePatternID uint       `gorm:"index;not null" json:"service_pattern_id"`
	AtcoCode         string     `gorm:"size:20" json:"atco_code"`
	NaptanStopID     *uint      `gorm:"index" json:"naptan_stop_id"`
	NaptanStop       *StopPoint `gorm:"foreignKey:NaptanStopID" json:"naptan_stop,omitempty"`
	TxcCommonName    string     `gorm:"size:255" json:"txc_common_name"`
	SequenceNumber   int        `json:"sequence_number"`
}

// SeasonalService marks a registered service as operating only within a
// date window. Services outside their window are out of scope for the
// requires-attention denominator.
type SeasonalService struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OrganisationID   uint      `gorm:"index;not null" json:"organisation_id"`
	RegistrationCode string    `gorm:"size:100;index" json:"registration_code"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
}

// InSeason reports whether the service window includes the given day.
// Comparisons use wall-clock days, so a non-UTC today lands on the
// same boundary days as the rest of the date logic.
func (s *SeasonalService) InSeason(today time.Time) bool {
	day := wallClockDay(today)
	return !day.Before(wallClockDay(s.Start)) && !day.After(wallClockDay(s.End))
}

// wallClockDay reinterprets the wall-clock date in UTC, so same-day
// values carried in different locations compare equal. time.Truncate
// would round on the absolute epoch instead and shift boundary days.
func wallClockDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ConsumerFeedback is feedback submitted by a data consumer against a
// published service. A non-suppressed row contributes to the
// requires-attention classification independently of DQS observations.
type ConsumerFeedback struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganisationID uint      `gorm:"index;not null" json:"organisation_id"`
	DatasetID      *uint     `gorm:"index" json:"dataset_id"`
	RevisionID     *uint     `gorm:"index" json:"revision_id"`
	ServiceID      *uint     `gorm:"index" json:"service_id"`
	Feedback       string    `gorm:"type:text" json:"feedback"`
	IsSuppressed   *bool     `json:"is_suppressed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MultiValueSeparator delimits multi-value fares catalogue fields
// (line names, line ids, NOCs packed into a single column).
const MultiValueSeparator = ":::"

// FaresMetadata is one row of the fares catalogue describing the
// validity window and validation state of a published fares dataset.
// LineName, LineID and NationalOperatorCode are multi-value fields.
type FaresMetadata struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	DatasetID            uint       `gorm:"index;not null" json:"dataset_id"`
	OrganisationID       uint       `gorm:"index;not null" json:"organisation_id"`
	NationalOperatorCode string     `gorm:"size:1024" json:"national_operator_code"`
	LineID               string     `gorm:"size:1024" json:"line_id"`
	LineName             string     `gorm:"size:1024" json:"line_name"`
	ValidFrom            *time.Time `json:"valid_from"`
	ValidTo              *time.Time `json:"valid_to"`
	ValidationErrorCount int        `gorm:"default:0" json:"validation_error_count"`
	LastUpdated          *time.Time `json:"last_updated"`
	CreatedAt            time.Time  `json:"created_at"`
}

// OTCService is a service registration from the traffic commissioner
// registry, used to decide which services ought to be published.
type OTCService struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	OrganisationID     uint       `gorm:"index;not null" json:"organisation_id"`
	LicenceNumber      string     `gorm:"size:56" json:"licence_number"`
	RegistrationNumber string     `gorm:"size:100;index" json:"registration_number"` // PD0000001/1
	ServiceNumber      string     `gorm:"size:255" json:"service_number"`
	EffectiveDate      *time.Time `json:"effective_date"`
	IsExempted         bool       `gorm:"default:false" json:"is_exempted"`
}

// ServiceCode returns the registration number in BODS service-code form
// (slashes replaced with colons).
func (s *OTCService) ServiceCode() string {
	return strings.ReplaceAll(s.RegistrationNumber, "/", ":")
}

// TableName overrides
func (Organisation) TableName() string       { return "organisations" }
func (Dataset) TableName() string            { return "datasets" }
func (DatasetRevision) TableName() string    { return "dataset_revisions" }
func (TXCFileAttributes) TableName() string  { return "txc_file_attributes" }
func (Service) TableName() string            { return "services" }
func (ServicePattern) TableName() string     { return "service_patterns" }
func (VehicleJourney) TableName() string     { return "vehicle_journeys" }
func (StopPoint) TableName() string          { return "stop_points" }
func (ServicePatternStop) TableName() string { return "service_pattern_stops" }
func (SeasonalService) TableName() string    { return "seasonal_services" }
func (ConsumerFeedback) TableName() string   { return "consumer_feedback" }
func (FaresMetadata) TableName() string      { return "fares_metadata" }
func (OTCService) TableName() string         { return "otc_services" }
