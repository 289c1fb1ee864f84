package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/models"
	"gorm.io/gorm"
)

// ServiceLine identifies one (service code, line name) pair.
type ServiceLine struct {
	ServiceCode string `json:"service_code"`
	LineName    string `json:"line_name"`
}

// RequiresAttentionRecord is one service flagged for operator action.
type RequiresAttentionRecord struct {
	LicenceNumber string `json:"licence_number"`
	ServiceCode   string `json:"service_code"`
	LineNumber    string `json:"line_number"`
	Reason        string `json:"reason"`
}

// Attention reasons.
const (
	ReasonNotPublished = "not published"
	ReasonStale        = "stale"
	ReasonDataQuality  = "data quality"
	ReasonFares        = "fares"
)

// AttentionService computes the requires-attention classification for
// an organisation's published services.
type AttentionService struct {
	db *gorm.DB
}

func NewAttentionService(db *gorm.DB) *AttentionService {
	return &AttentionService{db: db}
}

// GetDQCriticalObservationServicesMap returns the (service code, line
// name) pairs of the given TXC files that carry data quality findings
// requiring attention. The critical observation path is always
// evaluated; the advisory and consumer feedback paths only under the
// feedback flag. Output pairs are deduplicated: a service qualifying
// for several reasons appears once.
//
// The work is a bounded number of set-oriented queries over the file
// id set, never a per-row loop.
func (s *AttentionService) GetDQCriticalObservationServicesMap(txcMap map[uint][]models.TXCFileLine, flags config.FeatureFlags) ([]ServiceLine, error) {
	if len(txcMap) == 0 {
		return nil, nil
	}

	fileIDs := make([]uint, 0, len(txcMap))
	for id := range txcMap {
		fileIDs = append(fileIDs, id)
	}

	flagged := make(map[ServiceLine]struct{})
	addFile := func(fileID uint) {
		for _, line := range txcMap[fileID] {
			flagged[ServiceLine{line.ServiceCode, line.LineName}] = struct{}{}
		}
	}

	criticalFiles, err := s.filesWithObservations(fileIDs, models.LevelCritical)
	if err != nil {
		return nil, fmt.Errorf("critical observation files: %w", err)
	}
	for _, id := range criticalFiles {
		addFile(id)
	}

	if flags.SpecificFeedback {
		advisoryFiles, err := s.filesWithObservations(fileIDs, models.LevelAdvisory)
		if err != nil {
			return nil, fmt.Errorf("advisory observation files: %w", err)
		}
		for _, id := range advisoryFiles {
			addFile(id)
		}

		feedbackCodes, err := s.serviceCodesWithFeedback(fileIDs)
		if err != nil {
			return nil, fmt.Errorf("feedback service codes: %w", err)
		}
		for fileID, lines := range txcMap {
			for _, line := range lines {
				if _, ok := feedbackCodes[line.ServiceCode]; ok {
					addFile(fileID)
					break
				}
			}
		}
	}

	out := make([]ServiceLine, 0, len(flagged))
	for pair := range flagged {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceCode != out[j].ServiceCode {
			return out[i].ServiceCode < out[j].ServiceCode
		}
		return out[i].LineName < out[j].LineName
	})
	return out, nil
}

// filesWithObservations returns the distinct file ids among fileIDs
// that have at least one non-suppressed observation from a check of
// the given importance.
func (s *AttentionService) filesWithObservations(fileIDs []uint, importance string) ([]uint, error) {
	var ids []uint
	err := s.db.Table("dqs_task_results AS tr").
		Select("DISTINCT tr.txc_file_attributes_id").
		Joins("JOIN dqs_checks AS chk ON chk.id = tr.check_id").
		Joins("JOIN dqs_observation_results AS obs ON obs.task_result_id = tr.id").
		Where("tr.txc_file_attributes_id IN ?", fileIDs).
		Where("chk.importance = ?", importance).
		Where("(obs.is_suppressed IS NULL OR obs.is_suppressed = ?)", false).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// serviceCodesWithFeedback returns the service codes carrying at least
// one non-suppressed consumer feedback row. Only feedback raised
// against services of the revisions the given files belong to counts;
// a same-coded service under another revision does not.
func (s *AttentionService) serviceCodesWithFeedback(fileIDs []uint) (map[string]struct{}, error) {
	var codes []string
	err := s.db.Table("consumer_feedback AS fb").
		Select("DISTINCT svc.service_code").
		Joins("JOIN services AS svc ON svc.id = fb.service_id").
		Where("fb.service_id IS NOT NULL").
		Where("svc.revision_id IN (?)", s.db.
			Table("txc_file_attributes").
			Select("revision_id").
			Where("id IN ?", fileIDs)).
		Where("(fb.is_suppressed IS NULL OR fb.is_suppressed = ?)", false).
		Scan(&codes).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out, nil
}

// FaresLineKey identifies one (national operator code, line name)
// combination in the fares catalogue.
type FaresLineKey struct {
	NOC      string
	LineName string
}

// FaresEntry is the catalogue entry selected for a fares line: the
// most recently superseding validity window and its validation state.
type FaresEntry struct {
	DatasetID            uint
	ValidFrom            *time.Time
	ValidTo              *time.Time
	ValidationErrorCount int
	LastUpdated          *time.Time
}

// GetFaresDatasetMap builds the (noc, line) -> catalogue entry map for
// an organisation. Multi-value catalogue columns are exploded on the
// fixed delimiter; per key the entry with the latest valid_from wins.
// Organisations not requiring a licence, or without catalogue rows,
// yield an empty map.
func (s *AttentionService) GetFaresDatasetMap(orgID uint) (map[FaresLineKey]FaresEntry, error) {
	var org models.Organisation
	if err := s.db.First(&org, orgID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return map[FaresLineKey]FaresEntry{}, nil
		}
		return nil, fmt.Errorf("load organisation %d: %w", orgID, err)
	}
	if org.LicenceRequired != nil && !*org.LicenceRequired {
		return map[FaresLineKey]FaresEntry{}, nil
	}

	var rows []models.FaresMetadata
	if err := s.db.Where("organisation_id = ?", orgID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load fares metadata: %w", err)
	}

	out := make(map[FaresLineKey]FaresEntry)
	for _, row := range rows {
		entry := FaresEntry{
			DatasetID:            row.DatasetID,
			ValidFrom:            row.ValidFrom,
			ValidTo:              row.ValidTo,
			ValidationErrorCount: row.ValidationErrorCount,
			LastUpdated:          row.LastUpdated,
		}
		for _, noc := range splitMultiValue(row.NationalOperatorCode) {
			for _, line := range splitMultiValue(row.LineName) {
				key := FaresLineKey{NOC: noc, LineName: line}
				existing, ok := out[key]
				if !ok || laterValidFrom(entry.ValidFrom, existing.ValidFrom) {
					out[key] = entry
				}
			}
		}
	}
	return out, nil
}

func splitMultiValue(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, models.MultiValueSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// laterValidFrom reports whether a supersedes b. A nil valid_from
// never supersedes a concrete one.
func laterValidFrom(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// FaresAttentionRecord carries the derived fares statuses for one
// published line.
type FaresAttentionRecord struct {
	ServiceCode       string `json:"service_code"`
	LineName          string `json:"line_name"`
	PublishedStatus   string `json:"published_status"`
	TimelinessStatus  string `json:"timeliness_status"`
	ComplianceStatus  string `json:"compliance_status"`
	RequiresAttention string `json:"requires_attention"`
}

// GetFaresAttentionRecords classifies every published (service, line)
// of the organisation against the fares catalogue.
func (s *AttentionService) GetFaresAttentionRecords(orgID uint, today time.Time) ([]FaresAttentionRecord, error) {
	txcMap, err := s.organisationTXCMap(orgID)
	if err != nil {
		return nil, err
	}
	faresMap, err := s.GetFaresDatasetMap(orgID)
	if err != nil {
		return nil, err
	}

	var out []FaresAttentionRecord
	seen := make(map[ServiceLine]struct{})
	for _, lines := range txcMap {
		for _, line := range lines {
			pair := ServiceLine{line.ServiceCode, line.LineName}
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}

			record := FaresAttentionRecord{ServiceCode: line.ServiceCode, LineName: line.LineName}
			entry, ok := faresMap[FaresLineKey{NOC: line.NationalOperatorCode, LineName: line.LineName}]
			if !ok {
				record.PublishedStatus = GetFaresPublishedStatus(nil)
				record.TimelinessStatus = StatusNotStale
				record.ComplianceStatus = StatusNonCompliant
			} else {
				datasetID := entry.DatasetID
				record.PublishedStatus = GetFaresPublishedStatus(&datasetID)
				lastUpdated := today
				if entry.LastUpdated != nil {
					lastUpdated = *entry.LastUpdated
				}
				incomplete, oneYear := EvaluateFaresStaleness(entry.ValidTo, lastUpdated, today)
				record.TimelinessStatus = GetFaresTimelinessStatus(incomplete, oneYear)
				record.ComplianceStatus = GetFaresComplianceStatus(entry.ValidationErrorCount)
			}
			record.RequiresAttention = GetFaresRequiresAttention(
				record.PublishedStatus, record.TimelinessStatus, record.ComplianceStatus)
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceCode != out[j].ServiceCode {
			return out[i].ServiceCode < out[j].ServiceCode
		}
		return out[i].LineName < out[j].LineName
	})
	return out, nil
}

// organisationTXCMap loads the organisation's published TXC files,
// expanded to one logical row per line, keyed by file id.
func (s *AttentionService) organisationTXCMap(orgID uint) (map[uint][]models.TXCFileLine, error) {
	var files []models.TXCFileAttributes
	err := s.db.
		Joins("JOIN dataset_revisions AS rev ON rev.id = txc_file_attributes.revision_id").
		Joins("JOIN datasets AS ds ON ds.id = rev.dataset_id").
		Where("ds.organisation_id = ? AND rev.is_published = ?", orgID, true).
		Order("txc_file_attributes.service_code, txc_file_attributes.revision_number DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("load txc files for organisation %d: %w", orgID, err)
	}
	return models.SplitLineNames(files), nil
}

// GetInScopeInSeasonServices returns the organisation's registered
// services excluding exemptions and seasonal services whose window
// does not include today.
func (s *AttentionService) GetInScopeInSeasonServices(orgID uint, today time.Time) ([]models.OTCService, error) {
	var services []models.OTCService
	if err := s.db.Where("organisation_id = ? AND is_exempted = ?", orgID, false).Find(&services).Error; err != nil {
		return nil, fmt.Errorf("load otc services: %w", err)
	}

	var seasonal []models.SeasonalService
	if err := s.db.Where("organisation_id = ?", orgID).Find(&seasonal).Error; err != nil {
		return nil, fmt.Errorf("load seasonal services: %w", err)
	}
	outOfSeason := make(map[string]struct{})
	for i := range seasonal {
		if !seasonal[i].InSeason(today) {
			outOfSeason[seasonal[i].RegistrationCode] = struct{}{}
		}
	}

	out := services[:0]
	for _, svc := range services {
		if _, ok := outOfSeason[svc.RegistrationNumber]; ok {
			continue
		}
		out = append(out, svc)
	}
	return out, nil
}

// GetTimetableRecordsRequireAttention compares the registered services
// against the published TXC files: a service with no live file, or a
// live file meeting a staleness condition, requires attention.
func (s *AttentionService) GetTimetableRecordsRequireAttention(orgID uint, today time.Time) ([]RequiresAttentionRecord, error) {
	otcServices, err := s.GetInScopeInSeasonServices(orgID, today)
	if err != nil {
		return nil, err
	}

	txcByCode, err := s.latestFileByServiceCode(orgID)
	if err != nil {
		return nil, err
	}

	var out []RequiresAttentionRecord
	for i := range otcServices {
		svc := &otcServices[i]
		file, ok := txcByCode[svc.ServiceCode()]
		switch {
		case !ok:
			out = append(out, attentionRecord(svc, ReasonNotPublished))
		case IsTimetableStale(svc, file, today):
			out = append(out, attentionRecord(svc, ReasonStale))
		}
	}
	return out, nil
}

func attentionRecord(svc *models.OTCService, reason string) RequiresAttentionRecord {
	return RequiresAttentionRecord{
		LicenceNumber: svc.LicenceNumber,
		ServiceCode:   svc.ServiceCode(),
		LineNumber:    svc.ServiceNumber,
		Reason:        reason,
	}
}

// latestFileByServiceCode picks, per service code, the most recently
// revised published TXC file of the organisation.
func (s *AttentionService) latestFileByServiceCode(orgID uint) (map[string]*models.TXCFileAttributes, error) {
	var files []models.TXCFileAttributes
	err := s.db.
		Joins("JOIN dataset_revisions AS rev ON rev.id = txc_file_attributes.revision_id").
		Joins("JOIN datasets AS ds ON ds.id = rev.dataset_id").
		Where("ds.organisation_id = ? AND rev.is_published = ?", orgID, true).
		Order("txc_file_attributes.service_code, txc_file_attributes.revision_number DESC, txc_file_attributes.id DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("load txc files: %w", err)
	}
	out := make(map[string]*models.TXCFileAttributes)
	for i := range files {
		f := &files[i]
		if _, ok := out[f.ServiceCode]; !ok {
			out[f.ServiceCode] = f
		}
	}
	return out, nil
}

// SRAResult carries the recomputed requires-attention counters for one
// organisation.
type SRAResult struct {
	TotalInscope int `json:"total_inscope"`
	TimetableSRA int `json:"timetable_sra"`
	FaresSRA     int `json:"fares_sra"`
	OverallSRA   int `json:"overall_sra"`
	Percentage   int `json:"requires_attention_percentage"`
}

// ComputeOrganisationSRA recomputes the organisation's counters from
// the timetable, data quality and fares contributions, deduplicating
// the union per (licence, service, line).
func (s *AttentionService) ComputeOrganisationSRA(orgID uint, flags config.FeatureFlags, today time.Time) (*SRAResult, error) {
	inScope, err := s.GetInScopeInSeasonServices(orgID, today)
	if err != nil {
		return nil, err
	}
	timetable, err := s.GetTimetableRecordsRequireAttention(orgID, today)
	if err != nil {
		return nil, err
	}

	overall := make(map[string]struct{})
	addKey := func(licence, serviceCode, line string) {
		overall[licence+"__"+serviceCode+"__"+line] = struct{}{}
	}
	for _, rec := range timetable {
		addKey(rec.LicenceNumber, rec.ServiceCode, rec.LineNumber)
	}

	if flags.DQSRequireAttention {
		txcMap, err := s.organisationTXCMap(orgID)
		if err != nil {
			return nil, err
		}
		dqPairs, err := s.GetDQCriticalObservationServicesMap(txcMap, flags)
		if err != nil {
			return nil, err
		}
		licenceByCode := make(map[string]string)
		for _, lines := range txcMap {
			for _, line := range lines {
				licenceByCode[line.ServiceCode] = line.LicenceNumber
			}
		}
		for _, pair := range dqPairs {
			addKey(licenceByCode[pair.ServiceCode], pair.ServiceCode, pair.LineName)
		}
	}

	faresSRA := 0
	if flags.FaresRequireAttention {
		faresRecords, err := s.GetFaresAttentionRecords(orgID, today)
		if err != nil {
			return nil, err
		}
		licence := func(code string) string {
			if idx := strings.Index(code, ":"); idx > 0 {
				return code[:idx]
			}
			return code
		}
		for _, rec := range faresRecords {
			if rec.RequiresAttention == AttentionYes {
				faresSRA++
				addKey(licence(rec.ServiceCode), rec.ServiceCode, rec.LineName)
			}
		}
	}

	result := &SRAResult{
		TotalInscope: len(inScope),
		TimetableSRA: len(timetable),
		FaresSRA:     faresSRA,
		OverallSRA:   len(overall),
	}
	result.Percentage = RoundPercent(result.OverallSRA, result.TotalInscope)
	return result, nil
}
