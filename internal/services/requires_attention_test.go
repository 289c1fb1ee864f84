package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/internal/models"
	"gorm.io/gorm"
)

// attentionFixture wires one organisation with a published revision
// and the two check rows the aggregator queries against.
type attentionFixture struct {
	db         *gorm.DB
	orgID      uint
	revisionID uint
	critCheck  models.Check
	advCheck   models.Check
}

func newAttentionFixture(t *testing.T) *attentionFixture {
	t.Helper()
	db := newTestDB(t)

	licenceRequired := true
	org := models.Organisation{Name: "Testshire Buses", LicenceRequired: &licenceRequired}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("create organisation: %v", err)
	}
	dataset := models.Dataset{OrganisationID: org.ID, DatasetType: "timetable"}
	if err := db.Create(&dataset).Error; err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	revision := models.DatasetRevision{DatasetID: dataset.ID, IsPublished: true}
	if err := db.Create(&revision).Error; err != nil {
		t.Fatalf("create revision: %v", err)
	}

	critCheck := models.Check{Observation: "Incorrect NOC", Importance: models.LevelCritical, Category: models.CategoryDataSet}
	advCheck := models.Check{Observation: "Incorrect stop type", Importance: models.LevelAdvisory, Category: models.CategoryStop}
	if err := db.Create(&critCheck).Error; err != nil {
		t.Fatalf("create check: %v", err)
	}
	if err := db.Create(&advCheck).Error; err != nil {
		t.Fatalf("create check: %v", err)
	}

	return &attentionFixture{db: db, orgID: org.ID, revisionID: revision.ID, critCheck: critCheck, advCheck: advCheck}
}

func (f *attentionFixture) addFile(t *testing.T, serviceCode, lineNames string) models.TXCFileAttributes {
	t.Helper()
	file := models.TXCFileAttributes{RevisionID: f.revisionID, ServiceCode: serviceCode, LineNames: lineNames, LicenceNumber: "PD0000000"}
	if err := f.db.Create(&file).Error; err != nil {
		t.Fatalf("create txc file: %v", err)
	}
	return file
}

func (f *attentionFixture) addObservation(t *testing.T, check models.Check, fileID uint, suppressed *bool) {
	t.Helper()
	task := models.TaskResult{Status: models.TaskStatusCompleted, CheckID: &check.ID, TXCFileAttributesID: &fileID}
	if err := f.db.Create(&task).Error; err != nil {
		t.Fatalf("create task result: %v", err)
	}
	obs := models.ObservationResult{Details: "finding", TaskResultID: task.ID, IsSuppressed: suppressed}
	if err := f.db.Create(&obs).Error; err != nil {
		t.Fatalf("create observation: %v", err)
	}
}

func (f *attentionFixture) addFeedback(t *testing.T, serviceCode string, suppressed *bool) {
	t.Helper()
	service := models.Service{RevisionID: f.revisionID, ServiceCode: serviceCode}
	if err := f.db.Create(&service).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}
	fb := models.ConsumerFeedback{OrganisationID: f.orgID, RevisionID: &f.revisionID, ServiceID: &service.ID, Feedback: "feedback", IsSuppressed: suppressed}
	if err := f.db.Create(&fb).Error; err != nil {
		t.Fatalf("create feedback: %v", err)
	}
}

// Eleven services: five with critical observations, five with advisory
// observations, one with consumer feedback. With the feedback flag off
// only the critical five are flagged; with it on, all eleven.
func TestGetDQCriticalObservationServicesMap(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	var files []models.TXCFileAttributes
	for i := 0; i < 11; i++ {
		files = append(files, f.addFile(t, fmt.Sprintf("PD0000000:%d", i), fmt.Sprintf("L%d", i)))
	}
	for i := 0; i < 5; i++ {
		f.addObservation(t, f.critCheck, files[i].ID, nil)
	}
	for i := 5; i < 10; i++ {
		f.addObservation(t, f.advCheck, files[i].ID, nil)
	}
	f.addFeedback(t, "PD0000000:10", nil)

	txcMap := models.SplitLineNames(files)

	flagsOff := config.FeatureFlags{NewDataQualityService: true, DQSRequireAttention: true}
	got, err := svc.GetDQCriticalObservationServicesMap(txcMap, flagsOff)
	if err != nil {
		t.Fatalf("aggregate (flags off): %v", err)
	}
	if len(got) != 5 {
		t.Errorf("flagged services = %d, want 5 with feedback flag off", len(got))
	}

	flagsOn := flagsOff
	flagsOn.SpecificFeedback = true
	got, err = svc.GetDQCriticalObservationServicesMap(txcMap, flagsOn)
	if err != nil {
		t.Fatalf("aggregate (flags on): %v", err)
	}
	if len(got) != 11 {
		t.Errorf("flagged services = %d, want 11 with feedback flag on", len(got))
	}
}

func TestGetDQCriticalObservationServicesMap_Dedup(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	// One service qualifying through both paths appears once.
	file := f.addFile(t, "PD0000000:0", "L0")
	f.addObservation(t, f.critCheck, file.ID, nil)
	f.addObservation(t, f.advCheck, file.ID, nil)

	flags := config.FeatureFlags{NewDataQualityService: true, SpecificFeedback: true}
	got, err := svc.GetDQCriticalObservationServicesMap(models.SplitLineNames([]models.TXCFileAttributes{file}), flags)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("flagged services = %d, want 1", len(got))
	}
	want := ServiceLine{ServiceCode: "PD0000000:0", LineName: "L0"}
	if got[0] != want {
		t.Errorf("flagged service = %+v, want %+v", got[0], want)
	}
}

func TestGetDQCriticalObservationServicesMap_SuppressedOnly(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	file := f.addFile(t, "PD0000000:0", "L0")
	f.addObservation(t, f.critCheck, file.ID, boolPtr(true))

	flags := config.FeatureFlags{NewDataQualityService: true, SpecificFeedback: true}
	got, err := svc.GetDQCriticalObservationServicesMap(models.SplitLineNames([]models.TXCFileAttributes{file}), flags)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("flagged services = %d, want 0 (all observations suppressed)", len(got))
	}
}

func TestGetDQCriticalObservationServicesMap_SuppressedFeedback(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	file := f.addFile(t, "PD0000000:0", "L0")
	f.addFeedback(t, "PD0000000:0", boolPtr(true))

	flags := config.FeatureFlags{NewDataQualityService: true, SpecificFeedback: true}
	got, err := svc.GetDQCriticalObservationServicesMap(models.SplitLineNames([]models.TXCFileAttributes{file}), flags)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("flagged services = %d, want 0 (feedback suppressed)", len(got))
	}
}

// Feedback against a same-coded service under another organisation's
// revision stays with that organisation.
func TestGetDQCriticalObservationServicesMap_FeedbackOtherRevision(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	file := f.addFile(t, "PD0000000:0", "L0")

	otherOrg := models.Organisation{Name: "Otherton Coaches"}
	if err := f.db.Create(&otherOrg).Error; err != nil {
		t.Fatalf("create organisation: %v", err)
	}
	otherDataset := models.Dataset{OrganisationID: otherOrg.ID, DatasetType: "timetable"}
	if err := f.db.Create(&otherDataset).Error; err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	otherRevision := models.DatasetRevision{DatasetID: otherDataset.ID, IsPublished: true}
	if err := f.db.Create(&otherRevision).Error; err != nil {
		t.Fatalf("create revision: %v", err)
	}
	otherService := models.Service{RevisionID: otherRevision.ID, ServiceCode: "PD0000000:0"}
	if err := f.db.Create(&otherService).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}
	fb := models.ConsumerFeedback{OrganisationID: otherOrg.ID, RevisionID: &otherRevision.ID, ServiceID: &otherService.ID, Feedback: "feedback"}
	if err := f.db.Create(&fb).Error; err != nil {
		t.Fatalf("create feedback: %v", err)
	}

	flags := config.FeatureFlags{NewDataQualityService: true, SpecificFeedback: true}
	got, err := svc.GetDQCriticalObservationServicesMap(models.SplitLineNames([]models.TXCFileAttributes{file}), flags)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("flagged services = %v, want none (feedback belongs to another revision)", got)
	}
}

func TestGetFaresDatasetMap(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []models.FaresMetadata{
		{
			DatasetID:            101,
			OrganisationID:       f.orgID,
			NationalOperatorCode: "NOC1:::NOC2",
			LineName:             "L1:::L2",
			ValidFrom:            &early,
		},
		{
			DatasetID:            102,
			OrganisationID:       f.orgID,
			NationalOperatorCode: "NOC1",
			LineName:             "L1",
			ValidFrom:            &late,
		},
	}
	for i := range rows {
		if err := f.db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create fares metadata: %v", err)
		}
	}

	got, err := svc.GetFaresDatasetMap(f.orgID)
	if err != nil {
		t.Fatalf("fares map: %v", err)
	}

	// The multi-value row explodes into the full cross product.
	if len(got) != 4 {
		t.Fatalf("map size = %d, want 4", len(got))
	}
	for _, key := range []FaresLineKey{
		{"NOC1", "L2"}, {"NOC2", "L1"}, {"NOC2", "L2"},
	} {
		if entry, ok := got[key]; !ok || entry.DatasetID != 101 {
			t.Errorf("key %+v -> %+v, want dataset 101", key, entry)
		}
	}
	// The later valid_from supersedes for the overlapping key.
	if entry := got[FaresLineKey{"NOC1", "L1"}]; entry.DatasetID != 102 {
		t.Errorf("key NOC1/L1 -> dataset %d, want 102", entry.DatasetID)
	}
}

func TestGetFaresDatasetMap_NoLicenceRequired(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)

	if err := f.db.Model(&models.Organisation{}).Where("id = ?", f.orgID).
		Update("licence_required", false).Error; err != nil {
		t.Fatalf("update organisation: %v", err)
	}
	row := models.FaresMetadata{DatasetID: 101, OrganisationID: f.orgID, NationalOperatorCode: "NOC1", LineName: "L1"}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("create fares metadata: %v", err)
	}

	got, err := svc.GetFaresDatasetMap(f.orgID)
	if err != nil {
		t.Fatalf("fares map: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("map size = %d, want 0 for licence-exempt organisation", len(got))
	}
}

func TestGetFaresAttentionRecords(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	covered := models.TXCFileAttributes{RevisionID: f.revisionID, ServiceCode: "PD0000000:1", LineNames: "L1", NationalOperatorCode: "NOC1"}
	uncovered := models.TXCFileAttributes{RevisionID: f.revisionID, ServiceCode: "PD0000000:2", LineNames: "L2", NationalOperatorCode: "NOC1"}
	for _, file := range []*models.TXCFileAttributes{&covered, &uncovered} {
		if err := f.db.Create(file).Error; err != nil {
			t.Fatalf("create txc file: %v", err)
		}
	}

	validTo := today.AddDate(1, 0, 0)
	lastUpdated := today.AddDate(0, 0, -30)
	meta := models.FaresMetadata{
		DatasetID:            201,
		OrganisationID:       f.orgID,
		NationalOperatorCode: "NOC1",
		LineName:             "L1",
		ValidTo:              &validTo,
		LastUpdated:          &lastUpdated,
	}
	if err := f.db.Create(&meta).Error; err != nil {
		t.Fatalf("create fares metadata: %v", err)
	}

	records, err := svc.GetFaresAttentionRecords(f.orgID, today)
	if err != nil {
		t.Fatalf("fares attention: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	byLine := make(map[string]FaresAttentionRecord)
	for _, rec := range records {
		byLine[rec.LineName] = rec
	}

	healthy := byLine["L1"]
	if healthy.PublishedStatus != StatusPublished || healthy.TimelinessStatus != StatusNotStale ||
		healthy.ComplianceStatus != StatusCompliant || healthy.RequiresAttention != AttentionNo {
		t.Errorf("covered line = %+v", healthy)
	}

	missing := byLine["L2"]
	if missing.PublishedStatus != StatusUnpublished || missing.RequiresAttention != AttentionYes {
		t.Errorf("uncovered line = %+v", missing)
	}
}

func TestGetInScopeInSeasonServices(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	otc := []models.OTCService{
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/1", ServiceNumber: "1"},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/2", ServiceNumber: "2", IsExempted: true},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/3", ServiceNumber: "3"},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/4", ServiceNumber: "4"},
	}
	for i := range otc {
		if err := f.db.Create(&otc[i]).Error; err != nil {
			t.Fatalf("create otc service: %v", err)
		}
	}

	seasonal := []models.SeasonalService{
		// Out of season today.
		{OrganisationID: f.orgID, RegistrationCode: "PD0000000/3",
			Start: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		// In season today.
		{OrganisationID: f.orgID, RegistrationCode: "PD0000000/4",
			Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)},
	}
	for i := range seasonal {
		if err := f.db.Create(&seasonal[i]).Error; err != nil {
			t.Fatalf("create seasonal service: %v", err)
		}
	}

	got, err := svc.GetInScopeInSeasonServices(f.orgID, today)
	if err != nil {
		t.Fatalf("in scope services: %v", err)
	}

	codes := make(map[string]bool)
	for i := range got {
		codes[got[i].RegistrationNumber] = true
	}
	if len(got) != 2 || !codes["PD0000000/1"] || !codes["PD0000000/4"] {
		t.Errorf("in scope = %v, want PD0000000/1 and PD0000000/4", codes)
	}
}

func TestGetTimetableRecordsRequireAttention(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	effective := today.AddDate(-2, 0, 0)
	otc := []models.OTCService{
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/1", ServiceNumber: "1", EffectiveDate: &effective},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/2", ServiceNumber: "2", EffectiveDate: &effective},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/3", ServiceNumber: "3", EffectiveDate: &effective},
	}
	for i := range otc {
		if err := f.db.Create(&otc[i]).Error; err != nil {
			t.Fatalf("create otc service: %v", err)
		}
	}

	// Service 1 has no published file at all. Service 2's file has not
	// been touched for over a year. Service 3 is fresh.
	staleModified := today.AddDate(0, 0, -400)
	freshModified := today.AddDate(0, 0, -10)
	files := []models.TXCFileAttributes{
		{RevisionID: f.revisionID, ServiceCode: "PD0000000:2", LineNames: "2", ModificationDatetime: &staleModified},
		{RevisionID: f.revisionID, ServiceCode: "PD0000000:3", LineNames: "3", ModificationDatetime: &freshModified},
	}
	for i := range files {
		if err := f.db.Create(&files[i]).Error; err != nil {
			t.Fatalf("create txc file: %v", err)
		}
	}

	got, err := svc.GetTimetableRecordsRequireAttention(f.orgID, today)
	if err != nil {
		t.Fatalf("timetable attention: %v", err)
	}

	reasons := make(map[string]string)
	for _, rec := range got {
		reasons[rec.ServiceCode] = rec.Reason
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2 (%v)", len(got), reasons)
	}
	if reasons["PD0000000:1"] != ReasonNotPublished {
		t.Errorf("service 1 reason = %q, want %q", reasons["PD0000000:1"], ReasonNotPublished)
	}
	if reasons["PD0000000:2"] != ReasonStale {
		t.Errorf("service 2 reason = %q, want %q", reasons["PD0000000:2"], ReasonStale)
	}
}

func TestComputeOrganisationSRA(t *testing.T) {
	f := newAttentionFixture(t)
	svc := NewAttentionService(f.db)
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	effective := today.AddDate(-2, 0, 0)
	otc := []models.OTCService{
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/1", ServiceNumber: "1", EffectiveDate: &effective},
		{OrganisationID: f.orgID, LicenceNumber: "PD0000000", RegistrationNumber: "PD0000000/2", ServiceNumber: "2", EffectiveDate: &effective},
	}
	for i := range otc {
		if err := f.db.Create(&otc[i]).Error; err != nil {
			t.Fatalf("create otc service: %v", err)
		}
	}

	// Only service 2 is published, and its file is fresh.
	freshModified := today.AddDate(0, 0, -10)
	file := models.TXCFileAttributes{RevisionID: f.revisionID, ServiceCode: "PD0000000:2", LineNames: "2", ModificationDatetime: &freshModified}
	if err := f.db.Create(&file).Error; err != nil {
		t.Fatalf("create txc file: %v", err)
	}

	flags := config.FeatureFlags{NewDataQualityService: true}
	result, err := svc.ComputeOrganisationSRA(f.orgID, flags, today)
	if err != nil {
		t.Fatalf("compute sra: %v", err)
	}

	if result.TotalInscope != 2 {
		t.Errorf("TotalInscope = %d, want 2", result.TotalInscope)
	}
	if result.TimetableSRA != 1 {
		t.Errorf("TimetableSRA = %d, want 1", result.TimetableSRA)
	}
	if result.OverallSRA != 1 {
		t.Errorf("OverallSRA = %d, want 1", result.OverallSRA)
	}
	if result.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", result.Percentage)
	}
}
