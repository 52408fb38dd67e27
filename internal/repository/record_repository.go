package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/oncoscan/internal/diagnosis"
)

// DiagnosticRecord is one persisted scan diagnosis. Records are append-only:
// nothing updates or deletes them after Insert. The derived fields
// (Diagnosis, Confidence, ConfidencePercent, RiskLevel) are always written
// together by the pipeline and stay mutually consistent.
type DiagnosticRecord struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	ClinicianID       string    `gorm:"column:clinician_id;index;size:64" json:"clinician_id"`
	PatientID         string    `gorm:"column:patient_id;size:64" json:"patient_id"`
	PatientName       string    `gorm:"column:patient_name;size:128" json:"patient_name"`
	Age               string    `gorm:"column:age;size:16" json:"age"`
	Sex               string    `gorm:"column:sex;size:16" json:"sex"`
	Symptoms          string    `gorm:"column:symptoms;type:text" json:"symptoms"`
	Diagnosis         string    `gorm:"column:diagnosis;size:32" json:"diagnosis"`
	Confidence        float64   `gorm:"column:confidence" json:"-"`
	ConfidencePercent string    `gorm:"column:confidence_percent;size:16" json:"confidence_percent"`
	RiskLevel         string    `gorm:"column:risk_level;size:16" json:"risk_level"`
	ScanTimestamp     time.Time `gorm:"column:scan_timestamp;index" json:"scan_timestamp"`
}

// TableName overrides the default table name.
func (DiagnosticRecord) TableName() string {
	return "diagnostic_records"
}

// MetricsAggregation holds store-side aggregates over all records.
type MetricsAggregation struct {
	TotalScans        int64   `gorm:"column:total_scans"`
	MalignantCount    int64   `gorm:"column:malignant_count"`
	HighRiskCount     int64   `gorm:"column:high_risk_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
}

// RecordRepository provides persistence for diagnostic records.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new repository instance.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *RecordRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DiagnosticRecord{})
}

// Insert persists a record and assigns its identifier. The id is set here,
// exactly once, and never changes afterwards.
func (r *RecordRepository) Insert(ctx context.Context, rec *DiagnosticRecord) (string, error) {
	rec.ID = uuid.NewString()
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// FindByClinician returns every record owned by the clinician, in whatever
// order the store yields them. Ordering is the caller's concern.
func (r *RecordRepository) FindByClinician(ctx context.Context, clinicianID string) ([]*DiagnosticRecord, error) {
	var recs []*DiagnosticRecord
	if err := r.db.WithContext(ctx).Find(&recs, "clinician_id = ?", clinicianID).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// FindByIDAndClinician retrieves a single record scoped to its owner.
func (r *RecordRepository) FindByIDAndClinician(ctx context.Context, id, clinicianID string) (*DiagnosticRecord, error) {
	var rec DiagnosticRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ? AND clinician_id = ?", id, clinicianID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// AggregateMetrics computes record counts and the average raw confidence
// across all clinicians.
func (r *RecordRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&DiagnosticRecord{}).
		Select(
			"COUNT(*) AS total_scans, "+
				"COALESCE(SUM(CASE WHEN diagnosis = ? THEN 1 ELSE 0 END), 0) AS malignant_count, "+
				"COALESCE(SUM(CASE WHEN risk_level = ? THEN 1 ELSE 0 END), 0) AS high_risk_count, "+
				"COALESCE(AVG(confidence), 0) AS average_confidence",
			string(diagnosis.Malignant),
			string(diagnosis.RiskHigh),
		).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
