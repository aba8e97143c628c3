package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurocohort/databank/pkg/common/models"
)

var ErrNotFound = errors.New("run not found")

const batchSize = 500

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Run{}, &DiagnosticRecord{})
}

// StartRun records a new run and returns it with its generated id.
func (r *Repository) StartRun(ctx context.Context, command, timepoint string, units int) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Timepoint: timepoint,
		Units:     units,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// SaveRun stores the final state of a run.
func (r *Repository) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status != StatusRunning && run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &run, result.Error
}

// SaveDiagnostics stores the diagnostics of one unit of a run.
func (r *Repository) SaveDiagnostics(ctx context.Context, runID, unit string, diags []models.Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]DiagnosticRecord, len(diags))
	for i, d := range diags {
		records[i] = DiagnosticRecord{
			RunID:     runID,
			Unit:      unit,
			Kind:      string(d.Kind),
			Severity:  string(d.Severity),
			Location:  d.Location,
			Message:   d.Message,
			Sample:    d.Sample,
			CreatedAt: now,
		}
		if d.Sample != "" {
			records[i].Attributes = map[string]interface{}{"sample_display": models.Truncate(d.Sample)}
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(records, batchSize).Error
}

// Filter narrows ListDiagnostics. Empty fields match everything.
type Filter struct {
	Unit     string
	Kind     models.DiagnosticKind
	Severity models.Severity
}

func (r *Repository) ListDiagnostics(ctx context.Context, runID string, filter Filter) ([]models.Diagnostic, error) {
	query := r.db.WithContext(ctx).Where("run_id = ?", runID)
	if filter.Unit != "" {
		query = query.Where("unit = ?", filter.Unit)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", string(filter.Kind))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}

	var records []DiagnosticRecord
	if err := query.Order("unit, location, id").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]models.Diagnostic, len(records))
	for i, rec := range records {
		out[i] = models.Diagnostic{
			Kind:     models.DiagnosticKind(rec.Kind),
			Severity: models.Severity(rec.Severity),
			Location: rec.Location,
			Message:  rec.Message,
			Sample:   rec.Sample,
		}
	}
	return out, nil
}

// CountByKind tallies the stored diagnostics of a run.
func (r *Repository) CountByKind(ctx context.Context, runID string) (map[models.DiagnosticKind]int, error) {
	var rows []struct {
		Kind  string
		Count int
	}
	err := r.db.WithContext(ctx).Model(&DiagnosticRecord{}).
		Select("kind, count(*) as count").
		Where("run_id = ?", runID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.DiagnosticKind]int, len(rows))
	for _, row := range rows {
		out[models.DiagnosticKind(row.Kind)] = row.Count
	}
	return out, nil
}
