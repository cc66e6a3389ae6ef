package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dermatrack/api/internal/domain/patient"
)

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

var _ patient.Repository = (*PatientRepository)(nil)

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("inserting patient: %w", err)
	}
	return nil
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var p patient.Patient
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, patient.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching patient: %w", err)
	}
	return &p, nil
}

func (r *PatientRepository) Update(ctx context.Context, id uuid.UUID, cmd *patient.UpdatePatientCommand) (*patient.Patient, error) {
	res := r.db.WithContext(ctx).
		Model(&patient.Patient{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":        cmd.Name,
			"age":         cmd.Age,
			"gender":      cmd.Gender,
			"image":       cmd.Image,
			"extra_notes": cmd.ExtraNotes,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("updating patient: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, patient.ErrPatientNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *PatientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&patient.Patient{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting patient: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return patient.ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*patient.Patient, error) {
	var patients []*patient.Patient
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&patients).Error
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	return patients, nil
}

// AppendDiagnosis grows the history under a row lock so concurrent diagnose
// calls against the same patient cannot lose entries.
func (r *PatientRepository) AppendDiagnosis(ctx context.Context, id uuid.UUID, entry patient.DiagnosisEntry) (*patient.Patient, error) {
	var p patient.Patient
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&p, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return patient.ErrPatientNotFound
		}
		if err != nil {
			return fmt.Errorf("fetching patient for append: %w", err)
		}

		p.DiagnosisHistory = append(p.DiagnosisHistory, entry)
		return tx.Model(&p).Update("diagnosis_history", p.DiagnosisHistory).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
