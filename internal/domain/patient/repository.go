package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new patient and assigns its ID.
	Create(ctx context.Context, p *Patient) error

	// GetByID retrieves a patient by primary key. Returns ErrPatientNotFound
	// if no record exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Update replaces the mutable profile fields of an existing patient.
	// DiagnosisHistory and OwnerID are left untouched.
	Update(ctx context.Context, id uuid.UUID, cmd *UpdatePatientCommand) (*Patient, error)

	// Delete removes the patient and its embedded history permanently.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByOwner returns every patient owned by the given user, oldest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Patient, error)

	// AppendDiagnosis appends one entry to the patient's history atomically
	// with respect to the single patient row and returns the updated record.
	AppendDiagnosis(ctx context.Context, id uuid.UUID, entry DiagnosisEntry) (*Patient, error)
}
