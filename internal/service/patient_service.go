package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dermatrack/api/internal/domain/patient"
	"github.com/dermatrack/api/internal/storage"
)

// Classifier submits an image to the external prediction service and returns
// the label it assigns.
type Classifier interface {
	Classify(ctx context.Context, filename string, image io.Reader) (string, error)
}

type PatientService struct {
	repo        patient.Repository
	store       storage.ImageStore
	classifier  Classifier
	auditSvc    *AuditService
	log         *zap.Logger
	placeholder string
}

func NewPatientService(repo patient.Repository, store storage.ImageStore, classifier Classifier, auditSvc *AuditService, log *zap.Logger, placeholderImage string) *PatientService {
	return &PatientService{
		repo:        repo,
		store:       store,
		classifier:  classifier,
		auditSvc:    auditSvc,
		log:         log,
		placeholder: placeholderImage,
	}
}

func (s *PatientService) Create(ctx context.Context, cmd *patient.CreatePatientCommand, ip string) (*patient.Patient, error) {
	if err := validatePatientFields(cmd.Name, cmd.Age, cmd.Gender); err != nil {
		return nil, err
	}

	image := strings.TrimSpace(cmd.Image)
	if image == "" {
		image = s.placeholder
	}

	p := &patient.Patient{
		Name:             strings.TrimSpace(cmd.Name),
		Age:              cmd.Age,
		Gender:           strings.TrimSpace(cmd.Gender),
		Image:            image,
		ExtraNotes:       cmd.ExtraNotes,
		DiagnosisHistory: []patient.DiagnosisEntry{},
		OwnerID:          cmd.OwnerID,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.log.Error("failed to create patient", zap.Error(err))
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       cmd.OwnerID,
		Action:       "create",
		ResourceType: "patient",
		ResourceID:   p.ID.String(),
		IPAddress:    ip,
	})

	s.log.Info("patient created",
		zap.String("patient_id", p.ID.String()),
		zap.String("owner_id", cmd.OwnerID.String()),
	)

	return p, nil
}

func (s *PatientService) List(ctx context.Context, callerID uuid.UUID) ([]*patient.Patient, error) {
	return s.repo.ListByOwner(ctx, callerID)
}

func (s *PatientService) Get(ctx context.Context, id, callerID uuid.UUID) (*patient.Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *PatientService) Update(ctx context.Context, id uuid.UUID, cmd *patient.UpdatePatientCommand, callerID uuid.UUID, ip string) (*patient.Patient, error) {
	if err := validatePatientFields(cmd.Name, cmd.Age, cmd.Gender); err != nil {
		return nil, err
	}

	// Resolve the record and verify ownership before touching anything.
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != callerID {
		return nil, ErrForbidden
	}

	if strings.TrimSpace(cmd.Image) == "" {
		cmd.Image = s.placeholder
	}

	p, err := s.repo.Update(ctx, id, cmd)
	if err != nil {
		s.log.Error("failed to update patient", zap.String("patient_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("updating patient: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       callerID,
		Action:       "update",
		ResourceType: "patient",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	return p, nil
}

func (s *PatientService) Delete(ctx context.Context, id, callerID uuid.UUID, ip string) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != callerID {
		return ErrForbidden
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.log.Error("failed to delete patient", zap.String("patient_id", id.String()), zap.Error(err))
		return fmt.Errorf("deleting patient: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       callerID,
		Action:       "delete",
		ResourceType: "patient",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	return nil
}

// Diagnose forwards the stored image to the classifier and, only on success,
// appends one entry to the patient's history. A failed classification leaves
// the record exactly as it was.
func (s *PatientService) Diagnose(ctx context.Context, id uuid.UUID, imageRef string, callerID uuid.UUID, ip string) (*patient.Patient, error) {
	if strings.TrimSpace(imageRef) == "" {
		return nil, ErrImageRequired
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != callerID {
		return nil, ErrForbidden
	}

	img, err := s.store.Open(ctx, imageRef)
	if err != nil {
		s.log.Error("failed to read stored diagnosis image",
			zap.String("image_ref", imageRef), zap.Error(err))
		return nil, fmt.Errorf("reading diagnosis image: %w", err)
	}
	defer img.Close()

	prediction, err := s.classifier.Classify(ctx, path.Base(imageRef), img)
	if err != nil {
		// The upload has no further use once classification fails.
		if delErr := s.store.Delete(ctx, imageRef); delErr != nil {
			s.log.Warn("failed to remove image after classification failure",
				zap.String("image_ref", imageRef), zap.Error(delErr))
		}
		return nil, err
	}

	p, err := s.repo.AppendDiagnosis(ctx, id, patient.DiagnosisEntry{
		Image:      imageRef,
		Prediction: prediction,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("failed to append diagnosis entry",
			zap.String("patient_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("appending diagnosis: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       callerID,
		Action:       "diagnose",
		ResourceType: "patient",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	s.log.Info("diagnosis appended",
		zap.String("patient_id", id.String()),
		zap.String("prediction", prediction),
	)

	return p, nil
}

func validatePatientFields(name string, age int, gender string) error {
	var errs []string

	if strings.TrimSpace(name) == "" {
		errs = append(errs, "name is required")
	}
	if age < 0 {
		errs = append(errs, "age must be a non-negative number")
	}
	if strings.TrimSpace(gender) == "" {
		errs = append(errs, "gender is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
