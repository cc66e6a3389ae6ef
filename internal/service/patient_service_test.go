package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dermatrack/api/internal/domain"
	"github.com/dermatrack/api/internal/domain/patient"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (r *fakePatientRepo) Create(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.New()
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *fakePatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePatientRepo) Update(_ context.Context, id uuid.UUID, cmd *patient.UpdatePatientCommand) (*patient.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	p.Name = cmd.Name
	p.Age = cmd.Age
	p.Gender = cmd.Gender
	p.Image = cmd.Image
	p.ExtraNotes = cmd.ExtraNotes
	cp := *p
	return &cp, nil
}

func (r *fakePatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.patients[id]; !ok {
		return patient.ErrPatientNotFound
	}
	delete(r.patients, id)
	return nil
}

func (r *fakePatientRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*patient.Patient, error) {
	var out []*patient.Patient
	for _, p := range r.patients {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePatientRepo) AppendDiagnosis(_ context.Context, id uuid.UUID, entry patient.DiagnosisEntry) (*patient.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	p.DiagnosisHistory = append(p.DiagnosisHistory, entry)
	cp := *p
	return &cp, nil
}

type fakeImageStore struct {
	files   map[string][]byte
	deleted []string
	seq     int
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{files: make(map[string][]byte)}
}

func (s *fakeImageStore) Store(_ context.Context, filename, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.seq++
	ref := fmt.Sprintf("/uploads/%d-%s", s.seq, filename)
	s.files[ref] = data
	return ref, nil
}

func (s *fakeImageStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := s.files[ref]
	if !ok {
		return nil, errors.New("stored image not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeImageStore) Delete(_ context.Context, ref string) error {
	delete(s.files, ref)
	s.deleted = append(s.deleted, ref)
	return nil
}

type fakeClassifier struct {
	prediction string
	err        error
	calls      int
}

func (c *fakeClassifier) Classify(_ context.Context, _ string, image io.Reader) (string, error) {
	c.calls++
	_, _ = io.Copy(io.Discard, image)
	if c.err != nil {
		return "", c.err
	}
	return c.prediction, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) Create(context.Context, *domain.AuditLog) error { return nil }

const placeholderImage = "/images/defaultpfp.png"

func newTestService(repo patient.Repository, store *fakeImageStore, classifier *fakeClassifier) *PatientService {
	log := zap.NewNop()
	return NewPatientService(repo, store, classifier, NewAuditService(fakeAuditRepo{}, log), log, placeholderImage)
}

func seedPatient(t *testing.T, svc *PatientService, owner uuid.UUID) *patient.Patient {
	t.Helper()
	p, err := svc.Create(context.Background(), &patient.CreatePatientCommand{
		Name:    "Jordan Reyes",
		Age:     34,
		Gender:  "female",
		OwnerID: owner,
	}, "127.0.0.1")
	if err != nil {
		t.Fatalf("seedPatient: %v", err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_RejectsInvalidPayloadWithoutPersisting(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newTestService(repo, newFakeImageStore(), &fakeClassifier{})

	cases := []struct {
		name string
		cmd  patient.CreatePatientCommand
		want string
	}{
		{"missing name", patient.CreatePatientCommand{Age: 30, Gender: "male"}, "name is required"},
		{"blank name", patient.CreatePatientCommand{Name: "   ", Age: 30, Gender: "male"}, "name is required"},
		{"negative age", patient.CreatePatientCommand{Name: "A", Age: -1, Gender: "male"}, "age must be a non-negative number"},
		{"missing gender", patient.CreatePatientCommand{Name: "A", Age: 30}, "gender is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cmd.OwnerID = uuid.New()
			_, err := svc.Create(context.Background(), &tc.cmd, "")

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, f := range vErr.Fields {
				if f == tc.want {
					found = true
				}
			}
			if !found {
				t.Errorf("expected field message %q in %v", tc.want, vErr.Fields)
			}
			if len(repo.patients) != 0 {
				t.Fatalf("expected nothing persisted, found %d records", len(repo.patients))
			}
		})
	}
}

func TestCreate_AggregatesAllFieldErrors(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})

	_, err := svc.Create(context.Background(), &patient.CreatePatientCommand{Age: -5}, "")

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(vErr.Fields), vErr.Fields)
	}
	if !strings.Contains(vErr.Error(), ", ") {
		t.Errorf("expected a comma-joined report, got %q", vErr.Error())
	}
}

func TestCreate_DefaultsToPlaceholderImage(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})

	p := seedPatient(t, svc, uuid.New())

	if p.Image != placeholderImage {
		t.Fatalf("expected placeholder image %q, got %q", placeholderImage, p.Image)
	}
}

func TestCreate_UsesUploadedImageReference(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})

	p, err := svc.Create(context.Background(), &patient.CreatePatientCommand{
		Name:    "Sam Ortiz",
		Age:     52,
		Gender:  "male",
		Image:   "/uploads/1-profile.png",
		OwnerID: uuid.New(),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Image != "/uploads/1-profile.png" {
		t.Fatalf("expected uploaded reference, got %q", p.Image)
	}
}

func TestCreate_ThenGetRoundTrips(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})
	owner := uuid.New()

	created := seedPatient(t, svc, owner)
	got, err := svc.Get(context.Background(), created.ID, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ID != created.ID || got.Name != created.Name || got.Age != created.Age ||
		got.Gender != created.Gender || got.Image != created.Image || got.OwnerID != owner {
		t.Fatalf("fetched patient differs from created: %+v vs %+v", got, created)
	}
	if len(got.DiagnosisHistory) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(got.DiagnosisHistory))
	}
}

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

func TestOwnership_OtherUsersAreLockedOut(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newTestService(repo, newFakeImageStore(), &fakeClassifier{prediction: "Benign"})
	owner := uuid.New()
	intruder := uuid.New()

	p := seedPatient(t, svc, owner)

	if _, err := svc.Get(context.Background(), p.ID, intruder); !errors.Is(err, ErrForbidden) {
		t.Errorf("Get: expected ErrForbidden, got %v", err)
	}

	_, err := svc.Update(context.Background(), p.ID, &patient.UpdatePatientCommand{
		Name: "X", Age: 1, Gender: "other",
	}, intruder, "")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Update: expected ErrForbidden, got %v", err)
	}

	if err := svc.Delete(context.Background(), p.ID, intruder, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete: expected ErrForbidden, got %v", err)
	}

	if _, err := svc.Diagnose(context.Background(), p.ID, "/uploads/x.png", intruder, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Diagnose: expected ErrForbidden, got %v", err)
	}

	// Nothing above may have mutated the record.
	got, err := svc.Get(context.Background(), p.ID, owner)
	if err != nil {
		t.Fatalf("owner lost access: %v", err)
	}
	if got.Name != p.Name || len(got.DiagnosisHistory) != 0 {
		t.Fatalf("record mutated by forbidden operations: %+v", got)
	}
}

func TestList_ReturnsOnlyOwnedPatients(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})
	alice := uuid.New()
	bob := uuid.New()

	seedPatient(t, svc, alice)
	seedPatient(t, svc, alice)
	seedPatient(t, svc, bob)

	forAlice, err := svc.List(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forAlice) != 2 {
		t.Fatalf("expected 2 patients for first owner, got %d", len(forAlice))
	}
	for _, p := range forAlice {
		if p.OwnerID != alice {
			t.Fatalf("foreign patient in list: %+v", p)
		}
	}

	forBob, err := svc.List(context.Background(), bob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forBob) != 1 {
		t.Fatalf("expected 1 patient for second owner, got %d", len(forBob))
	}
}

// ---------------------------------------------------------------------------
// Update / Delete
// ---------------------------------------------------------------------------

func TestUpdate_ReplacesProfileFieldsOnly(t *testing.T) {
	repo := newFakePatientRepo()
	store := newFakeImageStore()
	classifier := &fakeClassifier{prediction: "Eczema"}
	svc := newTestService(repo, store, classifier)
	owner := uuid.New()

	p := seedPatient(t, svc, owner)

	ref, _ := store.Store(context.Background(), "lesion.png", "image/png", strings.NewReader("img"))
	if _, err := svc.Diagnose(context.Background(), p.ID, ref, owner, ""); err != nil {
		t.Fatalf("diagnose: %v", err)
	}

	updated, err := svc.Update(context.Background(), p.ID, &patient.UpdatePatientCommand{
		Name:       "Jordan R. Reyes",
		Age:        35,
		Gender:     "female",
		ExtraNotes: "follow-up in 3 months",
	}, owner, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.Name != "Jordan R. Reyes" || updated.Age != 35 || updated.ExtraNotes != "follow-up in 3 months" {
		t.Fatalf("profile fields not replaced: %+v", updated)
	}
	if updated.OwnerID != owner {
		t.Fatalf("owner changed on update: %v", updated.OwnerID)
	}
	if len(updated.DiagnosisHistory) != 1 {
		t.Fatalf("diagnosis history touched by update: %d entries", len(updated.DiagnosisHistory))
	}
	if updated.Image != placeholderImage {
		t.Fatalf("empty image on update should resolve to placeholder, got %q", updated.Image)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})

	_, err := svc.Update(context.Background(), uuid.New(), &patient.UpdatePatientCommand{
		Name: "A", Age: 1, Gender: "male",
	}, uuid.New(), "")
	if !errors.Is(err, patient.ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestDelete_RemovesRecordForEveryone(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})
	owner := uuid.New()

	p := seedPatient(t, svc, owner)

	if err := svc.Delete(context.Background(), p.ID, owner, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Get(context.Background(), p.ID, owner); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("owner Get after delete: expected ErrPatientNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), p.ID, uuid.New()); !errors.Is(err, patient.ErrPatientNotFound) {
		t.Errorf("stranger Get after delete: expected ErrPatientNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Diagnose
// ---------------------------------------------------------------------------

func TestDiagnose_AppendsExactlyOneEntry(t *testing.T) {
	store := newFakeImageStore()
	classifier := &fakeClassifier{prediction: "melanoma"}
	svc := newTestService(newFakePatientRepo(), store, classifier)
	owner := uuid.New()

	p := seedPatient(t, svc, owner)
	ref, _ := store.Store(context.Background(), "mole.jpg", "image/jpeg", strings.NewReader("pixels"))

	got, err := svc.Diagnose(context.Background(), p.ID, ref, owner, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.DiagnosisHistory) != 1 {
		t.Fatalf("expected exactly 1 history entry, got %d", len(got.DiagnosisHistory))
	}
	entry := got.DiagnosisHistory[0]
	if entry.Prediction != "melanoma" {
		t.Errorf("expected prediction melanoma, got %q", entry.Prediction)
	}
	if entry.Image != ref {
		t.Errorf("expected image reference %q, got %q", ref, entry.Image)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected a non-zero entry timestamp")
	}
	if classifier.calls != 1 {
		t.Errorf("expected 1 classifier call, got %d", classifier.calls)
	}

	// A second successful call grows the history by exactly one more.
	ref2, _ := store.Store(context.Background(), "mole2.jpg", "image/jpeg", strings.NewReader("pixels"))
	got, err = svc.Diagnose(context.Background(), p.ID, ref2, owner, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.DiagnosisHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.DiagnosisHistory))
	}
}

func TestDiagnose_ClassifierFailureLeavesRecordUntouched(t *testing.T) {
	store := newFakeImageStore()
	remoteErr := errors.New("prediction service unavailable: status 500")
	svc := newTestService(newFakePatientRepo(), store, &fakeClassifier{err: remoteErr})
	owner := uuid.New()

	p := seedPatient(t, svc, owner)
	ref, _ := store.Store(context.Background(), "mole.jpg", "image/jpeg", strings.NewReader("pixels"))

	_, err := svc.Diagnose(context.Background(), p.ID, ref, owner, "")
	if !errors.Is(err, remoteErr) {
		t.Fatalf("expected classifier error to propagate, got %v", err)
	}

	got, err := svc.Get(context.Background(), p.ID, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.DiagnosisHistory) != 0 {
		t.Fatalf("expected history unchanged, got %d entries", len(got.DiagnosisHistory))
	}

	// The failed upload has no further use and must be cleaned up.
	if len(store.deleted) != 1 || store.deleted[0] != ref {
		t.Errorf("expected stored image %q to be deleted, deletions: %v", ref, store.deleted)
	}
}

func TestDiagnose_RequiresImage(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})
	owner := uuid.New()
	p := seedPatient(t, svc, owner)

	if _, err := svc.Diagnose(context.Background(), p.ID, "  ", owner, ""); !errors.Is(err, ErrImageRequired) {
		t.Fatalf("expected ErrImageRequired, got %v", err)
	}
}

func TestDiagnose_NotFound(t *testing.T) {
	svc := newTestService(newFakePatientRepo(), newFakeImageStore(), &fakeClassifier{})

	_, err := svc.Diagnose(context.Background(), uuid.New(), "/uploads/x.png", uuid.New(), "")
	if !errors.Is(err, patient.ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}
