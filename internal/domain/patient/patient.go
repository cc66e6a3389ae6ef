package patient

import (
	"time"

	"github.com/google/uuid"
)

// DiagnosisEntry is one classifier result tied to the image that was
// submitted for it. Entries are append-only: once written they are never
// edited or removed individually, only destroyed with their parent record.
type DiagnosisEntry struct {
	Image      string    `json:"image"`
	Prediction string    `json:"prediction"`
	CreatedAt  time.Time `json:"created_at"`
}

// Patient is the root record: one individual's profile plus the ordered
// history of classifier results for images submitted against it.
type Patient struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Name   string `gorm:"column:name;type:varchar(200);not null" json:"name"`
	Age    int    `gorm:"column:age;not null" json:"age"`
	Gender string `gorm:"column:gender;type:varchar(30);not null" json:"gender"`

	// Image always resolves to some reference: an uploaded image or the
	// configured placeholder, never the empty string.
	Image      string `gorm:"column:image;type:text;not null" json:"image"`
	ExtraNotes string `gorm:"column:extra_notes;type:text" json:"extra_notes"`

	DiagnosisHistory []DiagnosisEntry `gorm:"column:diagnosis_history;serializer:json" json:"diagnosisHistory"`

	// OwnerID is set from the authenticated user at creation and never
	// changes afterwards.
	OwnerID uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index" json:"owner_id"`
}

func (Patient) TableName() string {
	return "clinical.patients"
}

type CreatePatientCommand struct {
	Name       string
	Age        int
	Gender     string
	Image      string
	ExtraNotes string
	OwnerID    uuid.UUID
}

// UpdatePatientCommand replaces the mutable profile fields. DiagnosisHistory
// and OwnerID are not represented here: the first only grows through the
// diagnose operation, the second is immutable.
type UpdatePatientCommand struct {
	Name       string
	Age        int
	Gender     string
	Image      string
	ExtraNotes string
}
