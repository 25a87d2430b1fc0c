package recommendation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recommendation statuses. Accepted and rejected are terminal; only the
// patient performs either transition.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// MedicationRecommendation maps to the medication_recommendation table, a
// structured suggestion referenced by a chat message of type
// medication_recommendation.
type MedicationRecommendation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	SessionID      uuid.UUID  `db:"session_id" json:"session_id"`
	MedicationName string     `db:"medication_name" json:"medication_name"`
	MedicationRef  *string    `db:"medication_ref" json:"medication_ref,omitempty"`
	Dosage         string     `db:"dosage" json:"dosage"`
	Frequency      string     `db:"frequency" json:"frequency"`
	Duration       string     `db:"duration" json:"duration"`
	Instructions   string     `db:"instructions" json:"instructions"`
	RecommendedBy  uuid.UUID  `db:"recommended_by" json:"recommended_by"`
	Status         string     `db:"status" json:"status"`
	PatientNotes   *string    `db:"patient_notes" json:"patient_notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Decided reports whether the recommendation reached a terminal status.
func (r *MedicationRecommendation) Decided() bool {
	return r.Status == StatusAccepted || r.Status == StatusRejected
}

// CreateInput is the pharmacist's suggestion as submitted.
type CreateInput struct {
	SessionID      uuid.UUID `json:"session_id"`
	RecommendedBy  uuid.UUID `json:"recommended_by"`
	MedicationName string    `json:"medication_name"`
	MedicationRef  *string   `json:"medication_ref,omitempty"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	Duration       string    `json:"duration"`
	Instructions   string    `json:"instructions"`
}

// Validate checks required fields.
func (in *CreateInput) Validate() error {
	if in.SessionID == uuid.Nil {
		return fmt.Errorf("session_id is required")
	}
	if in.RecommendedBy == uuid.Nil {
		return fmt.Errorf("recommended_by is required")
	}
	if in.MedicationName == "" {
		return fmt.Errorf("medication_name is required")
	}
	if in.Dosage == "" {
		return fmt.Errorf("dosage is required")
	}
	return nil
}
