package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry statuses. A patient has at most one entry outside the terminal
// states at any time.
const (
	StatusWaiting        = "waiting"
	StatusMatched        = "matched"
	StatusInChat         = "in_chat"
	StatusInConsultation = "in_consultation"
	StatusCancelled      = "cancelled"
	StatusCompleted      = "completed"
)

// ActiveStatuses are the non-terminal entry states.
var ActiveStatuses = []string{StatusWaiting, StatusMatched, StatusInChat, StatusInConsultation}

// IsTerminal reports whether a status ends the entry's lifecycle.
func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}

// QueueEntry maps to the queue_entry table, one per patient consultation
// request. Transitions out of waiting are conditional updates so that two
// pharmacists can never claim the same entry.
type QueueEntry struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	PatientID           uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status              string          `db:"status" json:"status"`
	Symptoms            []string        `db:"symptoms" json:"symptoms"`
	Notes               json.RawMessage `db:"notes" json:"notes,omitempty"`
	MatchedPharmacistID *uuid.UUID      `db:"matched_pharmacist_id" json:"matched_pharmacist_id,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	MatchedAt           *time.Time      `db:"matched_at" json:"matched_at,omitempty"`
	EndedAt             *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
}

// Notes is the structured intake payload attached to a queue entry. It is
// stored as JSON and validated at the boundary rather than trusted as-is.
type Notes struct {
	BodyPart           string              `json:"body_part,omitempty"`
	Age                int                 `json:"age,omitempty"`
	SymptomAssessments []SymptomAssessment `json:"symptom_assessments,omitempty"`
}

// SymptomAssessment is one answered intake question.
type SymptomAssessment struct {
	Symptom  string `json:"symptom"`
	Severity string `json:"severity,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// Validate checks the payload's fields for plausibility.
func (n *Notes) Validate() error {
	if n.Age < 0 || n.Age > 150 {
		return fmt.Errorf("age out of range: %d", n.Age)
	}
	for i, sa := range n.SymptomAssessments {
		if sa.Symptom == "" {
			return fmt.Errorf("symptom_assessments[%d]: symptom is required", i)
		}
	}
	return nil
}

// ParseNotes decodes and validates a raw notes payload. A nil or empty
// payload is valid and yields a nil Notes.
func ParseNotes(raw json.RawMessage) (*Notes, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n Notes
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notes: %w", err)
	}
	return &n, nil
}

// EncodeNotes validates and serializes a Notes payload for storage.
func EncodeNotes(n *Notes) (json.RawMessage, error) {
	if n == nil {
		return nil, nil
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notes: %w", err)
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notes: %w", err)
	}
	return raw, nil
}
