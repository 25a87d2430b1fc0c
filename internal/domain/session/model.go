package session

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// ConsultationSession maps to the consultation_session table, the chat
// context shared by one patient and one pharmacist. QueueID is nil for
// sessions opened directly without going through the waiting line. At most
// one non-completed session exists per queue entry. Sessions are closed
// logically (status=completed), never deleted.
type ConsultationSession struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	QueueID   *uuid.UUID `db:"queue_id" json:"queue_id,omitempty"`
	Status    string     `db:"status" json:"status"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Participant reports whether the user is one of the session's two parties.
func (s *ConsultationSession) Participant(userID uuid.UUID) bool {
	return userID == s.PatientID || userID == s.DoctorID
}
