package session

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists consultation sessions.
type Repository interface {
	Create(ctx context.Context, s *ConsultationSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultationSession, error)

	// GetActiveByQueue returns the non-completed session for a queue entry,
	// or db.ErrNotFound.
	GetActiveByQueue(ctx context.Context, queueID uuid.UUID) (*ConsultationSession, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationSession, int, error)

	// Complete transitions active→completed conditionally; db.ErrConflict
	// when the session was already completed.
	Complete(ctx context.Context, id uuid.UUID) error
}
