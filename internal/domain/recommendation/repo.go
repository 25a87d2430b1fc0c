package recommendation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists medication recommendations.
type Repository interface {
	Create(ctx context.Context, r *MedicationRecommendation) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationRecommendation, error)

	// ListBySession returns the session's recommendations oldest first,
	// optionally filtered by status ("" means all).
	ListBySession(ctx context.Context, sessionID uuid.UUID, status string) ([]*MedicationRecommendation, error)

	CountAcceptedBySession(ctx context.Context, sessionID uuid.UUID) (int, error)

	// Decide transitions pending→status conditionally; db.ErrConflict when
	// the recommendation was already decided.
	Decide(ctx context.Context, id uuid.UUID, status string, patientNotes *string) error
}
