package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists queue entries. Every transition out of a non-terminal
// state is a conditional update: implementations return db.ErrConflict when
// the precondition no longer holds (zero rows affected).
type Repository interface {
	Create(ctx context.Context, e *QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)

	// GetActiveByPatient returns the patient's entry in a non-terminal
	// state, or db.ErrNotFound.
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*QueueEntry, error)

	// CountWaitingBefore counts waiting entries created strictly before the
	// given instant (ties broken by id), i.e. the number of patients ahead.
	CountWaitingBefore(ctx context.Context, createdAt time.Time, id uuid.UUID) (int, error)

	ListWaiting(ctx context.Context, limit, offset int) ([]*QueueEntry, int, error)

	// Claim transitions waiting→matched for the given pharmacist, only if
	// the entry is still waiting.
	Claim(ctx context.Context, entryID, pharmacistID uuid.UUID) error

	// MarkInChat transitions matched→in_chat once the session exists.
	MarkInChat(ctx context.Context, entryID uuid.UUID) error

	// Cancel transitions waiting→cancelled.
	Cancel(ctx context.Context, entryID uuid.UUID) error

	// RevertToWaiting is the matcher's compensation: matched/in_chat→waiting,
	// clearing the pharmacist link so the entry re-enters the pool.
	RevertToWaiting(ctx context.Context, entryID uuid.UUID) error

	// Complete transitions in_chat/in_consultation→completed.
	Complete(ctx context.Context, entryID uuid.UUID) error
}
