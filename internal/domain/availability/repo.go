package availability

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Get returns the availability row for a pharmacist, or db.ErrNotFound
	// when the pharmacist has never gone online.
	Get(ctx context.Context, pharmacistID uuid.UUID) (*PharmacistAvailability, error)

	// SetOnline upserts the row and sets the online flag; last_active_at is
	// refreshed either way.
	SetOnline(ctx context.Context, pharmacistID uuid.UUID, online bool) error

	// Acquire conditionally claims the pharmacist for a session: it succeeds
	// only while the pharmacist is online and not busy, incrementing the
	// session count and recording the session id. Returns db.ErrConflict
	// when the pharmacist is offline, busy, or unknown.
	Acquire(ctx context.Context, pharmacistID, sessionID uuid.UUID) error

	// Release decrements the session count (floored at zero), clears the
	// busy flag when the count reaches zero, and clears the session link.
	Release(ctx context.Context, pharmacistID uuid.UUID) error

	// OnlineFreeCount counts pharmacists who are online and not busy.
	OnlineFreeCount(ctx context.Context) (int, error)

	// PickFree returns the online, not-busy pharmacist with the lowest
	// session count, tie-broken by earliest last_active_at, or
	// db.ErrNotFound when nobody is free.
	PickFree(ctx context.Context) (*PharmacistAvailability, error)
}
