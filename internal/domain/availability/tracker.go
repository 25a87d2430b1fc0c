package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/telepharm/consult/internal/platform/db"
)

// ErrPharmacistBusy is returned when a pharmacist cannot be claimed for a
// new session because they are offline, busy, or have never gone online.
var ErrPharmacistBusy = errors.New("pharmacist is not available for a new session")

// ErrNoFreePharmacist is returned when nobody is online and free.
var ErrNoFreePharmacist = errors.New("no pharmacist is currently available")

// Tracker maintains each pharmacist's online/busy state and session count.
// It backs both match selection and the queue's wait estimates.
type Tracker struct {
	repo Repository
}

func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// SetOnline flips the pharmacist's online flag, creating the row on first
// use.
func (t *Tracker) SetOnline(ctx context.Context, pharmacistID uuid.UUID, online bool) error {
	if pharmacistID == uuid.Nil {
		return errors.New("pharmacist_id is required")
	}
	return t.repo.SetOnline(ctx, pharmacistID, online)
}

// Get returns the pharmacist's availability. A pharmacist with no row is
// reported as offline rather than missing.
func (t *Tracker) Get(ctx context.Context, pharmacistID uuid.UUID) (*PharmacistAvailability, error) {
	a, err := t.repo.Get(ctx, pharmacistID)
	if errors.Is(err, db.ErrNotFound) {
		return &PharmacistAvailability{PharmacistID: pharmacistID}, nil
	}
	return a, err
}

// Acquire claims the pharmacist for a session. Exactly one concurrent
// Acquire succeeds per pharmacist; losers get ErrPharmacistBusy.
func (t *Tracker) Acquire(ctx context.Context, pharmacistID, sessionID uuid.UUID) error {
	err := t.repo.Acquire(ctx, pharmacistID, sessionID)
	if errors.Is(err, db.ErrConflict) {
		return ErrPharmacistBusy
	}
	return err
}

// Release returns the pharmacist to the free pool after a session ends.
func (t *Tracker) Release(ctx context.Context, pharmacistID uuid.UUID) error {
	return t.repo.Release(ctx, pharmacistID)
}

// OnlineFreeCount counts pharmacists available for matching; the queue's
// wait estimate divides the waiting line by this number.
func (t *Tracker) OnlineFreeCount(ctx context.Context) (int, error) {
	return t.repo.OnlineFreeCount(ctx)
}

// PickFree selects the least-loaded free pharmacist, tie-broken by the one
// idle longest.
func (t *Tracker) PickFree(ctx context.Context) (*PharmacistAvailability, error) {
	a, err := t.repo.PickFree(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoFreePharmacist
	}
	return a, err
}
