package availability

import (
	"time"

	"github.com/google/uuid"
)

// PharmacistAvailability maps to the pharmacist_availability table, one row
// per pharmacist. A pharmacist with no row is treated as offline until they
// explicitly go online.
//
// Capacity policy: single session at a time. IsBusy is the matchability
// flag; CurrentSessionsCount is kept for release bookkeeping and reporting
// and never exceeds 1 under this policy.
type PharmacistAvailability struct {
	PharmacistID         uuid.UUID  `db:"pharmacist_id" json:"pharmacist_id"`
	IsOnline             bool       `db:"is_online" json:"is_online"`
	IsBusy               bool       `db:"is_busy" json:"is_busy"`
	CurrentSessionID     *uuid.UUID `db:"current_session_id" json:"current_session_id,omitempty"`
	CurrentSessionsCount int        `db:"current_sessions_count" json:"current_sessions_count"`
	LastActiveAt         time.Time  `db:"last_active_at" json:"last_active_at"`
}

// Free reports whether the pharmacist can accept a new consultation.
func (a *PharmacistAvailability) Free() bool {
	return a.IsOnline && !a.IsBusy
}
