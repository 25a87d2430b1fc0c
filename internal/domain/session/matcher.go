package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/availability"
	"github.com/telepharm/consult/internal/domain/queue"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/telemetry"
)

// Errors surfaced by the Matcher.
var (
	// ErrAlreadyClaimed means another pharmacist won the conditional claim.
	ErrAlreadyClaimed = errors.New("queue entry already claimed")

	// ErrNoneWaiting means the waiting line is empty.
	ErrNoneWaiting = errors.New("no waiting queue entries")
)

// QueueControl is the slice of the queue coordinator the matcher and the
// end-of-consultation service drive; *queue.Coordinator satisfies it.
type QueueControl interface {
	Get(ctx context.Context, entryID uuid.UUID) (*queue.QueueEntry, error)
	ListWaiting(ctx context.Context, limit, offset int) ([]*queue.QueueEntry, int, error)
	Claim(ctx context.Context, entryID, pharmacistID uuid.UUID) error
	MarkInChat(ctx context.Context, entryID uuid.UUID) error
	RevertToWaiting(ctx context.Context, entryID uuid.UUID) error
	Complete(ctx context.Context, entryID uuid.UUID) error
}

// AvailabilityControl is the slice of the availability tracker used here;
// *availability.Tracker satisfies it.
type AvailabilityControl interface {
	Acquire(ctx context.Context, pharmacistID, sessionID uuid.UUID) error
	Release(ctx context.Context, pharmacistID uuid.UUID) error
	PickFree(ctx context.Context) (*availability.PharmacistAvailability, error)
}

// Matcher performs the hand-off from a waiting queue entry to an open
// session. Matching is pull-based: a pharmacist action triggers it, there is
// no background auto-assignment.
type Matcher struct {
	sessions Repository
	queue    QueueControl
	avail    AvailabilityControl
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

func NewMatcher(sessions Repository, q QueueControl, avail AvailabilityControl, metrics *telemetry.Metrics, logger zerolog.Logger) *Matcher {
	return &Matcher{sessions: sessions, queue: q, avail: avail, metrics: metrics, logger: logger}
}

// AttemptMatch claims the entry for the pharmacist and opens a session.
// The claim is a conditional update, so of any number of concurrent attempts
// on one entry exactly one succeeds; the rest get ErrAlreadyClaimed. Every
// step after a successful claim is compensated on failure: the session (if
// created) is closed and the entry reverts to waiting so it re-enters the
// pool instead of dangling in matched with no session.
func (m *Matcher) AttemptMatch(ctx context.Context, entryID, pharmacistID uuid.UUID) (*ConsultationSession, error) {
	entry, err := m.queue.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := m.queue.Claim(ctx, entryID, pharmacistID); err != nil {
		if errors.Is(err, db.ErrConflict) {
			m.lost()
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	sess := &ConsultationSession{
		PatientID: entry.PatientID,
		DoctorID:  pharmacistID,
		QueueID:   &entryID,
		Status:    StatusActive,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		m.compensate(ctx, entryID, nil)
		m.lost()
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := m.queue.MarkInChat(ctx, entryID); err != nil {
		m.compensate(ctx, entryID, sess)
		m.lost()
		return nil, fmt.Errorf("mark entry in chat: %w", err)
	}

	if err := m.avail.Acquire(ctx, pharmacistID, sess.ID); err != nil {
		m.compensate(ctx, entryID, sess)
		m.lost()
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.MatchesWon.Inc()
	}
	m.logger.Info().
		Str("entry_id", entryID.String()).
		Str("pharmacist_id", pharmacistID.String()).
		Str("session_id", sess.ID.String()).
		Msg("consultation matched")
	return sess, nil
}

// AttemptMatchAuto picks the least-loaded free pharmacist and matches the
// entry to them.
func (m *Matcher) AttemptMatchAuto(ctx context.Context, entryID uuid.UUID) (*ConsultationSession, error) {
	a, err := m.avail.PickFree(ctx)
	if err != nil {
		return nil, err
	}
	return m.AttemptMatch(ctx, entryID, a.PharmacistID)
}

// MatchNext matches the pharmacist to the oldest claimable waiting entry,
// skipping entries lost to concurrent claims.
func (m *Matcher) MatchNext(ctx context.Context, pharmacistID uuid.UUID) (*ConsultationSession, error) {
	const batch = 10
	entries, _, err := m.queue.ListWaiting(ctx, batch, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		sess, err := m.AttemptMatch(ctx, e.ID, pharmacistID)
		if errors.Is(err, ErrAlreadyClaimed) {
			continue
		}
		return sess, err
	}
	return nil, ErrNoneWaiting
}

// compensate unwinds a partial hand-off. Each step is best-effort: the
// reconciliation that matters most is the entry returning to waiting, and a
// failure here only leaves what the failed step already left.
func (m *Matcher) compensate(ctx context.Context, entryID uuid.UUID, sess *ConsultationSession) {
	if sess != nil {
		if err := m.sessions.Complete(ctx, sess.ID); err != nil && !errors.Is(err, db.ErrConflict) {
			m.logger.Error().Err(err).Str("session_id", sess.ID.String()).Msg("compensation: close session failed")
		}
	}
	if err := m.queue.RevertToWaiting(ctx, entryID); err != nil {
		m.logger.Error().Err(err).Str("entry_id", entryID.String()).Msg("compensation: revert entry failed")
	}
}

func (m *Matcher) lost() {
	if m.metrics != nil {
		m.metrics.MatchesLost.Inc()
	}
}
