package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/db"
)

// Errors surfaced by the Service.
var (
	// ErrNotParticipant means the acting user is neither the patient nor
	// the pharmacist of the session.
	ErrNotParticipant = errors.New("user is not a participant of the session")

	// ErrSessionEnded means the session was already completed.
	ErrSessionEnded = errors.New("session already ended")
)

// AcceptedRecommendations reports the durable accept decisions in a session;
// the recommendation workflow satisfies it.
type AcceptedRecommendations interface {
	CountAcceptedBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// EndResult tells the caller where to route the patient after the
// consultation closed: into the recommendation review step, or straight out.
type EndResult struct {
	Session        *ConsultationSession `json:"session"`
	AcceptedCount  int                  `json:"accepted_count"`
	RequiresReview bool                 `json:"requires_review"`
}

// Service owns session reads and the end-of-consultation teardown.
type Service struct {
	sessions Repository
	queue    QueueControl
	avail    AvailabilityControl
	accepted AcceptedRecommendations
	logger   zerolog.Logger
}

func NewService(sessions Repository, q QueueControl, avail AvailabilityControl, accepted AcceptedRecommendations, logger zerolog.Logger) *Service {
	return &Service{sessions: sessions, queue: q, avail: avail, accepted: accepted, logger: logger}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ConsultationSession, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationSession, int, error) {
	return s.sessions.ListByPatient(ctx, patientID, limit, offset)
}

// End closes the session on behalf of either participant. The close is a
// conditional update, so concurrent End calls resolve to one winner and
// ErrSessionEnded for the rest. The review branch is computed from a fresh
// read of accepted recommendations, never from caller-supplied state:
// an acceptance moments before the end call must not be lost to a stale
// client flag.
func (s *Service) End(ctx context.Context, sessionID, requestedBy uuid.UUID) (*EndResult, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(requestedBy) {
		return nil, ErrNotParticipant
	}

	if err := s.sessions.Complete(ctx, sessionID); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrSessionEnded
		}
		return nil, err
	}

	// Finalization of the entry and the pharmacist's flags is best-effort;
	// the session close above is the authoritative state change.
	if sess.QueueID != nil {
		if err := s.queue.Complete(ctx, *sess.QueueID); err != nil && !errors.Is(err, db.ErrConflict) {
			s.logger.Error().Err(err).Str("entry_id", sess.QueueID.String()).Msg("complete queue entry failed")
		}
	}
	if err := s.avail.Release(ctx, sess.DoctorID); err != nil {
		s.logger.Error().Err(err).Str("pharmacist_id", sess.DoctorID.String()).Msg("release pharmacist failed")
	}

	closed, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		closed = sess
	}

	count, err := s.accepted.CountAcceptedBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &EndResult{
		Session:        closed,
		AcceptedCount:  count,
		RequiresReview: count > 0,
	}, nil
}
