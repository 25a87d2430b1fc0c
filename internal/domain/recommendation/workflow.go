package recommendation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/chat"
	"github.com/telepharm/consult/internal/domain/session"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/feed"
)

// Errors surfaced by the Workflow.
var (
	// ErrAlreadyDecided means the recommendation already reached a terminal
	// status; the stored decision stands.
	ErrAlreadyDecided = errors.New("recommendation already decided")

	// ErrNotPatient means someone other than the session's patient tried to
	// decide. This is a role violation, not a race.
	ErrNotPatient = errors.New("only the patient may decide a recommendation")

	// ErrNotPharmacist means someone other than the session's pharmacist
	// tried to create a recommendation.
	ErrNotPharmacist = errors.New("only the pharmacist may create a recommendation")
)

// SessionGate resolves sessions; *session.Service satisfies it.
type SessionGate interface {
	Get(ctx context.Context, id uuid.UUID) (*session.ConsultationSession, error)
}

// MessageSender inserts the paired chat message; *chat.Service satisfies it.
type MessageSender interface {
	SendRecommendation(ctx context.Context, sessionID, senderID, recommendationID uuid.UUID) (*chat.Message, error)
}

// Workflow owns the recommendation lifecycle: pharmacist creates, patient
// accepts or rejects, both transitions conditional. Status changes travel to
// subscribers as record UPDATE events on the session topic; no extra chat
// message is created for a decision, the referenced record simply changes.
type Workflow struct {
	recs     Repository
	sessions SessionGate
	chat     MessageSender
	pub      feed.Publisher
	logger   zerolog.Logger
}

func NewWorkflow(recs Repository, sessions SessionGate, chatSvc MessageSender, pub feed.Publisher, logger zerolog.Logger) *Workflow {
	return &Workflow{recs: recs, sessions: sessions, chat: chatSvc, pub: pub, logger: logger}
}

// Create inserts the recommendation and the chat message referencing it.
// The record is durable before the message goes out, matching the
// write-then-notify order the delivery pipeline's secondary fetch tolerates.
func (w *Workflow) Create(ctx context.Context, in *CreateInput) (*MedicationRecommendation, *chat.Message, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	sess, err := w.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if in.RecommendedBy != sess.DoctorID {
		return nil, nil, ErrNotPharmacist
	}
	if sess.Status != session.StatusActive {
		return nil, nil, chat.ErrSessionNotActive
	}

	rec := &MedicationRecommendation{
		SessionID:      in.SessionID,
		MedicationName: in.MedicationName,
		MedicationRef:  in.MedicationRef,
		Dosage:         in.Dosage,
		Frequency:      in.Frequency,
		Duration:       in.Duration,
		Instructions:   in.Instructions,
		RecommendedBy:  in.RecommendedBy,
		Status:         StatusPending,
	}
	if err := w.recs.Create(ctx, rec); err != nil {
		return nil, nil, err
	}

	msg, err := w.chat.SendRecommendation(ctx, in.SessionID, in.RecommendedBy, rec.ID)
	if err != nil {
		// The record exists but nothing references it; the poll path cannot
		// surface it either. Report the failure to the pharmacist.
		return nil, nil, fmt.Errorf("send recommendation message: %w", err)
	}

	w.publish(ctx, feed.OpInsert, rec)
	return rec, msg, nil
}

// Accept records the patient's acceptance. Durable before any downstream
// side effect is attempted: re-reading accepted recommendations must always
// reproduce the same set no matter how often either party reconnects.
func (w *Workflow) Accept(ctx context.Context, recID, patientID uuid.UUID) (*MedicationRecommendation, error) {
	return w.decide(ctx, recID, patientID, StatusAccepted, nil)
}

// Reject records the patient's rejection, optionally with a note.
func (w *Workflow) Reject(ctx context.Context, recID, patientID uuid.UUID, note *string) (*MedicationRecommendation, error) {
	return w.decide(ctx, recID, patientID, StatusRejected, note)
}

func (w *Workflow) decide(ctx context.Context, recID, patientID uuid.UUID, status string, note *string) (*MedicationRecommendation, error) {
	rec, err := w.recs.GetByID(ctx, recID)
	if err != nil {
		return nil, err
	}
	sess, err := w.sessions.Get(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}
	if patientID != sess.PatientID {
		return nil, ErrNotPatient
	}

	if err := w.recs.Decide(ctx, recID, status, note); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}

	decided, err := w.recs.GetByID(ctx, recID)
	if err != nil {
		return nil, err
	}
	w.publish(ctx, feed.OpUpdate, decided)
	return decided, nil
}

func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*MedicationRecommendation, error) {
	return w.recs.GetByID(ctx, id)
}

// GetRecommendation serves the chat pipeline's secondary fetch.
func (w *Workflow) GetRecommendation(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	rec, err := w.recs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (w *Workflow) ListBySession(ctx context.Context, sessionID uuid.UUID, status string) ([]*MedicationRecommendation, error) {
	return w.recs.ListBySession(ctx, sessionID, status)
}

// ListAccepted is the end-of-consultation review set, always a fresh store
// read.
func (w *Workflow) ListAccepted(ctx context.Context, sessionID uuid.UUID) ([]*MedicationRecommendation, error) {
	return w.recs.ListBySession(ctx, sessionID, StatusAccepted)
}

// CountAcceptedBySession serves the end-of-consultation review branch.
func (w *Workflow) CountAcceptedBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return w.recs.CountAcceptedBySession(ctx, sessionID)
}

func (w *Workflow) publish(ctx context.Context, op feed.Op, rec *MedicationRecommendation) {
	if w.pub == nil {
		return
	}
	record, err := json.Marshal(rec)
	if err != nil {
		w.logger.Warn().Err(err).Msg("marshal recommendation for feed")
		return
	}
	ev := feed.Event{
		Op:       op,
		Table:    "medication_recommendation",
		Topic:    feed.SessionTopic(rec.SessionID),
		RecordID: rec.ID,
		Record:   record,
	}
	if err := w.pub.Publish(ctx, ev); err != nil {
		w.logger.Warn().Err(err).Str("recommendation_id", rec.ID.String()).Msg("feed publish failed")
	}
}
