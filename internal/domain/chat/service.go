package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/session"
	"github.com/telepharm/consult/internal/platform/feed"
)

// Errors surfaced by the Service.
var (
	ErrSessionNotActive = errors.New("session is not active")
	ErrNotParticipant   = errors.New("sender is not a participant of the session")
	ErrEmptyMessage     = errors.New("message content is empty")
)

// SessionGate resolves sessions for participant and liveness checks;
// *session.Service satisfies it.
type SessionGate interface {
	Get(ctx context.Context, id uuid.UUID) (*session.ConsultationSession, error)
}

// readReceipt is the payload of a mark-read feed event.
type readReceipt struct {
	SessionID uuid.UUID `json:"session_id"`
	ReaderID  uuid.UUID `json:"reader_id"`
	Count     int64     `json:"count"`
}

// Service owns message writes. A send is a single synchronous insert; the
// store-confirmed record is returned to the caller, who may echo it into
// their own pipeline. A failed send returns an error and nothing enters any
// local sequence.
type Service struct {
	messages Repository
	sessions SessionGate
	pub      feed.Publisher
	logger   zerolog.Logger
}

func NewService(messages Repository, sessions SessionGate, pub feed.Publisher, logger zerolog.Logger) *Service {
	return &Service{messages: messages, sessions: sessions, pub: pub, logger: logger}
}

// Send inserts a text message from either participant.
func (s *Service) Send(ctx context.Context, sessionID, senderID uuid.UUID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	return s.insert(ctx, sessionID, senderID, content, TypeText, "")
}

// SendRecommendation inserts the chat message referencing a recommendation
// record, on behalf of the pharmacist. Only the recommendation workflow
// calls this.
func (s *Service) SendRecommendation(ctx context.Context, sessionID, senderID, recommendationID uuid.UUID) (*Message, error) {
	return s.insert(ctx, sessionID, senderID, EncodeRecommendationRef(recommendationID), TypeRecommendation, SenderDoctor)
}

func (s *Service) insert(ctx context.Context, sessionID, senderID uuid.UUID, content, messageType, wantSender string) (*Message, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, ErrSessionNotActive
	}

	var senderType string
	switch senderID {
	case sess.PatientID:
		senderType = SenderPatient
	case sess.DoctorID:
		senderType = SenderDoctor
	default:
		return nil, ErrNotParticipant
	}
	if wantSender != "" && senderType != wantSender {
		return nil, fmt.Errorf("%s message requires a %s sender: %w", messageType, wantSender, ErrNotParticipant)
	}

	msg := &Message{
		SessionID:   sessionID,
		SenderID:    senderID,
		SenderType:  senderType,
		Content:     content,
		MessageType: messageType,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.publish(ctx, feed.OpInsert, msg.ID, sessionID, msg)
	return msg, nil
}

// MarkRead flips is_read on the counterpart's messages and announces the
// receipt over the feed.
func (s *Service) MarkRead(ctx context.Context, sessionID, readerID uuid.UUID) (int64, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !sess.Participant(readerID) {
		return 0, ErrNotParticipant
	}

	count, err := s.messages.MarkRead(ctx, sessionID, readerID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.publish(ctx, feed.OpUpdate, sessionID, sessionID,
			readReceipt{SessionID: sessionID, ReaderID: readerID, Count: count})
	}
	return count, nil
}

// History returns the stored sequence for the session, oldest first.
func (s *Service) History(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListSince(ctx, sessionID, time.Time{})
}

// publish pushes onto the change feed, best-effort.
func (s *Service) publish(ctx context.Context, op feed.Op, recordID, sessionID uuid.UUID, payload interface{}) {
	if s.pub == nil {
		return
	}
	record, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("marshal chat record for feed")
		return
	}
	ev := feed.Event{
		Op:       op,
		Table:    "chat_message",
		Topic:    feed.SessionTopic(sessionID),
		RecordID: recordID,
		Record:   record,
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("feed publish failed")
	}
}
