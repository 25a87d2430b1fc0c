package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/session"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/feed"
)

type mockGate struct {
	sessions map[uuid.UUID]*session.ConsultationSession
}

func (m *mockGate) Get(_ context.Context, id uuid.UUID) (*session.ConsultationSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type chatFixture struct {
	store      *mockMessages
	bus        *feed.Bus
	svc        *Service
	sessionID  uuid.UUID
	patient    uuid.UUID
	pharmacist uuid.UUID
	gate       *mockGate
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		store:      newMockMessages(),
		bus:        feed.NewBus(),
		sessionID:  uuid.New(),
		patient:    uuid.New(),
		pharmacist: uuid.New(),
	}
	f.gate = &mockGate{sessions: map[uuid.UUID]*session.ConsultationSession{
		f.sessionID: {
			ID:        f.sessionID,
			PatientID: f.patient,
			DoctorID:  f.pharmacist,
			Status:    session.StatusActive,
			StartedAt: time.Now(),
		},
	}}
	f.svc = NewService(f.store, f.gate, f.bus, zerolog.Nop())
	return f
}

func TestSendAssignsSenderType(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	fromPatient, err := f.svc.Send(ctx, f.sessionID, f.patient, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if fromPatient.SenderType != SenderPatient {
		t.Errorf("expected patient sender, got %s", fromPatient.SenderType)
	}

	fromPharmacist, err := f.svc.Send(ctx, f.sessionID, f.pharmacist, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if fromPharmacist.SenderType != SenderDoctor {
		t.Errorf("expected doctor sender, got %s", fromPharmacist.SenderType)
	}
	if fromPharmacist.MessageType != TypeText {
		t.Errorf("expected text message, got %s", fromPharmacist.MessageType)
	}
}

func TestSendRejectsOutsiders(t *testing.T) {
	f := newChatFixture()
	_, err := f.svc.Send(context.Background(), f.sessionID, uuid.New(), "hello")
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	f := newChatFixture()
	if _, err := f.svc.Send(context.Background(), f.sessionID, f.patient, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendRejectsEndedSession(t *testing.T) {
	f := newChatFixture()
	f.gate.sessions[f.sessionID].Status = session.StatusCompleted

	_, err := f.svc.Send(context.Background(), f.sessionID, f.patient, "hello")
	if !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive, got %v", err)
	}
	if msgs, _ := f.store.ListSince(context.Background(), f.sessionID, time.Time{}); len(msgs) != 0 {
		t.Error("failed send must not persist a message")
	}
}

func TestSendPublishesInsertEvent(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	sub, err := f.bus.Subscribe(ctx, feed.SessionTopic(f.sessionID))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	msg, err := f.svc.Send(ctx, f.sessionID, f.patient, "hello")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Op != feed.OpInsert || ev.Table != "chat_message" || ev.RecordID != msg.ID {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no feed event after send")
	}
}

func TestSendRecommendationRequiresPharmacist(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	recID := uuid.New()

	if _, err := f.svc.SendRecommendation(ctx, f.sessionID, f.patient, recID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant for patient sender, got %v", err)
	}

	msg, err := f.svc.SendRecommendation(ctx, f.sessionID, f.pharmacist, recID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.MessageType != TypeRecommendation {
		t.Errorf("expected recommendation message, got %s", msg.MessageType)
	}
	got, err := msg.RecommendationID()
	if err != nil || got != recID {
		t.Errorf("recommendation ref mismatch: %v %v", got, err)
	}
}

func TestMarkRead(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	f.store.add(f.sessionID, f.pharmacist, SenderDoctor, "one")
	f.store.add(f.sessionID, f.pharmacist, SenderDoctor, "two")
	f.store.add(f.sessionID, f.patient, SenderPatient, "mine")

	sub, err := f.bus.Subscribe(ctx, feed.SessionTopic(f.sessionID))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	count, err := f.svc.MarkRead(ctx, f.sessionID, f.patient)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 marked, got %d", count)
	}

	select {
	case ev := <-sub.Events():
		if ev.Op != feed.OpUpdate || ev.Table != "chat_message" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no read receipt event")
	}

	// Nothing left to mark; no event either.
	count, err = f.svc.MarkRead(ctx, f.sessionID, f.patient)
	if err != nil || count != 0 {
		t.Errorf("expected idempotent mark-read, got %d %v", count, err)
	}
}

func TestMarkReadRejectsOutsiders(t *testing.T) {
	f := newChatFixture()
	if _, err := f.svc.MarkRead(context.Background(), f.sessionID, uuid.New()); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestRecommendationRefParsing(t *testing.T) {
	m := &Message{MessageType: TypeText, Content: "plain"}
	if _, err := m.RecommendationID(); err == nil {
		t.Error("expected error for text message")
	}

	m = &Message{MessageType: TypeRecommendation, Content: "{"}
	if _, err := m.RecommendationID(); err == nil {
		t.Error("expected error for malformed ref")
	}

	m = &Message{MessageType: TypeRecommendation, Content: `{"recommendation_id":"00000000-0000-0000-0000-000000000000"}`}
	if _, err := m.RecommendationID(); err == nil {
		t.Error("expected error for nil ref")
	}
}
