package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/queue"
	"github.com/telepharm/consult/internal/platform/db"
)

type mockAccepted struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func newMockAccepted() *mockAccepted {
	return &mockAccepted{counts: make(map[uuid.UUID]int)}
}

func (m *mockAccepted) accept(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[sessionID]++
}

func (m *mockAccepted) CountAcceptedBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[sessionID], nil
}

type endFixture struct {
	q        *mockQueue
	sessions *mockSessions
	avail    *mockAvail
	accepted *mockAccepted
	svc      *Service

	patient    uuid.UUID
	pharmacist uuid.UUID
	entry      *queue.QueueEntry
	sess       *ConsultationSession
}

func newEndFixture(t *testing.T) *endFixture {
	t.Helper()
	f := &endFixture{
		q:        newMockQueue(),
		sessions: newMockSessions(),
		avail:    newMockAvail(),
		accepted: newMockAccepted(),
		patient:  uuid.New(),
	}
	f.pharmacist = uuid.New()
	f.avail.online(f.pharmacist)
	f.entry = f.q.addWaiting(f.patient)

	m := newTestMatcher(f.q, f.sessions, f.avail)
	sess, err := m.AttemptMatch(context.Background(), f.entry.ID, f.pharmacist)
	if err != nil {
		t.Fatal(err)
	}
	f.sess = sess
	f.svc = NewService(f.sessions, f.q, f.avail, f.accepted, zerolog.Nop())
	return f
}

func TestEndClosesEverything(t *testing.T) {
	f := newEndFixture(t)
	ctx := context.Background()

	result, err := f.svc.End(ctx, f.sess.ID, f.patient)
	if err != nil {
		t.Fatal(err)
	}
	if result.Session.Status != StatusCompleted {
		t.Errorf("expected completed session, got %s", result.Session.Status)
	}
	if result.RequiresReview || result.AcceptedCount != 0 {
		t.Errorf("expected direct close with no acceptances, got %+v", result)
	}

	entry, _ := f.q.Get(ctx, f.entry.ID)
	if entry.Status != queue.StatusCompleted {
		t.Errorf("expected completed entry, got %s", entry.Status)
	}
	a, err := f.avail.PickFree(ctx)
	if err != nil || a.PharmacistID != f.pharmacist {
		t.Error("pharmacist must be free again after end")
	}
}

func TestEndRequiresReviewWithAcceptedRecommendations(t *testing.T) {
	f := newEndFixture(t)

	// Acceptance recorded moments before the end call: the branch must come
	// from a fresh store read, not any cached flag.
	f.accepted.accept(f.sess.ID)

	result, err := f.svc.End(context.Background(), f.sess.ID, f.pharmacist)
	if err != nil {
		t.Fatal(err)
	}
	if !result.RequiresReview || result.AcceptedCount != 1 {
		t.Errorf("expected review branch with one acceptance, got %+v", result)
	}
}

func TestEndRejectsNonParticipant(t *testing.T) {
	f := newEndFixture(t)

	_, err := f.svc.End(context.Background(), f.sess.ID, uuid.New())
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	sess, _ := f.sessions.GetByID(context.Background(), f.sess.ID)
	if sess.Status != StatusActive {
		t.Error("session must stay active after a rejected end")
	}
}

func TestEndTwiceConflicts(t *testing.T) {
	f := newEndFixture(t)
	ctx := context.Background()

	if _, err := f.svc.End(ctx, f.sess.ID, f.patient); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.End(ctx, f.sess.ID, f.pharmacist); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestEndUnknownSession(t *testing.T) {
	f := newEndFixture(t)
	_, err := f.svc.End(context.Background(), uuid.New(), f.patient)
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentEndsOneWinner(t *testing.T) {
	f := newEndFixture(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		by := f.patient
		if i%2 == 0 {
			by = f.pharmacist
		}
		wg.Add(1)
		go func(by uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.End(ctx, f.sess.ID, by)
			results <- err
		}(by)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSessionEnded):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one successful end, got %d", won)
	}
}
