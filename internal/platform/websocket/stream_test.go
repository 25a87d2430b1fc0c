package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/chat"
	"github.com/telepharm/consult/internal/domain/queue"
	"github.com/telepharm/consult/internal/domain/session"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/feed"
)

type memMessages struct {
	mu   sync.Mutex
	msgs []*chat.Message
}

func (m *memMessages) Create(_ context.Context, msg *chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now().Add(time.Duration(len(m.msgs)) * time.Millisecond)
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	return nil
}

func (m *memMessages) GetByID(_ context.Context, id uuid.UUID) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memMessages) ListSince(_ context.Context, sessionID uuid.UUID, since time.Time) ([]*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*chat.Message
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID && !msg.CreatedAt.Before(since) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memMessages) MarkRead(context.Context, uuid.UUID, uuid.UUID) (int64, error) {
	return 0, nil
}

type stubGate struct {
	known map[uuid.UUID]bool
}

func (g *stubGate) Get(_ context.Context, id uuid.UUID) (*session.ConsultationSession, error) {
	if !g.known[id] {
		return nil, db.ErrNotFound
	}
	return &session.ConsultationSession{ID: id, Status: session.StatusActive}, nil
}

type stubQueueStreams struct {
	changes []queue.StatusChange
	err     error
}

func (s *stubQueueStreams) Watch(ctx context.Context, entryID uuid.UUID) (<-chan queue.StatusChange, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan queue.StatusChange, len(s.changes))
	for _, c := range s.changes {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newStreamServer(t *testing.T, h *Handler) (*httptest.Server, string) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e.Group(""))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamQueueForwardsTransitions(t *testing.T) {
	entryID := uuid.New()
	streams := &stubQueueStreams{changes: []queue.StatusChange{
		{EntryID: entryID, Status: queue.StatusWaiting},
		{EntryID: entryID, Status: queue.StatusMatched},
	}}
	h := NewHandler(nil, streams, zerolog.Nop())
	_, wsURL := newStreamServer(t, h)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL+"/ws/queue/"+entryID.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for _, want := range []string{queue.StatusWaiting, queue.StatusMatched} {
		var change queue.StatusChange
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&change); err != nil {
			t.Fatal(err)
		}
		if change.Status != want {
			t.Errorf("expected %s, got %s", want, change.Status)
		}
	}

	// The server closes normally after the terminal transition.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected stream end")
	}
}

func TestStreamQueueUnknownEntry(t *testing.T) {
	h := NewHandler(nil, &stubQueueStreams{err: db.ErrNotFound}, zerolog.Nop())
	_, wsURL := newStreamServer(t, h)

	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL+"/ws/queue/"+uuid.New().String(), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake response, got %+v", resp)
	}
}

func TestStreamSessionDeliversPipelineEvents(t *testing.T) {
	store := &memMessages{}
	sessionID := uuid.New()
	sender := uuid.New()
	msg := &chat.Message{
		SessionID:   sessionID,
		SenderID:    sender,
		SenderType:  chat.SenderPatient,
		Content:     "hello",
		MessageType: chat.TypeText,
	}
	if err := store.Create(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	factory := chat.NewPipelineFactory(store, &stubGate{known: map[uuid.UUID]bool{sessionID: true}},
		nil, feed.NewBus(), 20*time.Millisecond, nil, zerolog.Nop())
	h := NewHandler(factory, nil, zerolog.Nop())
	_, wsURL := newStreamServer(t, h)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL+"/ws/sessions/"+sessionID.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var ev chat.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != chat.EventMessage || ev.Message == nil || ev.Message.Content != "hello" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestStreamSessionUnknownSession(t *testing.T) {
	factory := chat.NewPipelineFactory(&memMessages{}, &stubGate{known: map[uuid.UUID]bool{}},
		nil, feed.NewBus(), time.Second, nil, zerolog.Nop())
	h := NewHandler(factory, nil, zerolog.Nop())
	_, wsURL := newStreamServer(t, h)

	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL+"/ws/sessions/"+uuid.New().String(), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake response, got %+v", resp)
	}
}
