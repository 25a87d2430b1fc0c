// Package websocket streams consultation state to browser clients: the
// merged chat pipeline per session and status transitions per queue entry.
package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/domain/chat"
	"github.com/telepharm/consult/internal/domain/queue"
	"github.com/telepharm/consult/internal/platform/db"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// SessionStreams opens a started delivery pipeline per connection;
// *chat.PipelineFactory satisfies it.
type SessionStreams interface {
	Open(ctx context.Context, sessionID uuid.UUID) (*chat.Pipeline, error)
}

// QueueStreams emits status transitions for one entry; *queue.Watcher
// satisfies it.
type QueueStreams interface {
	Watch(ctx context.Context, entryID uuid.UUID) (<-chan queue.StatusChange, error)
}

// Handler upgrades HTTP connections and forwards stream events as JSON
// frames until the client disconnects or the stream ends.
type Handler struct {
	sessions SessionStreams
	queues   QueueStreams
	logger   zerolog.Logger
}

func NewHandler(sessions SessionStreams, queues QueueStreams, logger zerolog.Logger) *Handler {
	return &Handler{sessions: sessions, queues: queues, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/sessions/:id", h.StreamSession)
	g.GET("/ws/queue/:id", h.StreamQueue)
}

// StreamSession attaches a delivery pipeline to the session and forwards its
// merged event stream. Closing the socket tears the pipeline down.
func (h *Handler) StreamSession(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Open before upgrading so an unknown session is still a plain 404.
	pipeline, err := h.sessions.Open(ctx, sessionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer pipeline.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	go h.readUntilClose(ws, cancel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-pipeline.Events():
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}

// StreamQueue forwards the entry's status transitions. The stream ends by
// itself once the entry reaches a terminal status.
func (h *Handler) StreamQueue(c echo.Context) error {
	entryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	changes, err := h.queues.Watch(ctx, entryID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	go h.readUntilClose(ws, cancel)

	for change := range changes {
		if err := ws.WriteJSON(change); err != nil {
			return nil
		}
	}
	// Terminal status reached; tell the client the stream is complete.
	_ = ws.WriteMessage(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
	return nil
}

// readUntilClose drains inbound frames so client pings and close frames are
// processed, cancelling the stream when the peer goes away.
func (h *Handler) readUntilClose(ws *gorillawebsocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
