package chat

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telepharm/consult/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions/:id/messages", h.Send)
	api.GET("/sessions/:id/messages", h.History)
	api.POST("/sessions/:id/read", h.MarkRead)
}

type sendRequest struct {
	SenderID uuid.UUID `json:"sender_id"`
	Content  string    `json:"content"`
}

func (h *Handler) Send(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.svc.Send(c.Request().Context(), sessionID, req.SenderID, req.Content)
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) History(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	msgs, err := h.svc.History(c.Request().Context(), sessionID)
	if err != nil {
		return chatError(err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

type markReadRequest struct {
	ReaderID uuid.UUID `json:"reader_id"`
}

func (h *Handler) MarkRead(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	count, err := h.svc.MarkRead(c.Request().Context(), sessionID, req.ReaderID)
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": count})
}

func chatError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSessionNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
