package queue

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/pkg/pagination"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/queue/join", h.Join)
	api.GET("/queue/waiting", h.ListWaiting)
	api.GET("/queue/:id", h.Get)
	api.GET("/queue/:id/position", h.Position)
	api.POST("/queue/:id/cancel", h.Cancel)
}

type joinRequest struct {
	PatientID uuid.UUID       `json:"patient_id"`
	Symptoms  []string        `json:"symptoms"`
	Notes     json.RawMessage `json:"notes,omitempty"`
}

func (h *Handler) Join(c echo.Context) error {
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	notes, err := ParseNotes(req.Notes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.coord.Join(c.Request().Context(), req.PatientID, req.Symptoms, notes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.coord.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Position(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pos, err := h.coord.Position(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pos)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.coord.Cancel(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyMatched):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, db.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWaiting(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.coord.ListWaiting(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
