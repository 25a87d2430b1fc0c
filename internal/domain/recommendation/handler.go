package recommendation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telepharm/consult/internal/domain/chat"
	"github.com/telepharm/consult/internal/platform/db"
)

type Handler struct {
	wf *Workflow
}

func NewHandler(wf *Workflow) *Handler {
	return &Handler{wf: wf}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions/:id/recommendations", h.Create)
	api.GET("/sessions/:id/recommendations", h.ListBySession)
	api.GET("/recommendations/:id", h.Get)
	api.POST("/recommendations/:id/accept", h.Accept)
	api.POST("/recommendations/:id/reject", h.Reject)
}

type createResponse struct {
	Recommendation *MedicationRecommendation `json:"recommendation"`
	Message        *chat.Message             `json:"message"`
}

func (h *Handler) Create(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.SessionID = sessionID

	rec, msg, err := h.wf.Create(c.Request().Context(), &in)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotPharmacist):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, chat.ErrSessionNotActive):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, db.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, createResponse{Recommendation: rec, Message: msg})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.wf.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "recommendation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListBySession(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	status := c.QueryParam("status")
	switch status {
	case "", StatusPending, StatusAccepted, StatusRejected:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}
	items, err := h.wf.ListBySession(c.Request().Context(), sessionID, status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*MedicationRecommendation{}
	}
	return c.JSON(http.StatusOK, items)
}

type decideRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Note      *string   `json:"note,omitempty"`
}

func (h *Handler) Accept(c echo.Context) error {
	return h.decide(c, StatusAccepted)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, StatusRejected)
}

func (h *Handler) decide(c echo.Context, status string) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req decideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var rec *MedicationRecommendation
	if status == StatusAccepted {
		rec, err = h.wf.Accept(ctx, id, req.PatientID)
	} else {
		rec, err = h.wf.Reject(ctx, id, req.PatientID, req.Note)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyDecided):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrNotPatient):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, db.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "recommendation not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, rec)
}
