package session

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telepharm/consult/internal/domain/availability"
	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/pkg/pagination"
)

type Handler struct {
	matcher *Matcher
	svc     *Service
}

func NewHandler(matcher *Matcher, svc *Service) *Handler {
	return &Handler{matcher: matcher, svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/queue/:id/match", h.Match)
	api.POST("/pharmacists/:id/match-next", h.MatchNext)
	api.GET("/sessions/:id", h.Get)
	api.POST("/sessions/:id/end", h.End)
	api.GET("/patients/:id/sessions", h.ListByPatient)
}

type matchRequest struct {
	PharmacistID uuid.UUID `json:"pharmacist_id"`
}

// Match claims the queue entry. With a pharmacist_id the claim is on their
// behalf; without one the least-loaded free pharmacist is picked.
func (h *Handler) Match(c echo.Context) error {
	entryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var sess *ConsultationSession
	if req.PharmacistID == uuid.Nil {
		sess, err = h.matcher.AttemptMatchAuto(ctx, entryID)
	} else {
		sess, err = h.matcher.AttemptMatch(ctx, entryID, req.PharmacistID)
	}
	if err != nil {
		return matchError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) MatchNext(c echo.Context) error {
	pharmacistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.matcher.MatchNext(c.Request().Context(), pharmacistID)
	if err != nil {
		return matchError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func matchError(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, availability.ErrPharmacistBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoneWaiting),
		errors.Is(err, availability.ErrNoFreePharmacist):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

type endRequest struct {
	RequestedBy uuid.UUID `json:"requested_by"`
}

func (h *Handler) End(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req endRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.End(c.Request().Context(), id, req.RequestedBy)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotParticipant):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrSessionEnded):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, db.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
