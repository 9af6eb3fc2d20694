package record

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/kidneysphere/registry/internal/domain/study"
	"github.com/kidneysphere/registry/internal/platform/auth"
	"github.com/kidneysphere/registry/internal/platform/quality"
	"github.com/kidneysphere/registry/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "investigator", "coordinator", "monitor"))
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/labs/:id", h.GetLab)
	read.GET("/medications/:id", h.GetMedication)
	read.GET("/events/:id", h.GetEvent)
	read.GET("/subjects/:id/visits", h.ListVisits)
	read.GET("/subjects/:id/labs", h.ListLabs)
	read.GET("/subjects/:id/medications", h.ListMedications)
	read.GET("/subjects/:id/events", h.ListEvents)

	write := api.Group("", auth.RequireRole("admin", "coordinator"))
	write.POST("/visits", h.SubmitVisit)
	write.PUT("/visits/:id", h.UpdateVisit)
	write.POST("/labs", h.SubmitLab)
	write.PUT("/labs/:id", h.UpdateLab)
	write.POST("/medications", h.SubmitMedication)
	write.PUT("/medications/:id", h.UpdateMedication)
	write.POST("/events", h.SubmitEvent)
	write.PUT("/events/:id", h.UpdateEvent)
	write.DELETE("/visits/:id", h.invalidate(TypeVisit))
	write.DELETE("/labs/:id", h.invalidate(TypeLab))
	write.DELETE("/medications/:id", h.invalidate(TypeMedication))
	write.DELETE("/events/:id", h.invalidate(TypeEvent))
}

// writeError maps the quality-engine error taxonomy onto HTTP statuses:
// blocking rejection 422, acknowledgment required 409, closed write gate
// 403, infrastructure failure 503.
func writeError(c echo.Context, err error) error {
	var rej *quality.RejectionError
	if errors.As(err, &rej) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":            "submission rejected",
			"blocking_reasons": rej.Reasons,
		})
	}
	var ack *quality.AckRequiredError
	if errors.As(err, &ack) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   "acknowledgment required: resubmit with a justification",
			"reasons": ack.Reasons,
		})
	}
	var gate *study.ErrWriteGateClosed
	if errors.As(err, &gate) {
		return echo.NewHTTPError(http.StatusForbidden, gate.Error())
	}
	var infra *quality.InfraError
	if errors.As(err, &infra) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage temporarily unavailable, retry the submission")
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if errors.Is(err, ErrSubjectInvalidated) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) SubmitVisit(c echo.Context) error {
	var v Visit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SubmitVisit(c.Request().Context(), &v, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var v Visit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.ID = id
	if err := h.svc.UpdateVisit(c.Request().Context(), &v, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListVisits(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) SubmitLab(c echo.Context) error {
	var l LabResult
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SubmitLab(c.Request().Context(), &l, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) UpdateLab(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var l LabResult
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l.ID = id
	if err := h.svc.UpdateLab(c.Request().Context(), &l, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetLab(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.svc.GetLab(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "lab result not found")
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLabs(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	pg := pagination.FromContext(c)
	labs, total, err := h.svc.ListLabs(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(labs, total, pg.Limit, pg.Offset))
}

func (h *Handler) SubmitMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SubmitMedication(c.Request().Context(), &m, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) UpdateMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.ID = id
	if err := h.svc.UpdateMedication(c.Request().Context(), &m, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	pg := pagination.FromContext(c)
	meds, total, err := h.svc.ListMedications(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(meds, total, pg.Limit, pg.Offset))
}

func (h *Handler) SubmitEvent(c echo.Context) error {
	var e OutcomeEvent
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SubmitEvent(c.Request().Context(), &e, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) UpdateEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var e OutcomeEvent
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.ID = id
	if err := h.svc.UpdateEvent(c.Request().Context(), &e, auth.SubjectFromContext(c.Request().Context())); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEvent(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEvents(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	pg := pagination.FromContext(c)
	events, total, err := h.svc.ListEvents(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

func (h *Handler) invalidate(recordType string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		reason := c.QueryParam("reason")
		actor := auth.SubjectFromContext(c.Request().Context())
		if err := h.svc.Invalidate(c.Request().Context(), recordType, id, actor, reason); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
