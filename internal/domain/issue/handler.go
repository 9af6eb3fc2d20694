package issue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/kidneysphere/registry/internal/platform/auth"
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
	read.GET("/issues/:id", h.GetIssue)
	read.GET("/subjects/:id/issues", h.ListBySubject)
	read.GET("/studies/:id/issues", h.ListByStudy)
	read.GET("/studies/:id/quality-stats", h.QualityStats)

	// Manual lifecycle transitions are a data-monitor concern.
	manage := api.Group("", auth.RequireRole("admin", "monitor"))
	manage.POST("/issues/:id/in-progress", h.MarkInProgress)
	manage.POST("/issues/:id/wont-fix", h.CloseWontFix)
}

func (h *Handler) GetIssue(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	iss, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "issue not found")
	}
	return c.JSON(http.StatusOK, iss)
}

func (h *Handler) ListBySubject(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	pg := pagination.FromContext(c)
	issues, total, err := h.svc.ListBySubject(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(issues, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByStudy(c echo.Context) error {
	studyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid study id")
	}
	status := c.QueryParam("status")
	switch status {
	case "", StatusOpen, StatusInProgress, StatusResolved, StatusWontFix:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}
	pg := pagination.FromContext(c)
	issues, total, err := h.svc.ListByStudy(c.Request().Context(), studyID, status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(issues, total, pg.Limit, pg.Offset))
}

func (h *Handler) QualityStats(c echo.Context) error {
	studyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid study id")
	}
	stats, err := h.svc.Stats(c.Request().Context(), studyID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) MarkInProgress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	iss, err := h.svc.MarkInProgress(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, iss)
}

type wontFixRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CloseWontFix(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req wontFixRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	iss, err := h.svc.CloseWontFix(c.Request().Context(), id, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, iss)
}
