package subject

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
	read.GET("/subjects/:id", h.GetSubject)
	read.GET("/studies/:id/subjects", h.ListByStudy)

	write := api.Group("", auth.RequireRole("admin", "coordinator"))
	write.POST("/subjects", h.CreateSubject)
	write.PUT("/subjects/:id", h.UpdateSubject)
	write.DELETE("/subjects/:id", h.InvalidateSubject)
}

func (h *Handler) CreateSubject(c echo.Context) error {
	var sub Subject
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) GetSubject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sub, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) UpdateSubject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var sub Subject
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub.ID = id
	if err := h.svc.Update(c.Request().Context(), &sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) InvalidateSubject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Invalidate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subject not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListByStudy(c echo.Context) error {
	studyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid study id")
	}
	pg := pagination.FromContext(c)
	subjects, total, err := h.svc.ListByStudy(c.Request().Context(), studyID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(subjects, total, pg.Limit, pg.Offset))
}
