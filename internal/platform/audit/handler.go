package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/kidneysphere/registry/internal/platform/auth"
)

var auditedTables = map[string]bool{
	"visit":         true,
	"lab_result":    true,
	"medication":    true,
	"outcome_event": true,
	"subject":       true,
}

type Handler struct {
	trail *Trail
}

func NewHandler(trail *Trail) *Handler {
	return &Handler{trail: trail}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "investigator", "monitor"))
	read.GET("/audit/:table/:id", h.ListByRecord)
}

func (h *Handler) ListByRecord(c echo.Context) error {
	table := c.Param("table")
	if !auditedTables[table] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown audited table")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.trail.ListByRecord(c.Request().Context(), table, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}
