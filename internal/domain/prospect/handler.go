package prospect

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/clinics/:clinicId/prospects")
	g.GET("", h.List)
	g.PUT("", h.Upsert)
	g.DELETE("", h.Hide)
}

func (h *Handler) List(c echo.Context) error {
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to are required (YYYY-MM-DD)")
	}
	includeHidden := c.QueryParam("includeHidden") == "true"
	records, err := h.svc.List(c.Request().Context(), c.Param("clinicId"), from, to, includeHidden)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) Upsert(c echo.Context) error {
	var rec Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	rec.ClinicID = c.Param("clinicId")
	out, err := h.svc.Upsert(c.Request().Context(), rec)
	if errors.Is(err, ErrInvalidRecord) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Hide(c echo.Context) error {
	date, name := c.QueryParam("date"), c.QueryParam("name")
	if date == "" || name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date and name are required")
	}
	out, err := h.svc.Hide(c.Request().Context(), c.Param("clinicId"), date, name)
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "prospect not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}
