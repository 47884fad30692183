package sync

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
	g := api.Group("/clinics/:clinicId")
	g.POST("/ledgers/:date/sync", h.Sync)
	g.GET("/roster", h.GetRoster)
	g.PUT("/roster", h.SetRoster)
}

func (h *Handler) Sync(c echo.Context) error {
	res, err := h.svc.Sync(c.Request().Context(), c.Param("clinicId"), c.Param("date"))
	if errors.Is(err, ErrNoRoster) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetRoster(c echo.Context) error {
	r, err := h.svc.GetRoster(c.Request().Context(), c.Param("clinicId"))
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "roster not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SetRoster(c echo.Context) error {
	var r Roster
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	r.ClinicID = c.Param("clinicId")
	if err := h.svc.SetRoster(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}
