package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dentledger/dentledger/internal/platform/docstore"
	"github.com/dentledger/dentledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/clinics/:clinicId/patients")
	g.GET("", h.ListPatients)
	g.GET("/profile", h.GetProfile)
	g.POST("/merge", h.MergeProfiles)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	profiles, err := h.svc.ListByClinic(c.Request().Context(), c.Param("clinicId"), c.QueryParam("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	start, end := pg.Slice(len(profiles))
	return c.JSON(http.StatusOK, pagination.NewResponse(profiles[start:end], len(profiles), pg.Limit, pg.Offset))
}

func (h *Handler) GetProfile(c echo.Context) error {
	key := NewIdentityKey(c.Param("clinicId"), c.QueryParam("name"), c.QueryParam("chartId"))
	if key.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	p, err := h.svc.Get(c.Request().Context(), key)
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

type mergeRequest struct {
	Name       string `json:"name"`
	OldChartID string `json:"oldChartId"`
	NewChartID string `json:"newChartId"`
}

// MergeProfiles migrates a profile to a newly learned or corrected chart id.
func (h *Handler) MergeProfiles(c echo.Context) error {
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Name == "" || req.NewChartID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and newChartId are required")
	}
	oldKey := NewIdentityKey(c.Param("clinicId"), req.Name, req.OldChartID)
	p, err := h.svc.Merge(c.Request().Context(), oldKey, req.NewChartID)
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
