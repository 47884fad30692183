package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dentledger/dentledger/internal/platform/auth"
	"github.com/dentledger/dentledger/internal/platform/docstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/clinics/:clinicId/ledgers")
	g.GET("", h.ListMonth)
	g.GET("/:date", h.GetDay)
	g.GET("/:date/export", h.ExportDay)
	g.GET("/:date/audit", h.GetAudit)
	g.POST("/:date/rows", h.CreateRow)
	g.PUT("/:date/rows/:rowId", h.UpdateRow)
	g.DELETE("/:date/rows/:rowId", h.DeleteRow)
	g.POST("/:date/expenditures", h.AddExpenditure)
	g.DELETE("/:date/expenditures/:index", h.RemoveExpenditure)
	g.POST("/:date/lock", h.Lock)
	g.POST("/:date/unlock", h.Unlock, auth.RequireRole("admin"))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrLocked), errors.Is(err, ErrNotLocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrRowNotFound), errors.Is(err, docstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotManual), errors.Is(err, docstore.ErrExists):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListMonth(c echo.Context) error {
	month := c.QueryParam("month")
	if month == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "month is required (YYYY-MM)")
	}
	ledgers, err := h.svc.ListMonth(c.Request().Context(), c.Param("clinicId"), month)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ledgers)
}

func (h *Handler) GetDay(c echo.Context) error {
	l, err := h.svc.GetDay(c.Request().Context(), c.Param("clinicId"), c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ExportDay(c echo.Context) error {
	out, err := h.svc.ExportDay(c.Request().Context(), c.Param("clinicId"), c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetAudit(c echo.Context) error {
	l, err := h.svc.GetDay(c.Request().Context(), c.Param("clinicId"), c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l.AuditLog)
}

func (h *Handler) CreateRow(c echo.Context) error {
	var row Row
	if err := c.Bind(&row); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	l, err := h.svc.CreateManualRow(c.Request().Context(), c.Param("clinicId"), c.Param("date"), row, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) UpdateRow(c echo.Context) error {
	var row Row
	if err := c.Bind(&row); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	l, err := h.svc.UpdateRow(c.Request().Context(), c.Param("clinicId"), c.Param("date"), c.Param("rowId"), row, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteRow(c echo.Context) error {
	l, err := h.svc.DeleteRow(c.Request().Context(), c.Param("clinicId"), c.Param("date"), c.Param("rowId"), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) AddExpenditure(c echo.Context) error {
	var e Expenditure
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if e.Item == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "item is required")
	}
	l, err := h.svc.AddExpenditure(c.Request().Context(), c.Param("clinicId"), c.Param("date"), e, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) RemoveExpenditure(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	l, err := h.svc.RemoveExpenditure(c.Request().Context(), c.Param("clinicId"), c.Param("date"), index, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Lock(c echo.Context) error {
	l, err := h.svc.Lock(c.Request().Context(), c.Param("clinicId"), c.Param("date"), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return httpError(err)
		}
		if l != nil {
			// The lock committed but aggregation needs a retry.
			return echo.NewHTTPError(http.StatusAccepted, err.Error())
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Unlock(c echo.Context) error {
	l, err := h.svc.Unlock(c.Request().Context(), c.Param("clinicId"), c.Param("date"), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}
