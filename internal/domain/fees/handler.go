package fees

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/pkg/errs"
)

type Handler struct {
	resolver *Resolver
	repo     Repository
}

func NewHandler(resolver *Resolver, repo Repository) *Handler {
	return &Handler{resolver: resolver, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "billing"))
	read.GET("/prices/resolve", h.Resolve)

	// Catalogue maintenance is an admin concern.
	admin := api.Group("", auth.RequireRole("admin"))
	admin.PUT("/billing-codes", h.UpsertBillingCode)
	admin.PUT("/fee-schedule", h.UpsertScheduleEntry)
	admin.PUT("/convention-prices", h.UpsertConventionPrice)
}

func httpErr(err error) error {
	return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
}

func (h *Handler) Resolve(c echo.Context) error {
	q := Query{Code: c.QueryParam("code"), AsOf: time.Now()}
	if q.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	if raw := c.QueryParam("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
		}
		q.ClinicID = &id
	} else if raw := db.ClinicFromContext(c.Request().Context()); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			q.ClinicID = &id
		}
	}
	if raw := c.QueryParam("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid company_id")
		}
		q.CompanyID = &id
	}
	if raw := c.QueryParam("as_of"); raw != "" {
		asOf, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be RFC 3339")
		}
		q.AsOf = asOf
	}

	price, err := h.resolver.Resolve(c.Request().Context(), q)
	if err != nil {
		return httpErr(err)
	}
	if price == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no price for code "+q.Code)
	}
	return c.JSON(http.StatusOK, price)
}

func (h *Handler) UpsertBillingCode(c echo.Context) error {
	var bc BillingCode
	if err := c.Bind(&bc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if bc.Code == "" || bc.BasePrice < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required and base_price must not be negative")
	}
	if err := h.repo.UpsertBillingCode(c.Request().Context(), &bc); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, bc)
}

func (h *Handler) UpsertScheduleEntry(c echo.Context) error {
	var e ScheduleEntry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if e.Code == "" || e.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required and price must not be negative")
	}
	if e.EffectiveFrom.IsZero() {
		e.EffectiveFrom = time.Now()
	}
	if err := h.repo.UpsertScheduleEntry(c.Request().Context(), &e); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpsertConventionPrice(c echo.Context) error {
	var cp ConventionPrice
	if err := c.Bind(&cp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cp.CompanyID == uuid.Nil || cp.Code == "" || cp.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id, code and a non-negative price are required")
	}
	if cp.EffectiveFrom.IsZero() {
		cp.EffectiveFrom = time.Now()
	}
	if err := h.repo.UpsertConventionPrice(c.Request().Context(), &cp); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cp)
}
