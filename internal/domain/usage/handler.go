package usage

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/pkg/errs"
	"github.com/medibill/medibill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.GET("/usage", h.Get)
	g.GET("/companies/:id/usage", h.ListByCompany)
	g.POST("/usage/rebuild", h.Rebuild)
}

func fiscalYearParam(c echo.Context) int {
	if y, err := strconv.Atoi(c.QueryParam("fiscal_year")); err == nil && y > 0 {
		return y
	}
	return FiscalYearOf(time.Now())
}

func (h *Handler) Get(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	companyID, err := uuid.Parse(c.QueryParam("company_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id is required")
	}
	rec, err := h.svc.Get(c.Request().Context(), patientID, companyID, fiscalYearParam(c))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no usage recorded")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListByCompany(c echo.Context) error {
	companyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByCompany(c.Request().Context(), companyID, fiscalYearParam(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Rebuild(c echo.Context) error {
	var body struct {
		PatientID  uuid.UUID `json:"patient_id"`
		CompanyID  uuid.UUID `json:"company_id"`
		FiscalYear int       `json:"fiscal_year"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.PatientID == uuid.Nil || body.CompanyID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and company_id are required")
	}
	if body.FiscalYear == 0 {
		body.FiscalYear = FiscalYearOf(time.Now())
	}
	rec, err := h.svc.RebuildFromInvoices(c.Request().Context(), body.PatientID, body.CompanyID, body.FiscalYear)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
