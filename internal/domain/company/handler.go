package company

import (
	"net/http"

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
	read := api.Group("", auth.RequireRole("admin", "billing"))
	read.GET("/companies", h.List)
	read.GET("/companies/:id", h.Get)
	read.GET("/companies/:id/approvals", h.ListApprovals)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/companies", h.Create)
	write.PUT("/companies/:id", h.Update)
	write.POST("/companies/:id/deactivate", h.Deactivate)
	write.POST("/approvals", h.RequestApproval)
	write.POST("/approvals/:id/decide", h.DecideApproval)
}

func httpErr(err error) error {
	return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
}

func (h *Handler) Create(c echo.Context) error {
	var comp Company
	if err := c.Bind(&comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &comp); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, comp)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	comp, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, comp)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	items, total, err := h.svc.List(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	current, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	var comp Company
	if err := c.Bind(&comp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	comp.ID = id
	comp.Version = current.Version
	if err := h.svc.Update(c.Request().Context(), &comp); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, comp)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return httpErr(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RequestApproval(c echo.Context) error {
	var in ApprovalInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RequestApproval(c.Request().Context(), in)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DecideApproval(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Grant bool `json:"grant"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.DecideApproval(c.Request().Context(), id, body.Grant, auth.UserFromContext(c.Request().Context()))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListApprovals(c echo.Context) error {
	companyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	items, err := h.svc.ActiveApprovals(c.Request().Context(), companyID, patientID)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, items)
}
