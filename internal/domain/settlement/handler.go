package settlement

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/pkg/errs"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.POST("/invoices/:id/convention", h.ApplyConvention)
}

func (h *Handler) ApplyConvention(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		CompanyID uuid.UUID `json:"company_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.CompanyID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id is required")
	}
	inv, err := h.coord.ApplyConvention(c.Request().Context(), invoiceID, body.CompanyID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}
