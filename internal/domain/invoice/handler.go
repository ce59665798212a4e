package invoice

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/pkg/errs"
	"github.com/medibill/medibill/pkg/pagination"
)

// RateConverter converts a minor-unit amount between currencies. Conversion
// is best effort; a degraded provider never blocks the balance read.
type RateConverter interface {
	Convert(ctx context.Context, amount int64, from, to string) (int64, error)
}

type Handler struct {
	svc   *Service
	rates RateConverter
}

func NewHandler(svc *Service, rates RateConverter) *Handler {
	return &Handler{svc: svc, rates: rates}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.GET("/invoices", h.List)
	g.GET("/invoices/:id", h.Get)
	g.GET("/invoices/:id/balance", h.Balance)
	g.POST("/invoices", h.Create)
	g.POST("/invoices/:id/issue", h.Issue)
	g.POST("/invoices/:id/send", h.MarkSent)
	g.POST("/invoices/:id/view", h.MarkViewed)
	g.POST("/invoices/:id/payments", h.AddPayment)
	g.POST("/invoices/:id/payments/:paymentID/clear", h.ClearPayment)
	g.POST("/invoices/:id/refunds", h.IssueRefund)
	g.POST("/invoices/:id/reminders", h.SendReminder)
	g.POST("/invoices/:id/cancel", h.Cancel)
}

func httpErr(err error) error {
	return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) List(c echo.Context) error {
	if number := c.QueryParam("number"); number != "" {
		inv, err := h.svc.GetByNumber(c.Request().Context(), number)
		if err != nil {
			return httpErr(err)
		}
		return c.JSON(http.StatusOK, inv)
	}
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Balance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Get(ctx, id)
	if err != nil {
		return httpErr(err)
	}
	resp := map[string]any{
		"amount_due": inv.Summary.AmountDue,
		"currency":   inv.Currency,
	}
	if want := c.QueryParam("currency"); want != "" && want != inv.Currency && h.rates != nil {
		converted, err := h.rates.Convert(ctx, inv.Summary.AmountDue, inv.Currency, want)
		if err != nil {
			resp["conversion_error"] = "rate unavailable"
		} else {
			resp["converted_amount"] = converted
			resp["converted_currency"] = want
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Issue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		DueDate *time.Time `json:"due_date"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.Issue(c.Request().Context(), id, body.DueDate)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkSent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.MarkSent(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkViewed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.MarkViewed(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.ReceivedBy == "" {
		if user := auth.UserFromContext(c.Request().Context()); user != "" {
			in.ReceivedBy = user
		}
	}
	inv, err := h.svc.AddPayment(c.Request().Context(), id, in)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ClearPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.ClearPayment(c.Request().Context(), id, c.Param("paymentID"))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) IssueRefund(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in RefundInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.IssueRefund(c.Request().Context(), id, in)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) SendReminder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Channel string `json:"channel"`
		Note    string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.SendReminder(c.Request().Context(), id, body.Channel, body.Note)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}
