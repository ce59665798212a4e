package claim

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
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.GET("/claims", h.List)
	g.GET("/claims/:id", h.Get)
	g.POST("/claims", h.Create)
	g.POST("/claims/:id/queue", h.MarkPending)
	g.POST("/claims/:id/submit", h.Submit)
	g.POST("/claims/:id/process", h.StartProcessing)
	g.POST("/claims/:id/approve", h.Approve)
	g.POST("/claims/:id/deny", h.Deny)
	g.POST("/claims/:id/pay", h.MarkPaid)
	g.POST("/claims/:id/appeal", h.FileAppeal)
	g.POST("/claims/:id/close", h.Close)
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

func actor(c echo.Context) string {
	return auth.UserFromContext(c.Request().Context())
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CreatedBy == "" {
		in.CreatedBy = actor(c)
	}
	cl, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) List(c echo.Context) error {
	if number := c.QueryParam("number"); number != "" {
		cl, err := h.svc.GetByNumber(c.Request().Context(), number)
		if err != nil {
			return httpErr(err)
		}
		return c.JSON(http.StatusOK, cl)
	}
	if invoiceID := c.QueryParam("invoice_id"); invoiceID != "" {
		id, err := uuid.Parse(invoiceID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice_id")
		}
		items, err := h.svc.ListByInvoice(c.Request().Context(), id)
		if err != nil {
			return httpErr(err)
		}
		return c.JSON(http.StatusOK, items)
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

func (h *Handler) MarkPending(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.MarkPending(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.Submit(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) StartProcessing(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.StartProcessing(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		ApprovedAmount        int64 `json:"approved_amount"`
		PatientResponsibility int64 `json:"patient_responsibility"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.Approve(c.Request().Context(), id, body.ApprovedAmount, body.PatientResponsibility, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) Deny(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
		Code   string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.Deny(c.Request().Context(), id, body.Reason, body.Code, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		PaidAmount  int64  `json:"paid_amount"`
		CheckNumber string `json:"check_number"`
		ERANumber   string `json:"era_number"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.MarkPaid(c.Request().Context(), id, body.PaidAmount, body.CheckNumber, body.ERANumber, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) FileAppeal(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Note string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.FileAppeal(c.Request().Context(), id, body.Note, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) Close(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.Close(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, cl)
}
