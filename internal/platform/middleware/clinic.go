package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/db"
)

const ClinicIDHeader = "X-Clinic-ID"

// ClinicScope reads the clinic a request operates on from the X-Clinic-ID
// header and carries it on the request context, where invoice creation and
// fee resolution pick it up as their default clinic. The header is optional;
// central-office requests simply omit it.
func ClinicScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(ClinicIDHeader)
			if raw == "" {
				return next(c)
			}
			if _, err := uuid.Parse(raw); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id header")
			}
			ctx := db.WithClinic(c.Request().Context(), raw)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
