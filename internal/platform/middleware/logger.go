package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibill/medibill/internal/platform/auth"
)

// Logger emits one structured line per request. Billing traffic is audited,
// so every line carries the request id and the authenticated subject; client
// errors log at warn and server errors at error so cap rejections and
// validation noise don't page anyone.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			// On a handler error echo writes the response after the chain
			// unwinds, so lean on the error itself rather than the status.
			status := c.Response().Status
			var evt *zerolog.Event
			switch {
			case err != nil || status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}

			// Auth runs deeper in the chain; the request on the echo
			// context carries its identity by the time next returns.
			evt.
				Str("request_id", requestID(c)).
				Str("user", auth.UserFromContext(c.Request().Context())).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Int64("bytes_out", c.Response().Size).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
