package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// requestID reads the id RequestID stored on the echo context. Logger and
// Recovery share it so a panic and its request line correlate.
func requestID(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}

// RequestID reuses the inbound request id when present, otherwise mints one.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
