// Package auth carries user identity and roles for the billing API. Tokens
// are HS256 JWTs issued by the platform identity service; in development mode
// every request is treated as an admin so the API can be exercised locally.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userKey  contextKey = "auth_user"
	rolesKey contextKey = "auth_roles"
)

// Claims are the token claims the billing service cares about.
type Claims struct {
	Roles []string `json:"roles"`
	Name  string   `json:"name"`
	jwt.RegisteredClaims
}

// Middleware validates the bearer token and stores identity on the request
// context. With an empty secret (development) it grants admin to everything.
func Middleware(secret, issuer string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				ctx := withUser(c.Request().Context(), "dev", []string{"admin"})
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithIssuer(issuer))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := withUser(c.Request().Context(), claims.Subject, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireRole returns middleware that lets the request through when the user
// holds any of the given roles. Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func withUser(ctx context.Context, user string, roles []string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, rolesKey, roles)
}

// UserFromContext returns the authenticated subject, or "".
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}

// RolesFromContext returns the roles on the context.
func RolesFromContext(ctx context.Context) []string {
	r, _ := ctx.Value(rolesKey).([]string)
	return r
}
