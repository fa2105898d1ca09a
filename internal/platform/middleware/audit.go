package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psyrehab/rehab/internal/platform/auth"
)

// Audit writes one structured line per state-changing request: who did what
// to which resource, and how it ended. Reads are not audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			evt := logger.Info().
				Str("type", "audit").
				Str("request_id", requestID(c)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("roles", auth.RolesFromContext(ctx)).
				Str("method", req.Method).
				Str("route", c.Path()).
				Int("status", status)
			for i, name := range c.ParamNames() {
				evt = evt.Str(name, c.ParamValues()[i])
			}
			evt.Msg("audit")
			return err
		}
	}
}
