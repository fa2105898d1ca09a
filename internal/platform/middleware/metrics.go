package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/psyrehab/rehab/internal/platform/metrics"
)

// Metrics records request latency by route template so that ids in the path
// do not explode label cardinality.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.RecordHTTPRequestDuration(c.Request().Method, path, strconv.Itoa(status), time.Since(start))
			return err
		}
	}
}
