package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check is one dependency probed by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

func runChecks(ctx context.Context, checks []Check) (bool, map[string]string) {
	ok := true
	results := make(map[string]string, len(checks))
	for _, chk := range checks {
		if err := chk.Ping(ctx); err != nil {
			ok = false
			results[chk.Name] = err.Error()
			continue
		}
		results[chk.Name] = "ok"
	}
	return ok, results
}

// HealthHandler pings Postgres and any extra dependencies (Redis, the
// broker) and answers 503 if one of them fails.
func HealthHandler(pool *pgxpool.Pool, extra ...Check) echo.HandlerFunc {
	checks := extra
	if pool != nil {
		checks = append([]Check{{Name: "postgres", Ping: pool.Ping}}, extra...)
	}
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		healthy, results := runChecks(ctx, checks)
		report := healthReport{Status: "healthy", Checks: results}
		if pool != nil {
			report.Pool = GetPoolStats(pool)
		}
		if !healthy {
			report.Status = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
