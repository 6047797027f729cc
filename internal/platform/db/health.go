package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check probes one backing store.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
	// Details is reported alongside the result when set.
	Details func() interface{}
}

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// PoolCheck reports on a pgx pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Name: "postgres",
		Ping: pool.Ping,
		Details: func() interface{} {
			stat := pool.Stat()
			return &PoolStats{
				TotalConns:      stat.TotalConns(),
				IdleConns:       stat.IdleConns(),
				AcquiredConns:   stat.AcquiredConns(),
				MaxConns:        stat.MaxConns(),
				AcquireCount:    stat.AcquireCount(),
				AcquireDuration: stat.AcquireDuration().String(),
			}
		},
	}
}

type checkResult struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// HealthHandler runs every check with a shared timeout. Any failure turns
// the response into a 503.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(map[string]checkResult, len(checks))
		for _, chk := range checks {
			r := checkResult{Status: "healthy"}
			if err := chk.Ping(ctx); err != nil {
				r.Status, r.Error = "unhealthy", err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			if chk.Details != nil {
				r.Details = chk.Details()
			}
			results[chk.Name] = r
		}

		return c.JSON(code, map[string]interface{}{
			"status": status,
			"checks": results,
		})
	}
}
