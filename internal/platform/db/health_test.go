package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks ...Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	code, body := runHealth(t,
		Check{Name: "redis", Ping: func(context.Context) error { return nil }},
		Check{Name: "postgres", Ping: func(context.Context) error { return nil },
			Details: func() interface{} { return &PoolStats{TotalConns: 2, MaxConns: 10} }},
	)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("expected healthy 200, got %d %v", code, body)
	}
	checks := body["checks"].(map[string]interface{})
	pg := checks["postgres"].(map[string]interface{})
	details := pg["details"].(map[string]interface{})
	if details["max_conns"] != float64(10) {
		t.Errorf("expected pool details, got %v", pg)
	}
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	code, body := runHealth(t,
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %v", code, body)
	}
	redis := body["checks"].(map[string]interface{})["redis"].(map[string]interface{})
	if redis["error"] != "connection refused" {
		t.Errorf("expected error detail, got %v", redis)
	}
}

func TestHealthHandler_NoChecks(t *testing.T) {
	code, body := runHealth(t)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("expected healthy with no checks, got %d %v", code, body)
	}
}
