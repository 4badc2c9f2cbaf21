package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	do := func(checks map[string]HealthCheck) (*httptest.ResponseRecorder, map[string]any) {
		h := NewHealthHandler(checks)
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		h.Health(rec, req)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	t.Run("all probes healthy", func(t *testing.T) {
		rec, body := do(map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return nil },
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", body["status"])
	})

	t.Run("one failing probe degrades the daemon", func(t *testing.T) {
		rec, body := do(map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		})
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "degraded", body["status"])

		checks := body["checks"].(map[string]any)
		require.Equal(t, "ok", checks["postgres"])
		require.Equal(t, "connection refused", checks["redis"])
	})

	t.Run("no probes means healthy", func(t *testing.T) {
		rec, body := do(nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", body["status"])
	})
}
