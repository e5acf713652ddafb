package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPing(context.Context) error   { return nil }
func downPing(context.Context) error { return errors.New("connection refused") }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		postgres PingFunc
		redis    Pinger
		code     int
		status   string
	}{
		{"all up", okPing, PingFunc(okPing), http.StatusOK, "ok"},
		{"redis down", okPing, PingFunc(downPing), http.StatusOK, "degraded"},
		{"postgres down", downPing, PingFunc(okPing), http.StatusServiceUnavailable, "error"},
		{"no redis configured", okPing, nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, "v1", resp.Version)
		})
	}
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(PingFunc(downPing), nil, "test", "v1")
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
