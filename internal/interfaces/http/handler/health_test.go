package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		path       string
		checks     map[string]CheckFunc
		wantStatus int
		wantBody   string
	}{
		{
			name:       "liveness ignores dependencies",
			path:       "/health",
			checks:     map[string]CheckFunc{"database": down},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy"}`,
		},
		{
			name:       "ready",
			path:       "/ready",
			checks:     map[string]CheckFunc{"database": ok, "redis": ok},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready","checks":{"database":"ok","redis":"ok"}}`,
		},
		{
			name:       "not ready",
			path:       "/ready",
			checks:     map[string]CheckFunc{"database": ok, "redis": down},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unavailable","checks":{"database":"ok","redis":"error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks)
			router := gin.New()
			router.GET("/health", h.Health)
			router.GET("/ready", h.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
