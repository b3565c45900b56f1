package klaviyo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shipnotify/backend/internal/domain/shared"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Endpoint: DefaultEndpoint}},
		{name: "missing endpoint", cfg: Config{}, wantErr: true},
		{name: "relative endpoint", cfg: Config{Endpoint: "api/track"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
		})
	}
}

func TestClient_Track(t *testing.T) {
	payload := []byte(`{"token":"tok","event":"Order Delivered","properties":{"ItemNames":["A & B"]}}`)

	t.Run("posts form encoded data once", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "text/html", r.Header.Get("Accept"))
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, string(payload), r.PostForm.Get("data"))
			_, _ = w.Write([]byte("1"))
		}))
		defer srv.Close()

		c, err := NewClient(Config{Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		require.NoError(t, c.Track(context.Background(), payload))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c, err := NewClient(Config{Endpoint: srv.URL}, nil)
		require.NoError(t, err)

		err = c.Track(context.Background(), payload)
		assert.ErrorIs(t, err, shared.ErrUpstreamFailure)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejected event", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("0"))
		}))
		defer srv.Close()

		c, err := NewClient(Config{Endpoint: srv.URL}, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Track(context.Background(), payload), shared.ErrUpstreamFailure)
	})

	t.Run("truncated response body is logged", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, buf, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n1")
			_ = buf.Flush()
			_ = conn.Close()
		}))
		defer srv.Close()

		core, logs := observer.New(zapcore.DebugLevel)
		c, err := NewClient(Config{Endpoint: srv.URL}, zap.New(core))
		require.NoError(t, err)

		require.NoError(t, c.Track(context.Background(), payload))
		entries := logs.FilterMessage("Failed to read track response body").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
	})

	t.Run("times out", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c, err := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
		require.NoError(t, err)

		start := time.Now()
		assert.ErrorIs(t, c.Track(context.Background(), payload), shared.ErrUpstreamFailure)
		assert.Less(t, time.Since(start), time.Second)
	})
}
