package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", shared.NewDomainError("progress", "Validate", shared.ErrInvalidInput, "bad"), http.StatusBadRequest, CodeInvalidInput},
		{"not resolved", shared.NewDomainError("account", "ParseID", shared.ErrIdentityNotResolved, "raw"), http.StatusUnauthorized, CodeNotResolved},
		{"not found", fmt.Errorf("step: %w", shared.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"conflict", shared.ErrAlreadyExists, http.StatusConflict, CodeConflict},
		{"unavailable", shared.WrapError("sqlite", "Get", shared.ErrBackendUnavailable, "down", errors.New("io")), http.StatusServiceUnavailable, CodeBackendUnavailable},
		{"persistence", shared.ErrPersistence, http.StatusInternalServerError, CodePersistence},
		{"init data", ErrInitDataExpired, http.StatusUnauthorized, CodeUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRespondDomainError_HidesInternalMessage(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondDomainError(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, CodeInternal, env.Error.Code)
	assert.Equal(t, "internal error", env.Error.Message)
}

func TestHealthChecker(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		st := NewHealthChecker("v1").Check(context.Background())
		assert.True(t, st.Healthy)
		assert.Equal(t, "v1", st.Version)
	})

	t.Run("one failing", func(t *testing.T) {
		h := NewHealthChecker("v1")
		h.AddCheck("database", func(context.Context) error { return nil })
		h.AddCheck("cache", func(context.Context) error { return errors.New("refused") })

		st := h.Check(context.Background())
		assert.False(t, st.Healthy)
		assert.Equal(t, "failing: cache", st.Message)
		assert.True(t, st.Checks["database"].Healthy)
		assert.Equal(t, "refused", st.Checks["cache"].Message)
	})

	t.Run("timeout", func(t *testing.T) {
		h := NewHealthChecker("v1")
		h.SetTimeout(10 * time.Millisecond)
		h.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		st := h.Check(context.Background())
		assert.False(t, st.Healthy)
	})

	t.Run("handler", func(t *testing.T) {
		h := NewHealthChecker("v1")
		h.AddCheck("database", PingCheck(pingerFunc(func(context.Context) error { return errors.New("down") })))

		r := gin.New()
		r.GET("/health", h.Handler())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestMiddleware(t *testing.T) {
	v := newVerifier(0, false)
	raw := signedInitData(t, testToken, testNow, `{"id":555}`)

	r := gin.New()
	r.Use(Recovery(logger.Nop()), RequestID(logger.Nop()), RequestLogger(logger.Nop()), SecurityHeaders())
	r.GET("/me", RequireInitData(v), func(c *gin.Context) {
		d, ok := InitDataFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, d.PlatformID().String())
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	t.Run("authorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "tma "+raw)
		req.Header.Set(HeaderRequestID, "req-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "555", w.Body.String())
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
		var env ErrorEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.Equal(t, CodeUnauthorized, env.Error.Code)
	})

	t.Run("panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
