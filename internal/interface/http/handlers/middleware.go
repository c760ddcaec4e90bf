package handlers

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// Context keys set by the middleware.
const (
	ContextKeyRequestID = "request_id"
	ContextKeyInitData  = "init_data"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID
// ══════════════════════════════════════════════════════════════════════════════

// RequestID reuses the incoming X-Request-ID or generates one, and attaches a
// request-scoped logger to the request context.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)

		ctx := logger.WithContext(c.Request.Context(), log.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING & RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// RequestLogger logs every request after it completes.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String(logger.RequestIDKey, c.GetString(ContextKeyRequestID)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Recovery turns a panic into a 500 envelope.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
					logger.String(logger.RequestIDKey, c.GetString(ContextKeyRequestID)))
				AbortError(c, http.StatusInternalServerError, CodeInternal, errors.New("internal error"))
			}
		}()
		c.Next()
	}
}

// SecurityHeaders sets response headers for a JSON-only API.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// RequireInitData verifies the "tma" Authorization header and stores the
// parsed *InitData in the gin context.
func RequireInitData(v *InitDataVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			AbortError(c, http.StatusUnauthorized, CodeUnauthorized, err)
			return
		}
		data, err := v.Parse(raw)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("init data rejected", logger.Err(err))
			AbortError(c, http.StatusUnauthorized, CodeUnauthorized, err)
			return
		}
		c.Set(ContextKeyInitData, data)
		c.Next()
	}
}

// InitDataFrom returns the init data stored by RequireInitData.
func InitDataFrom(c *gin.Context) (*InitData, bool) {
	v, ok := c.Get(ContextKeyInitData)
	if !ok {
		return nil, false
	}
	d, ok := v.(*InitData)
	return d, ok && d != nil
}
