package middleware

import (
	"context"
	"strings"

	"runbox/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	sessionIDHeader = "X-Session-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	sessionIDContextKey = "session_id"
)

// TraceContextConfig controls how trace/request/session id are extracted and written.
type TraceContextConfig struct {
	AllowSessionIDHeader bool
	WriteSessionIDHeader bool
}

// TraceContextMiddleware ensures trace/request/session id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowSessionIDHeader: true,
		WriteSessionIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerOrNew(c, traceIDHeader)
		c.Set(traceIDContextKey, traceID)
		setContextValue(c, contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := headerOrNew(c, requestIDHeader)
		c.Set(requestIDContextKey, requestID)
		setContextValue(c, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		// A caller-chosen session id becomes the id of the session this request creates.
		if cfg.AllowSessionIDHeader {
			if sessionID := strings.TrimSpace(c.GetHeader(sessionIDHeader)); sessionID != "" {
				c.Set(sessionIDContextKey, sessionID)
				setContextValue(c, contextkey.SessionID, sessionID)
				if cfg.WriteSessionIDHeader {
					c.Writer.Header().Set(sessionIDHeader, sessionID)
				}
			}
		}

		c.Next()
	}
}

// SessionID returns the session id supplied through X-Session-Id, if any.
func SessionID(c *gin.Context) string {
	if v, ok := c.Get(sessionIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func headerOrNew(c *gin.Context, header string) string {
	v := strings.TrimSpace(c.GetHeader(header))
	if v == "" {
		v = uuid.NewString()
	}
	return v
}

func setContextValue(c *gin.Context, key any, value string) {
	ctx := context.WithValue(c.Request.Context(), key, value)
	c.Request = c.Request.WithContext(ctx)
}
