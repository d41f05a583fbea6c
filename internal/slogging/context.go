package slogging

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinContextLike defines a minimal interface for contexts that can be used with the logger
type GinContextLike interface {
	Get(key any) (any, bool)
	GetHeader(key string) string
	ClientIP() string
}

// GetContextLogger retrieves a logger from the context or falls back to the
// global logger enriched with request attributes.
func GetContextLogger(c *gin.Context) SimpleLogger {
	loggerInterface, exists := c.Get("logger")
	if exists {
		if logger, ok := loggerInterface.(SimpleLogger); ok {
			return logger
		}
	}

	return Get().WithContext(c)
}

// WithContext returns a context-aware logger that includes request information
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header("X-Request-ID", requestID)
		}
	}

	userID := ""
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			userID = s
		}
	}

	contextLogger := l.slogger.With(
		slog.String("request_id", requestID),
		slog.String("client_ip", c.ClientIP()),
		slog.String("user_id", userID),
	)

	return &ContextLogger{
		logger:  l,
		slogger: contextLogger,
	}
}

// ContextLogger adds request context to log messages
type ContextLogger struct {
	logger  *Logger
	slogger *slog.Logger
}

// Debug logs a debug-level message with request context
func (cl *ContextLogger) Debug(format string, args ...any) {
	if cl.logger.level > LogLevelDebug {
		return
	}
	cl.slogger.Debug(formatMessage(format, args...))
}

// Info logs an info-level message with request context
func (cl *ContextLogger) Info(format string, args ...any) {
	if cl.logger.level > LogLevelInfo {
		return
	}
	cl.slogger.Info(formatMessage(format, args...))
}

// Warn logs a warn-level message with request context
func (cl *ContextLogger) Warn(format string, args ...any) {
	if cl.logger.level > LogLevelWarn {
		return
	}
	cl.slogger.Warn(formatMessage(format, args...))
}

// Error logs an error-level message with request context
func (cl *ContextLogger) Error(format string, args ...any) {
	if cl.logger.level > LogLevelError {
		return
	}
	cl.slogger.Error(formatMessage(format, args...))
}
