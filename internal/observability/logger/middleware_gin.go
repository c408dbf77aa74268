package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to its public type and code.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags the request context with a request id and caller details,
// then writes one access line per request once the handler chain returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithClient(ctx, obscontext.Client{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		line := accessLine{
			route:    routeOf(c),
			status:   c.Writer.Status(),
			duration: time.Since(start),
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			line.errorType, line.errorCode = cfg.ErrorClassifier(lastErr.Err)
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", line.route),
			zap.Int("status", line.status),
			zap.Int64("duration_ms", line.duration.Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if variant := strings.TrimSpace(c.GetString(obscontext.GinVariantKey)); variant != "" {
			fields = append(fields, zap.String("variant", variant))
		}
		if line.errorType != "" {
			fields = append(fields,
				zap.String("error_type", line.errorType),
				zap.String("error_code", line.errorCode),
			)
			if cfg.Debug && line.status >= http.StatusInternalServerError {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		// Re-read the context: auth middleware attaches the actor further down the chain.
		log := FromContext(c.Request.Context())
		if ce := log.Check(line.level(), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

type accessLine struct {
	route     string
	status    int
	duration  time.Duration
	errorType string
	errorCode string
}

// level keeps expected client outcomes quiet and saves Error for faults on our side.
// Upstream provider failures are refunded and surface as warnings.
func (l accessLine) level() zapcore.Level {
	switch {
	case l.route == "/health" || l.route == "/metrics":
		return zapcore.DebugLevel
	case l.errorType == "provider_error", l.errorType == "rate_limited":
		return zapcore.WarnLevel
	case l.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case l.errorType == "validation_error":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func requestIDFor(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(requestIDHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetString("request_id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func routeOf(c *gin.Context) string {
	if route := strings.TrimSpace(c.FullPath()); route != "" {
		return route
	}
	return "unknown"
}
