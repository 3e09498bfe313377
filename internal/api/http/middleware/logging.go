package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/trace"
)

// RequestLogger logs one line per request and wraps it in a server span
func RequestLogger(logger logging.Logger, tracer trace.Tracer) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if tracer == nil {
		tracer = trace.NewNoopTracer()
	}
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), "HTTP "+c.Request.Method+" "+c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			trace.StringAttr("http.method", c.Request.Method),
			trace.StringAttr("http.route", c.FullPath()),
			trace.IntAttr("http.status_code", status),
		)

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", status),
			logging.Duration("latency", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		if status >= 500 {
			logger.WithContext(ctx).Error("request failed", fields...)
			return
		}
		logger.WithContext(ctx).Debug("request served", fields...)
	}
}

//Personal.AI order the ending
