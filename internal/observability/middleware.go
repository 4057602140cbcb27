package observability

import (
	"errors"

	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware creates OpenTelemetry middleware for Gin HTTP requests
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// ErrorAttributes marks the request span as failed for 4xx/5xx responses and
// annotates it with the AppError code and severity when a handler attached one
// through c.Error. Register it after GinMiddleware.
func ErrorAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		statusCode := c.Writer.Status()
		if statusCode < 400 {
			return
		}
		span := trace.SpanFromContext(c.Request.Context())
		if !span.SpanContext().IsValid() {
			return
		}

		severity := string(contextutils.SeverityWarn)
		errorMsg := "client error"
		if statusCode >= 500 {
			severity = string(contextutils.SeverityError)
			errorMsg = "server error"
		}

		for _, ginErr := range c.Errors {
			var appErr *contextutils.AppError
			if errors.As(ginErr.Err, &appErr) {
				errorMsg = appErr.Message
				severity = string(appErr.Severity)
				span.SetAttributes(
					attribute.String("error.code", string(appErr.Code)),
					attribute.Bool("error.retryable", contextutils.IsRetryable(appErr)),
				)
				break
			}
			errorMsg = ginErr.Error()
		}

		if statusCode >= 500 {
			span.RecordError(errors.New(errorMsg))
			span.SetStatus(codes.Error, errorMsg)
		}
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.String("error.severity", severity),
			attribute.String("error.handler", c.HandlerName()),
		)
	}
}
