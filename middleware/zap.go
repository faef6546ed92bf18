package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/tools/errs"
)

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("http", fields...)
		default:
			log.Info("http", fields...)
		}
	}
}

// Recovery turns a panic into a 500 with the Internal error body.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http handler panicked",
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				ce := errs.AsCode(errs.ErrPanic(r))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"kind": ce.Msg, "code": ce.Code, "message": ce.Message(),
				})
			}
		}()
		c.Next()
	}
}
