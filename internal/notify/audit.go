package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuditMiddleware records every operator write on /api/ (overrides, worker
// stop/resume, manual cycles) as a PaaS log entry.
func AuditMiddleware(c *Client, logger *zap.Logger) gin.HandlerFunc {
	if c == nil {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.Request.URL.Path
		method := strings.ToUpper(ctx.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := ctx.Writer.Status()
		subject, _ := ctx.Get("operator")

		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.Send(sctx, "streak_http_write", levelFromStatus(status), map[string]any{
			"method":   method,
			"path":     path,
			"status":   status,
			"duration": time.Since(start).String(),
			"operator": subject,
		})
		if err != nil && logger != nil {
			logger.Debug("audit log failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
