package middleware

import (
	"time"

	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/gin-gonic/gin"
)

// HandleLogging logs one line per request, grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/core's pkg/router/middleware/logging.go.
func HandleLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infof(
			"Request: Method=%s | Path=%s | Status=%d | IP=%s | Duration=%v",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			c.ClientIP(),
			time.Since(start),
		)
	}
}
