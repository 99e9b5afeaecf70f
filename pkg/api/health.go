package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerHealthRoutes mounts /healthz and /metrics outside the /v1
// group, grounded on pkg/server/health.go's InitHealthServer/addMetrics
// pair, collapsed onto this engine rather than a second port: this
// module has no second process boundary between the Control API and
// its health surface the way the teacher's MCP/unified-registry split
// does.
func (s *Server) registerHealthRoutes(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) {
		if err := s.pingDB(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) pingDB() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
