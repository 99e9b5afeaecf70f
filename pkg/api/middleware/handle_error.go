package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/nrhinela/zoltag-sub001/pkg/api/envelope"
)

// HandleErrors centralizes envelope rendering for handlers that push
// onto c.Errors instead of writing a response themselves, grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/core's
// pkg/router/middleware/handle-error.go. Only the first error is
// rendered; later ones are logged as they should never occur once a
// handler returns immediately after the first failure.
func HandleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		for i, ginErr := range c.Errors {
			if i > 0 {
				log.Errorf("subsequent error %d on %s: %v", i, c.FullPath(), ginErr.Err)
				continue
			}
			log.Errorf("request error on %s: %v", c.FullPath(), ginErr.Err)
			c.AbortWithStatusJSON(http.StatusOK, envelope.FromError(ginErr.Err))
		}
	}
}
