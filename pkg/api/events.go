package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/api/envelope"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
)

func (s *Server) registerEventRoutes(g *gin.RouterGroup) {
	g.POST("/events", s.publishEvent)
}

type publishEventRequest struct {
	TenantID     uuid.UUID              `json:"tenant_id" binding:"required"`
	EventName    string                 `json:"event_name" binding:"required"`
	EventPayload map[string]interface{} `json:"event_payload"`
}

// publishEvent realizes spec §6.1's publish_event(...), fanning out to
// the Trigger Engine's event-trigger matching (pkg/trigger.Engine.PublishEvent).
func (s *Server) publishEvent(c *gin.Context) {
	var req publishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeValidation, err.Error()))
		return
	}

	fired, err := s.trigger.PublishEvent(c.Request.Context(), req.TenantID, req.EventName, req.EventPayload)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"triggers_fired": fired}))
}
