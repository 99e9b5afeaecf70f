package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/api/envelope"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
)

func (s *Server) registerWorkflowRoutes(g *gin.RouterGroup) {
	workflows := g.Group("/workflows")
	workflows.POST("", s.startWorkflow)
	workflows.POST("/:id/cancel", s.cancelWorkflow)
}

type startWorkflowRequest struct {
	TenantID    uuid.UUID              `json:"tenant_id" binding:"required"`
	WorkflowKey string                 `json:"workflow_key" binding:"required"`
	Payload     map[string]interface{} `json:"payload"`
	Priority    int                    `json:"priority"`
	CreatedBy   *uuid.UUID             `json:"created_by"`
}

// startWorkflow realizes spec §6.1's start_workflow(...). Workflow
// definitions have no dedicated catalog cache the way job definitions
// do (spec §4.1 scopes the Catalog to JobDefinition); admin/control
// traffic here is low-volume enough to read straight through.
func (s *Server) startWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeValidation, err.Error()))
		return
	}

	var def model.WorkflowDefinition
	err := s.db.WithContext(c.Request.Context()).
		Where("key = ? AND is_active = ?", req.WorkflowKey, true).
		First(&def).Error
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeNotFound, "workflow definition not found or inactive: "+req.WorkflowKey))
		return
	}

	var rawPayload json.RawMessage
	if req.Payload != nil {
		encoded, marshalErr := json.Marshal(req.Payload)
		if marshalErr != nil {
			c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeValidation, marshalErr.Error()))
			return
		}
		rawPayload = encoded
	}

	run, err := s.workflow.StartRun(c.Request.Context(), req.TenantID, def, req.CreatedBy, req.Priority, rawPayload)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"run_id": run.ID}))
}

type cancelWorkflowRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInvalidArgument, "invalid run id"))
		return
	}
	var req cancelWorkflowRequest
	_ = c.ShouldBindJSON(&req)

	applied, err := s.workflow.CancelRun(c.Request.Context(), runID, req.Reason)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"run_id": runID, "applied": applied}))
}
