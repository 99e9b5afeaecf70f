package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/nrhinela/zoltag-sub001/pkg/api/envelope"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
	"gorm.io/gorm/clause"
)

func (s *Server) registerWorkerRoutes(g *gin.RouterGroup) {
	workers := g.Group("/workers")
	workers.POST("/register", s.registerWorker)
	workers.POST("/:worker_id/heartbeat", s.heartbeatWorker)
}

type registerWorkerRequest struct {
	WorkerID            string                 `json:"worker_id" binding:"required"`
	Hostname            string                 `json:"hostname"`
	Version             string                 `json:"version"`
	AcceptedDefinitions []string               `json:"accepted_definitions"`
	Metadata            map[string]interface{} `json:"metadata"`
}

// registerWorker is the HTTP-facing half of spec §6.2's
// register(worker_id, hostname, version, accepted_definitions[]): a
// worker.Runtime registers itself directly against job_workers on
// Start (see worker.Runtime.registerWorker), but an operator or a
// worker running outside this module's process still needs a way to
// appear in the registry, so this upserts the same row through the
// Control API using the identical clause.OnConflict pattern.
func (s *Server) registerWorker(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeValidation, err.Error()))
		return
	}

	w := model.Worker{
		WorkerID:   req.WorkerID,
		Hostname:   req.Hostname,
		Version:    req.Version,
		Queues:     pq.StringArray(req.AcceptedDefinitions),
		LastSeenAt: time.Now().UTC(),
		IsActive:   true,
		Metadata:   model.ExtType(req.Metadata),
	}
	err := s.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hostname", "version", "queues", "last_seen_at", "is_active", "metadata"}),
	}).Create(&w).Error
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeStoreError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"worker_id": w.WorkerID}))
}

// heartbeatWorker bumps last_seen_at for a worker that already
// registered, per spec §6.2's heartbeat(worker_id).
func (s *Server) heartbeatWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	result := s.db.WithContext(c.Request.Context()).
		Model(&model.Worker{}).
		Where("worker_id = ?", workerID).
		Updates(map[string]interface{}{"last_seen_at": time.Now().UTC(), "is_active": true})
	if result.Error != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeStoreError, result.Error.Error()))
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeNotFound, "worker not registered: "+workerID))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"worker_id": workerID}))
}
