package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/api/envelope"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
	"github.com/nrhinela/zoltag-sub001/pkg/payload"
)

func (s *Server) registerJobRoutes(g *gin.RouterGroup) {
	jobs := g.Group("/jobs")
	jobs.POST("", s.enqueue)
	jobs.GET("", s.listJobs)
	jobs.GET("/:id", s.getJob)
	jobs.POST("/:id/cancel", s.cancelJob)
}

type enqueueRequest struct {
	TenantID      uuid.UUID              `json:"tenant_id" binding:"required"`
	DefinitionKey string                 `json:"definition_key" binding:"required"`
	Payload       map[string]interface{} `json:"payload"`
	Priority      *int                   `json:"priority"`
	DedupeKey     *string                `json:"dedupe_key"`
	ScheduledFor  *time.Time             `json:"scheduled_for"`
	CorrelationID *string                `json:"correlation_id"`
	CreatedBy     *uuid.UUID             `json:"created_by"`
}

// enqueue realizes spec §6.1's enqueue(...): it validates/normalizes
// the payload against the definition's schema (spec §6.3) before the
// Queue Store ever sees it — the same defense-in-depth re-validation
// the Worker Runtime does at claim time, run here at submission time
// so a caller gets a ValidationError immediately instead of a job that
// dies on first claim.
func (s *Server) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeValidation, err.Error()))
		return
	}

	def, err := s.catalog.GetByKey(c.Request.Context(), req.DefinitionKey)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	if !def.IsActive {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeDefinitionInactive, "job definition is inactive: "+req.DefinitionKey))
		return
	}

	schema, err := payload.ParseSchema(json.RawMessage(def.PayloadSchema))
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInternal, err.Error()))
		return
	}
	normalized, err := payload.Normalize(schema, req.Payload)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	canon, err := payload.CanonicalJSON(normalized)
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInternal, err.Error()))
		return
	}

	job := &model.Job{
		TenantID:      req.TenantID,
		DefinitionID:  def.ID,
		Source:        constant.JobSourceManual,
		Payload:       model.ExtJSON(canon),
		DedupeKey:     req.DedupeKey,
		CorrelationID: req.CorrelationID,
		MaxAttempts:   def.MaxAttempts,
		CreatedBy:     req.CreatedBy,
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	if req.ScheduledFor != nil {
		job.ScheduledFor = req.ScheduledFor.UTC()
	}

	inserted, err := s.queue.InsertJob(c.Request.Context(), job)
	if err != nil {
		if err == database.ErrDedupConflict {
			c.JSON(http.StatusOK, envelope.Success(gin.H{
				"job_id":   inserted.ID,
				"conflict": true,
			}))
			return
		}
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"job_id": inserted.ID, "conflict": false}))
}

type cancelJobRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInvalidArgument, "invalid job id"))
		return
	}
	var req cancelJobRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.queue.CancelJob(c.Request.Context(), jobID, req.Reason); err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}
	c.JSON(http.StatusOK, envelope.Success(gin.H{"job_id": jobID}))
}

// getJob returns the job row plus its latest attempt's tails, per
// spec §6.1's "returns job + latest attempt tails".
func (s *Server) getJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInvalidArgument, "invalid job id"))
		return
	}

	var job model.Job
	if err := s.db.WithContext(c.Request.Context()).First(&job, "id = ?", jobID).Error; err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeNotFound, "job not found: "+jobID.String()))
		return
	}

	var latestAttempt *model.JobAttempt
	var attempt model.JobAttempt
	err = s.db.WithContext(c.Request.Context()).
		Where("job_id = ?", jobID).
		Order("attempt_no DESC").
		First(&attempt).Error
	if err == nil {
		latestAttempt = &attempt
	}

	c.JSON(http.StatusOK, envelope.Success(gin.H{
		"job":            job,
		"latest_attempt": latestAttempt,
	}))
}

// listJobs realizes spec §6.1's list_jobs(tenant, filters): status,
// correlation_id and paging are applied here; definition_key is
// resolved to a definition id via the catalog so the store-level
// query (QueueFacade.ListJobs) stays tenant+status only, matching its
// existing index usage.
func (s *Server) listJobs(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusOK, envelope.Fail(apperrors.CodeInvalidArgument, "invalid or missing tenant_id"))
		return
	}

	var statuses []string
	if s := c.Query("status"); s != "" {
		statuses = append(statuses, s)
	}

	limit := 50
	if l, parseErr := strconv.Atoi(c.Query("limit")); parseErr == nil && l > 0 {
		limit = l
	}
	offset := 0
	if o, parseErr := strconv.Atoi(c.Query("offset")); parseErr == nil && o > 0 {
		offset = o
	}

	jobs, err := s.queue.ListJobs(c.Request.Context(), tenantID, statuses, limit, offset)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}

	if correlationID := c.Query("correlation_id"); correlationID != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.CorrelationID != nil && *j.CorrelationID == correlationID {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if defKey := c.Query("definition_key"); defKey != "" {
		def, defErr := s.catalog.GetByKey(c.Request.Context(), defKey)
		if defErr == nil {
			filtered := jobs[:0]
			for _, j := range jobs {
				if j.DefinitionID == def.ID {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
	}

	total, err := s.queue.CountJobs(c.Request.Context(), tenantID, statuses)
	if err != nil {
		c.JSON(http.StatusOK, envelope.FromError(err))
		return
	}

	c.JSON(http.StatusOK, envelope.Success(envelope.ListData{Rows: jobs, TotalCount: total}))
}
