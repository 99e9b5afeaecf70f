package api

import (
	"github.com/gin-gonic/gin"
	"github.com/nrhinela/zoltag-sub001/pkg/api/middleware"
	"github.com/nrhinela/zoltag-sub001/pkg/catalog"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/trigger"
	"gorm.io/gorm"
)

// Server wires the Control API (spec §6.1/§6.2) to the components it
// fronts. It holds no state of its own beyond those references: every
// handler either delegates to a facade/engine method or queries db
// directly: read-only lookups of workflow definitions (which have no
// dedicated facade the way job definitions do), and the job_workers
// writes of worker registration and heartbeat.
type Server struct {
	db       *gorm.DB
	queue    *database.QueueFacade
	workflow *database.WorkflowFacade
	catalog  *catalog.Catalog
	trigger  *trigger.Engine
}

func NewServer(db *gorm.DB, queue *database.QueueFacade, workflow *database.WorkflowFacade, cat *catalog.Catalog, trig *trigger.Engine) *Server {
	return &Server{db: db, queue: queue, workflow: workflow, catalog: cat, trigger: trig}
}

// NewEngine assembles the gin engine: middleware chain grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/core's pkg/router.InitRouter, then
// the v1 route group this domain's handlers register onto.
func (s *Server) NewEngine(cfg config.HTTPConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.registerHealthRoutes(engine)

	g := engine.Group("/v1")
	g.Use(middleware.HandleMetrics())
	g.Use(middleware.HandleLogging())
	g.Use(middleware.HandleErrors())
	g.Use(middleware.Cors())

	s.registerJobRoutes(g)
	s.registerWorkflowRoutes(g)
	s.registerEventRoutes(g)
	s.registerWorkerRoutes(g)

	return engine
}
