// Package httpapi is the minimal process control surface: a liveness probe
// and a manual one-shot job trigger.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/clearslate/sweeper/internal/sweep"
)

// Server exposes the control endpoints.
type Server struct {
	orch *sweep.Orchestrator
	log  zerolog.Logger
}

// NewServer builds the control surface.
func NewServer(orch *sweep.Orchestrator, log zerolog.Logger) *Server {
	return &Server{
		orch: orch,
		log:  log.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the gin router.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.POST("/sweeps/process", s.handleProcess)
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleProcess claims and runs at most one pending job inline.
func (s *Server) handleProcess(c *gin.Context) {
	claimed, err := s.orch.ProcessNext(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !claimed {
		c.JSON(http.StatusOK, gin.H{"processed": false, "reason": "no pending jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": true})
}
