// Package web exposes the wizard and import progress over HTTP for the UI
// layer.
package web

import (
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/jyang234/taskport/internal/importer"
	"github.com/jyang234/taskport/internal/wizard"
)

// Server is the taskport API server.
type Server struct {
	sessions *wizard.Sessions
	router   *gin.Engine

	mu   sync.Mutex
	jobs map[string]*importer.Job
}

// NewServer creates the API server around a session registry.
func NewServer(sessions *wizard.Sessions) *Server {
	router := gin.Default()

	s := &Server{
		sessions: sessions,
		router:   router,
		jobs:     make(map[string]*importer.Job),
	}

	api := router.Group("/api")
	{
		api.GET("/providers", s.handleProviders)

		api.POST("/sessions", s.handleOpenSession)
		api.GET("/sessions/:id", s.handleSessionState)
		api.POST("/sessions/:id/source", s.handleSetSource)
		api.POST("/sessions/:id/credential", s.handleSetCredential)
		api.POST("/sessions/:id/mapping", s.handleSetMapping)
		api.POST("/sessions/:id/next", s.handleNext)
		api.POST("/sessions/:id/back", s.handleBack)
		api.POST("/sessions/:id/close", s.handleClose)

		api.GET("/jobs/:id", s.handleJob)
		api.POST("/jobs/:id/cancel", s.handleCancelJob)
	}

	return s
}

// Run starts the web server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerJob(j *importer.Job) {
	if j == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID()] = j
}

func (s *Server) job(id string) *importer.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}
