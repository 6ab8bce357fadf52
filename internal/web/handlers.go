package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
	"github.com/jyang234/taskport/internal/wizard"
)

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": registry.List()})
}

func (s *Server) handleOpenSession(c *gin.Context) {
	id, ctrl := s.sessions.Open()
	c.JSON(http.StatusCreated, gin.H{"session_id": id, "state": ctrl.State()})
}

func (s *Server) session(c *gin.Context) *wizard.Controller {
	ctrl := s.sessions.Get(c.Param("id"))
	if ctrl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	}
	return ctrl
}

func (s *Server) handleSessionState(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleSetSource(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}

	var body struct {
		Provider string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ctrl.SelectSource(body.Provider); err != nil {
		writeWizardError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleSetCredential(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}

	var body struct {
		Credential string `json:"credential"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ctrl.SetCredential(body.Credential); err != nil {
		writeWizardError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

type mappingRuleBody struct {
	Source   string            `json:"source" binding:"required"`
	Target   string            `json:"target" binding:"required"`
	Required bool              `json:"required"`
	Values   map[string]string `json:"values,omitempty"`
}

func (s *Server) handleSetMapping(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}

	var body struct {
		Rules []mappingRuleBody `json:"rules" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rules := make([]mapping.Rule, 0, len(body.Rules))
	for _, rb := range body.Rules {
		r := mapping.Rule{
			SourceField: rb.Source,
			TargetField: rb.Target,
			Required:    rb.Required || task.IsRequired(rb.Target),
		}
		if len(rb.Values) > 0 {
			r.Transform = mapping.Lookup(rb.Values)
		}
		rules = append(rules, r)
	}
	if err := ctrl.SetRules(rules); err != nil {
		writeWizardError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleNext(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}

	if err := ctrl.Next(c.Request.Context()); err != nil {
		writeWizardError(c, err)
		return
	}

	// Entering IMPORT started a job; make it pollable past session close.
	if ctrl.Step() == wizard.StepImport {
		s.registerJob(ctrl.Job())
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleBack(c *gin.Context) {
	ctrl := s.session(c)
	if ctrl == nil {
		return
	}
	if err := ctrl.Back(); err != nil {
		writeWizardError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

func (s *Server) handleClose(c *gin.Context) {
	if !s.sessions.Close(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleJob(c *gin.Context) {
	j := s.job(c.Param("id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	j := s.job(id)
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	// Cancellation goes through the owning session while it is still open.
	sid := c.Query("session")
	ctrl := s.sessions.Get(sid)
	if ctrl == nil || ctrl.Job() == nil || ctrl.Job().ID() != id {
		c.JSON(http.StatusConflict, gin.H{"error": "pass the owning session id to cancel this job"})
		return
	}
	ctrl.CancelImport()
	c.JSON(http.StatusOK, j.Snapshot())
}

// writeWizardError maps wizard and step-gating errors onto HTTP statuses.
// Gating failures (auth, mapping) are 422: the request was understood but the
// wizard stays on its current step until the user corrects the input.
func writeWizardError(c *gin.Context, err error) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     authErr.Error(),
			"kind":      "auth_" + authErr.Kind,
			"retryable": authErr.Retryable(),
		})
		return
	}

	var mapErr *wizard.MappingInvalidError
	if errors.As(err, &mapErr) {
		details := make([]gin.H, len(mapErr.Errors))
		for i, me := range mapErr.Errors {
			details[i] = gin.H{"kind": me.Kind, "field": me.Field}
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   mapErr.Error(),
			"kind":    "mapping_invalid",
			"details": details,
		})
		return
	}

	var unknown *registry.UnknownProviderError
	if errors.As(err, &unknown) {
		c.JSON(http.StatusNotFound, gin.H{"error": unknown.Error()})
		return
	}

	switch {
	case errors.Is(err, wizard.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, wizard.ErrImportStarted),
		errors.Is(err, wizard.ErrWrongStep),
		errors.Is(err, wizard.ErrNoPriorStep),
		errors.Is(err, wizard.ErrNoSource):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
