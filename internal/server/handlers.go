package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ineyio/sitegen"
)

const maxProjectName = 255

func subject(c *gin.Context) string { return c.GetString(subjectKey) }

// GET /api/quota
func (s *Server) getQuota(c *gin.Context) {
	status, err := s.ledger.Status(c.Request.Context(), subject(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": status})
}

// POST /api/quota/consume
func (s *Server) consumeQuota(c *gin.Context) {
	d, err := s.ledger.TryConsume(c.Request.Context(), subject(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !d.Granted {
		setRetryAfter(c, d.ResetAt.Sub(s.now()))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "quota_exceeded",
			"message": "Daily quota exceeded. Resets at midnight.",
			"quota":   d.Status,
			"resetAt": d.ResetAt,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": true, "quota": d.Status, "resetAt": d.ResetAt})
}

// GET /api/projects
func (s *Server) listProjects(c *gin.Context) {
	list, err := s.projects.ListProjects(c.Request.Context(), subject(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []sitegen.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// POST /api/projects
func (s *Server) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		abort(c, http.StatusBadRequest, "invalid_request", "project name is required")
		return
	}
	if len(name) > maxProjectName {
		abort(c, http.StatusBadRequest, "invalid_request", "project name is too long")
		return
	}

	// Project ids are always minted here; client-chosen ids are ignored.
	p, err := s.projects.CreateProject(c.Request.Context(), sitegen.Project{
		ID:      sitegen.NewProjectID(),
		Name:    name,
		OwnerID: subject(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// GET /api/projects/:id
func (s *Server) getProject(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := sitegen.OwnedProject(ctx, s.projects, subject(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	frames, err := s.projects.ListFrames(ctx, p.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if frames == nil {
		frames = []sitegen.Frame{}
	}
	c.JSON(http.StatusOK, gin.H{"project": p, "frames": frames})
}

// DELETE /api/projects/:id
func (s *Server) deleteProject(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := sitegen.OwnedProject(ctx, s.projects, subject(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.projects.DeleteProject(ctx, p.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// POST /api/projects/:id/generate
func (s *Server) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}

	res, err := s.gateway.Generate(c.Request.Context(), sitegen.GenerateRequest{
		SubjectID: subject(c),
		ProjectID: c.Param("id"),
		Prompt:    req.Prompt,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"frame":   res.Frame,
		"files":   res.Frame.Design,
		"quota":   res.Status,
		"routing": res.Routing,
	})
}

// ownedFrame loads a frame and checks that the caller owns its project.
func (s *Server) ownedFrame(c *gin.Context) (sitegen.Frame, bool) {
	ctx := c.Request.Context()
	f, err := s.projects.GetFrame(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return sitegen.Frame{}, false
	}
	if _, err := sitegen.OwnedProject(ctx, s.projects, subject(c), f.ProjectID); err != nil {
		s.fail(c, err)
		return sitegen.Frame{}, false
	}
	return f, true
}

// GET /api/frames/:id
func (s *Server) getFrame(c *gin.Context) {
	f, ok := s.ownedFrame(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"frame": f})
}

// PUT /api/frames/:id/design
func (s *Server) updateFrameDesign(c *gin.Context) {
	f, ok := s.ownedFrame(c)
	if !ok {
		return
	}
	var design sitegen.Bundle
	if err := c.ShouldBindJSON(&design); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	if err := s.projects.UpdateFrameDesign(c.Request.Context(), f.ID, design); err != nil {
		s.fail(c, err)
		return
	}
	f.Design = design
	c.JSON(http.StatusOK, gin.H{"frame": f})
}

// GET /api/frames/:id/chat
func (s *Server) getChat(c *gin.Context) {
	f, ok := s.ownedFrame(c)
	if !ok {
		return
	}
	chat, err := s.projects.GetChat(c.Request.Context(), f.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

type updateChatRequest struct {
	Messages []sitegen.Message `json:"messages"`
}

// PUT /api/frames/:id/chat
func (s *Server) updateChat(c *gin.Context) {
	f, ok := s.ownedFrame(c)
	if !ok {
		return
	}
	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			abort(c, http.StatusBadRequest, "invalid_request", "message role must be user or assistant")
			return
		}
	}
	if req.Messages == nil {
		req.Messages = []sitegen.Message{}
	}

	chat := sitegen.Chat{FrameID: f.ID, OwnerID: subject(c), Messages: req.Messages}
	if err := s.projects.SaveChat(c.Request.Context(), chat); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// fail maps a service error to its HTTP response.
func (s *Server) fail(c *gin.Context, err error) {
	var qe *sitegen.QuotaError
	var ge *sitegen.GatewayError

	switch {
	case errors.As(err, &qe):
		setRetryAfter(c, qe.RetryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "quota_exceeded",
			"message": "Daily quota exceeded. Resets at midnight.",
			"quota":   qe.Status,
		})
	case errors.Is(err, sitegen.ErrStoreUnavailable):
		s.logger.WithError(err).Error("store unavailable")
		c.Header("Retry-After", "1")
		abort(c, http.StatusServiceUnavailable, "store_unavailable", "storage is temporarily unavailable")
	case errors.Is(err, sitegen.ErrInvalidSubject):
		abort(c, http.StatusBadRequest, "invalid_subject", err.Error())
	case errors.As(err, &ge):
		abort(c, http.StatusBadGateway, "generation_failed", "the generation service failed, please try again later")
	case errors.Is(err, sitegen.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), "sitegen: "))
	case errors.Is(err, sitegen.ErrProjectNotFound):
		abort(c, http.StatusNotFound, "not_found", "project not found")
	case errors.Is(err, sitegen.ErrFrameNotFound):
		abort(c, http.StatusNotFound, "not_found", "frame not found")
	case errors.Is(err, sitegen.ErrForbidden):
		abort(c, http.StatusForbidden, "forbidden", "forbidden")
	default:
		s.logger.WithError(err).Error("unhandled error")
		abort(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func abort(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg})
}

// setRetryAfter writes d as whole seconds, rounded up, at least one.
func setRetryAfter(c *gin.Context, d time.Duration) {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.FormatInt(secs, 10))
}
