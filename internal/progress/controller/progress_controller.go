package controller

import (
	"context"
	"strings"

	"judgebox/internal/common/http/middleware"
	"judgebox/internal/progress/service"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProgressController exposes progress tracking endpoints.
type ProgressController struct {
	progressService *service.ProgressService
}

// NewProgressController creates a new ProgressController.
func NewProgressController(progressService *service.ProgressService) *ProgressController {
	return &ProgressController{progressService: progressService}
}

// Register mounts the progress routes under /problems/:id/progress plus the /progress listing.
func (h *ProgressController) Register(group gin.IRoutes) {
	group.GET("/progress", h.List)
	group.GET("/problems/:id/progress", h.Get)
	group.POST("/problems/:id/progress/start", h.Start)
	group.POST("/problems/:id/progress/pause", h.Pause)
	group.POST("/problems/:id/progress/resume", h.Resume)
}

// Get returns the caller's progress on a problem.
func (h *ProgressController) Get(c *gin.Context) {
	problemID, ok := problemParam(c)
	if !ok {
		return
	}
	view, err := h.progressService.Get(c.Request.Context(), middleware.UserID(c), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// List returns every problem the caller has progress on.
func (h *ProgressController) List(c *gin.Context) {
	views, err := h.progressService.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, views)
}

func (h *ProgressController) Start(c *gin.Context) {
	h.transition(c, h.progressService.Start)
}

func (h *ProgressController) Pause(c *gin.Context) {
	h.transition(c, h.progressService.Pause)
}

func (h *ProgressController) Resume(c *gin.Context) {
	h.transition(c, h.progressService.Resume)
}

type transitionFunc func(ctx context.Context, userID, problemID string) (*service.View, error)

func (h *ProgressController) transition(c *gin.Context, fn transitionFunc) {
	problemID, ok := problemParam(c)
	if !ok {
		return
	}
	view, err := fn(c.Request.Context(), middleware.UserID(c), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

func problemParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid problem id")
		return "", false
	}
	return id, true
}
