package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
	"taskapi/internal/query"
	"taskapi/internal/tasks"
)

type createTaskRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=500"`
	DueDate     string `json:"dueDate" validate:"omitempty,isodate"`
	Priority    string `json:"priority" validate:"omitempty,oneof=High Medium Low"`
	Status      string `json:"status" validate:"omitempty,oneof=Pending Completed"`
}

type updateTaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=3,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	DueDate     *string `json:"dueDate" validate:"omitempty,isodate"`
	Priority    *string `json:"priority" validate:"omitempty,oneof=High Medium Low"`
	Status      *string `json:"status" validate:"omitempty,oneof=Pending Completed"`
}

// handleListTasks returns the caller's tasks filtered, sorted and paginated.
func (s *Server) handleListTasks(c *gin.Context) {
	var params query.Params
	if err := c.ShouldBindQuery(&params); err != nil {
		s.respondError(c, apperr.Wrap(apperr.BadRequest, "invalid query", err))
		return
	}

	q, err := query.Build(identityFrom(c).UserID, params)
	if err != nil {
		s.respondError(c, err)
		return
	}

	page, err := s.svc.Tasks.List(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"tasks": page.Tasks,
		"pagination": gin.H{
			"total": page.Total,
			"page":  page.Page,
			"pages": page.Pages,
		},
	})
}

// handleCreateTask stores a new task for the caller.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(apperr.BadRequest, "invalid JSON body", err))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.check(req); err != nil {
		s.respondError(c, err)
		return
	}

	var due *time.Time
	if req.DueDate != "" {
		d, _, err := models.ParseDate(req.DueDate)
		if err != nil {
			s.respondError(c, apperr.InvalidField("dueDate", "Invalid date format"))
			return
		}
		due = &d
	}

	task, err := s.svc.Tasks.Create(c.Request.Context(), identityFrom(c).UserID, tasks.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     due,
		Priority:    req.Priority,
		Status:      req.Status,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, task)
}

// handleGetTask returns a single task owned by the caller.
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.svc.Tasks.Get(c.Request.Context(), identityFrom(c).UserID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// handleUpdateTask applies a partial update. Omitted fields keep their values.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.Wrap(apperr.BadRequest, "invalid JSON body", err))
		return
	}
	trimPtr(req.Title)
	trimPtr(req.Description)
	trimPtr(req.DueDate)
	if err := s.check(req); err != nil {
		s.respondError(c, err)
		return
	}

	task, err := s.svc.Tasks.Update(c.Request.Context(), identityFrom(c).UserID, c.Param("id"), tasks.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		Status:      req.Status,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// handleDeleteTask removes a task completely.
func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.svc.Tasks.Delete(c.Request.Context(), identityFrom(c).UserID, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Task removed"})
}

// handleAnalytics builds the caller's report as of the request time.
func (s *Server) handleAnalytics(c *gin.Context) {
	report, err := s.svc.Analytics.Report(c.Request.Context(), identityFrom(c).UserID, s.opts.Now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}
