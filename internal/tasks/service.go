// Package tasks implements create, read, update and delete of tasks, each one
// scoped to the user that owns the task.
package tasks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
	"taskapi/internal/query"
)

// Store is the persistence the service needs.
type Store interface {
	FindTasks(ctx context.Context, q query.Query) ([]models.Task, error)
	CountTasks(ctx context.Context, f query.Filter) (int, error)
	InsertTask(ctx context.Context, t models.Task) (models.Task, error)
	FindTask(ctx context.Context, userID, id string) (models.Task, error)
	UpdateTask(ctx context.Context, t models.Task) (models.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
}

// CreateInput carries the fields accepted on creation. Empty optional fields
// take the task defaults.
type CreateInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
	Status      string
}

// UpdateInput carries a partial update. A nil field keeps its prior value.
// A non-nil empty Description or DueDate clears the field.
type UpdateInput struct {
	Title       *string
	Description *string
	DueDate     *string
	Priority    *string
	Status      *string
}

// Page is one window of a task listing.
type Page struct {
	Tasks []models.Task
	Total int
	Page  int
	Pages int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs task operations for one caller at a time.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service on top of store.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the page of tasks selected by q plus the total match count.
func (s *Service) List(ctx context.Context, q query.Query) (Page, error) {
	var (
		tasks []models.Task
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = s.store.FindTasks(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountTasks(gctx, q.Filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Page{}, err
	}

	return Page{
		Tasks: tasks,
		Total: total,
		Page:  q.Page,
		Pages: query.Pages(total, q.Limit),
	}, nil
}

// Create stores a new task owned by userID.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, apperr.InvalidField("title", "Title is required")
	}

	priority := models.PriorityMedium
	if in.Priority != "" {
		p, err := models.ParsePriority(in.Priority)
		if err != nil {
			return models.Task{}, apperr.InvalidField("priority", "Priority must be High, Medium, or Low")
		}
		priority = p
	}
	status := models.StatusPending
	if in.Status != "" {
		st, err := models.ParseStatus(in.Status)
		if err != nil {
			return models.Task{}, apperr.InvalidField("status", "Status must be Pending or Completed")
		}
		status = st
	}

	now := s.now().UTC()
	task, err := s.store.InsertTask(ctx, models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		DueDate:     utcPtr(in.DueDate),
		Priority:    priority,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return models.Task{}, err
	}
	s.logger.Debug("task created", slog.String("task_id", task.ID), slog.String("user_id", userID))
	return task, nil
}

// Get returns a task the caller owns.
func (s *Service) Get(ctx context.Context, userID, id string) (models.Task, error) {
	return s.loadScoped(ctx, userID, id)
}

// Update applies in to a task the caller owns.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (models.Task, error) {
	task, err := s.loadScoped(ctx, userID, id)
	if err != nil {
		return models.Task{}, err
	}
	if err := apply(&task, in); err != nil {
		return models.Task{}, err
	}

	task.UpdatedAt = s.now().UTC()
	if task.UpdatedAt.Before(task.CreatedAt) {
		task.UpdatedAt = task.CreatedAt
	}
	return s.store.UpdateTask(ctx, task)
}

// Delete removes a task the caller owns.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.loadScoped(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Debug("task deleted", slog.String("task_id", id), slog.String("user_id", userID))
	return nil
}

// loadScoped fetches id only if userID owns it. A task owned by someone else
// is reported exactly like a missing one.
func (s *Service) loadScoped(ctx context.Context, userID, id string) (models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Task{}, apperr.InvalidField("id", "Invalid task ID")
	}
	return s.store.FindTask(ctx, userID, id)
}

func apply(task *models.Task, in UpdateInput) error {
	var fields []apperr.FieldError

	if in.Title != nil {
		if title := strings.TrimSpace(*in.Title); title == "" {
			fields = append(fields, apperr.FieldError{Field: "title", Message: "Title must be between 3 and 100 characters"})
		} else {
			task.Title = title
		}
	}
	if in.Description != nil {
		task.Description = strings.TrimSpace(*in.Description)
	}
	if in.DueDate != nil {
		if raw := strings.TrimSpace(*in.DueDate); raw == "" {
			task.DueDate = nil
		} else if due, _, err := models.ParseDate(raw); err != nil {
			fields = append(fields, apperr.FieldError{Field: "dueDate", Message: "Invalid date format"})
		} else {
			task.DueDate = &due
		}
	}
	if in.Priority != nil {
		if p, err := models.ParsePriority(*in.Priority); err != nil {
			fields = append(fields, apperr.FieldError{Field: "priority", Message: "Priority must be High, Medium, or Low"})
		} else {
			task.Priority = p
		}
	}
	if in.Status != nil {
		if st, err := models.ParseStatus(*in.Status); err != nil {
			fields = append(fields, apperr.FieldError{Field: "status", Message: "Status must be Pending or Completed"})
		} else {
			task.Status = st
		}
	}

	if len(fields) > 0 {
		return apperr.Invalid(fields...)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
