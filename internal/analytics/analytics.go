// Package analytics computes the summary report over all of a user's tasks.
//
// Every facet is an independent store query. They run concurrently and share
// time boundaries derived once from the caller-supplied "now", so the report is
// consistent with a single scan of the task set at that instant.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"taskapi/internal/models"
	"taskapi/internal/query"
)

const (
	// TrendDays is the length of the completion trend window, today included.
	TrendDays = 7
	// UpcomingWindow bounds how far ahead a deadline counts as upcoming.
	UpcomingWindow = 7 * 24 * time.Hour
	// UpcomingLimit caps the number of upcoming deadlines reported.
	UpcomingLimit = 5
)

// Store is the persistence the aggregator needs.
type Store interface {
	FindTasks(ctx context.Context, q query.Query) ([]models.Task, error)
	CountTasks(ctx context.Context, f query.Filter) (int, error)
	CountByPriority(ctx context.Context, userID string) (map[models.Priority]int, error)
	CountByStatus(ctx context.Context, userID string) (map[models.Status]int, error)
	CountByStatusAndPriority(ctx context.Context, userID string) (map[models.Status]map[models.Priority]int, error)
	CompletionByDay(ctx context.Context, userID string, since, until time.Time) ([]models.DayCompletion, error)
}

// Report is the merged result of all facets.
type Report struct {
	PriorityDistribution map[models.Priority]int                   `json:"priorityDistribution"`
	StatusDistribution   map[models.Status]int                     `json:"statusDistribution"`
	CompletionTrend      []models.DayCompletion                    `json:"completionTrend"`
	UpcomingDeadlines    []models.Task                             `json:"upcomingDeadlines"`
	PriorityByStatus     map[models.Status]map[models.Priority]int `json:"priorityByStatus"`
	OverdueTasks         int                                       `json:"overdueTasks"`
}

// Window holds the time boundaries shared by every facet of one report.
type Window struct {
	Now        time.Time
	TrendStart time.Time
	DueHorizon time.Time
}

// NewWindow derives the facet boundaries from now.
func NewWindow(now time.Time) Window {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{
		Now:        now,
		TrendStart: today.AddDate(0, 0, -(TrendDays - 1)),
		DueHorizon: now.Add(UpcomingWindow),
	}
}

// Aggregator builds reports.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

// Report computes every facet for userID as of now. Any facet failure fails
// the whole report.
func (a *Aggregator) Report(ctx context.Context, userID string, now time.Time) (Report, error) {
	w := NewWindow(now)
	var r Report

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := a.store.CountByPriority(gctx, userID)
		if err != nil {
			return err
		}
		r.PriorityDistribution = priorityCounts(counts)
		return nil
	})
	g.Go(func() error {
		counts, err := a.store.CountByStatus(gctx, userID)
		if err != nil {
			return err
		}
		r.StatusDistribution = statusCounts(counts)
		return nil
	})
	g.Go(func() error {
		days, err := a.store.CompletionByDay(gctx, userID, w.TrendStart, w.Now)
		if err != nil {
			return err
		}
		r.CompletionTrend = days
		return nil
	})
	g.Go(func() error {
		upcoming, err := a.store.FindTasks(gctx, upcomingQuery(userID, w))
		if err != nil {
			return err
		}
		r.UpcomingDeadlines = upcoming
		return nil
	})
	g.Go(func() error {
		pairs, err := a.store.CountByStatusAndPriority(gctx, userID)
		if err != nil {
			return err
		}
		r.PriorityByStatus = priorityByStatus(pairs)
		return nil
	})
	g.Go(func() error {
		n, err := a.store.CountTasks(gctx, overdueFilter(userID, w))
		if err != nil {
			return err
		}
		r.OverdueTasks = n
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Warn("analytics report failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return Report{}, err
	}
	if r.CompletionTrend == nil {
		r.CompletionTrend = []models.DayCompletion{}
	}
	if r.UpcomingDeadlines == nil {
		r.UpcomingDeadlines = []models.Task{}
	}
	return r, nil
}

func upcomingQuery(userID string, w Window) query.Query {
	pending := models.StatusPending
	from, to := w.Now, w.DueHorizon
	return query.Query{
		Filter: query.Filter{UserID: userID, Status: &pending, DueFrom: &from, DueTo: &to},
		Sort:   query.Sort{Field: query.SortDueDate},
		Page:   1,
		Limit:  UpcomingLimit,
	}
}

func overdueFilter(userID string, w Window) query.Filter {
	pending := models.StatusPending
	now := w.Now
	return query.Filter{UserID: userID, Status: &pending, DueBefore: &now}
}

func priorityCounts(observed map[models.Priority]int) map[models.Priority]int {
	out := make(map[models.Priority]int, len(models.Priorities))
	for _, p := range models.Priorities {
		out[p] = observed[p]
	}
	return out
}

func statusCounts(observed map[models.Status]int) map[models.Status]int {
	out := make(map[models.Status]int, len(models.Statuses))
	for _, s := range models.Statuses {
		out[s] = observed[s]
	}
	return out
}

// priorityByStatus keeps only statuses that have tasks and zero-fills the
// priorities under each of them.
func priorityByStatus(observed map[models.Status]map[models.Priority]int) map[models.Status]map[models.Priority]int {
	out := make(map[models.Status]map[models.Priority]int, len(observed))
	for status, counts := range observed {
		total := 0
		for _, n := range counts {
			total += n
		}
		if total == 0 {
			continue
		}
		out[status] = priorityCounts(counts)
	}
	return out
}
