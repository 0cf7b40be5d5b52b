package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskapi/internal/models"
	"taskapi/internal/query"
)

const taskColumns = `id, user_id, title, description, due_date, priority, status, created_at, updated_at`

var sortColumns = map[query.SortField]string{
	query.SortCreatedAt: "created_at",
	query.SortUpdatedAt: "updated_at",
	query.SortDueDate:   "due_date",
	query.SortTitle:     "title",
	query.SortPriority:  "CASE priority WHEN 'High' THEN 3 WHEN 'Medium' THEN 2 ELSE 1 END",
	query.SortStatus:    "status",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t                models.Task
		due              sql.NullString
		priority, status string
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &due, &priority, &status, &created, &updated); err != nil {
		return models.Task{}, err
	}

	var err error
	if t.Priority, err = models.ParsePriority(priority); err != nil {
		return models.Task{}, err
	}
	if t.Status, err = models.ParseStatus(status); err != nil {
		return models.Task{}, err
	}
	if due.Valid {
		d, err := parseTime(due.String)
		if err != nil {
			return models.Task{}, err
		}
		t.DueDate = &d
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return models.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// where renders f as a SQL condition. The owner clause is always present.
func where(f query.Filter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{f.UserID}

	if f.Search != "" {
		clauses = append(clauses, "(instr(unicode_lower(title), unicode_lower(?)) > 0 OR instr(unicode_lower(description), unicode_lower(?)) > 0)")
		args = append(args, f.Search, f.Search)
	}
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, string(*f.Priority))
	}
	if f.DueFrom != nil {
		clauses = append(clauses, "due_date >= ?")
		args = append(args, formatTime(*f.DueFrom))
	}
	if f.DueTo != nil {
		clauses = append(clauses, "due_date <= ?")
		args = append(args, formatTime(*f.DueTo))
	}
	if f.DueBefore != nil {
		clauses = append(clauses, "due_date < ?")
		args = append(args, formatTime(*f.DueBefore))
	}
	return strings.Join(clauses, " AND "), args
}

func orderBy(s query.Sort) string {
	col, ok := sortColumns[s.Field]
	if !ok {
		col = sortColumns[query.SortCreatedAt]
	}
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

// FindTasks returns one page of the tasks matching q.
func (s *Store) FindTasks(ctx context.Context, q query.Query) ([]models.Task, error) {
	cond, args := where(q.Filter)
	stmt := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + cond + ` ORDER BY ` + orderBy(q.Sort)
	if q.Limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Skip)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasks counts every task matching f, ignoring any page window.
func (s *Store) CountTasks(ctx context.Context, f query.Filter) (int, error) {
	cond, args := where(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// InsertTask persists a fully populated task.
func (s *Store) InsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, nullTime(t.DueDate), string(t.Priority), string(t.Status),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.FindTask(ctx, t.UserID, t.ID)
}

// FindTask retrieves a task by id, only if userID owns it.
func (s *Store) FindTask(ctx context.Context, userID, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, errTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites the mutable fields of an owned task.
func (s *Store) UpdateTask(ctx context.Context, t models.Task) (models.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, due_date = ?, priority = ?, status = ?, updated_at = ?
        WHERE id = ? AND user_id = ?`,
		t.Title, t.Description, nullTime(t.DueDate), string(t.Priority), string(t.Status), formatTime(t.UpdatedAt), t.ID, t.UserID)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Task{}, err
	}
	if affected == 0 {
		return models.Task{}, errTaskNotFound
	}
	return s.FindTask(ctx, t.UserID, t.ID)
}

// DeleteTask removes an owned task.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errTaskNotFound
	}
	return nil
}

// CountByPriority groups the user's tasks by priority. Missing priorities are
// absent from the result.
func (s *Store) CountByPriority(ctx context.Context, userID string) (map[models.Priority]int, error) {
	counts := map[models.Priority]int{}
	err := s.groupCount(ctx, `SELECT priority, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY priority`, userID, func(key string, n int) error {
		p, err := models.ParsePriority(key)
		if err != nil {
			return err
		}
		counts[p] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count by priority: %w", err)
	}
	return counts, nil
}

// CountByStatus groups the user's tasks by status.
func (s *Store) CountByStatus(ctx context.Context, userID string) (map[models.Status]int, error) {
	counts := map[models.Status]int{}
	err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status`, userID, func(key string, n int) error {
		st, err := models.ParseStatus(key)
		if err != nil {
			return err
		}
		counts[st] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return counts, nil
}

// CountByStatusAndPriority groups the user's tasks by (status, priority). Only
// observed pairs are returned.
func (s *Store) CountByStatusAndPriority(ctx context.Context, userID string) (map[models.Status]map[models.Priority]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, priority, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status, priority`, userID)
	if err != nil {
		return nil, fmt.Errorf("count by status and priority: %w", err)
	}
	defer rows.Close()

	counts := map[models.Status]map[models.Priority]int{}
	for rows.Next() {
		var (
			rawStatus, rawPriority string
			n                      int
		)
		if err := rows.Scan(&rawStatus, &rawPriority, &n); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		st, err := models.ParseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		p, err := models.ParsePriority(rawPriority)
		if err != nil {
			return nil, err
		}
		if counts[st] == nil {
			counts[st] = map[models.Priority]int{}
		}
		counts[st][p] = n
	}
	return counts, rows.Err()
}

// CompletionByDay counts tasks created in [since, until] per UTC calendar day,
// oldest day first. Days without tasks are omitted.
func (s *Store) CompletionByDay(ctx context.Context, userID string, since, until time.Time) ([]models.DayCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT substr(created_at, 1, 10) AS day,
            SUM(CASE WHEN status = 'Completed' THEN 1 ELSE 0 END),
            COUNT(*)
        FROM tasks
        WHERE user_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY day
        ORDER BY day ASC`, userID, formatTime(since), formatTime(until))
	if err != nil {
		return nil, fmt.Errorf("completion by day: %w", err)
	}
	defer rows.Close()

	days := []models.DayCompletion{}
	for rows.Next() {
		var d models.DayCompletion
		if err := rows.Scan(&d.Date, &d.Completed, &d.Total); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *Store) groupCount(ctx context.Context, stmt, userID string, add func(key string, n int) error) error {
	rows, err := s.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if err := add(key, n); err != nil {
			return err
		}
	}
	return rows.Err()
}
