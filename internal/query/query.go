// Package query turns optional list parameters into a store query that is
// always scoped to the calling user.
package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
)

const (
	// DefaultPage is used when the page parameter is missing or not positive.
	DefaultPage = 1
	// DefaultLimit is used when the limit parameter is missing or not positive.
	DefaultLimit = 10
)

// SortField names a sortable task column.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortDueDate   SortField = "dueDate"
	SortTitle     SortField = "title"
	SortPriority  SortField = "priority"
	SortStatus    SortField = "status"
)

var sortFields = map[string]SortField{
	string(SortCreatedAt): SortCreatedAt,
	string(SortUpdatedAt): SortUpdatedAt,
	string(SortDueDate):   SortDueDate,
	string(SortTitle):     SortTitle,
	string(SortPriority):  SortPriority,
	string(SortStatus):    SortStatus,
}

// Params holds the raw list parameters exactly as the client sent them.
type Params struct {
	Search    string `form:"search"`
	Status    string `form:"status"`
	Priority  string `form:"priority"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	Page      string `form:"page"`
	Limit     string `form:"limit"`
}

// Filter selects tasks. Nil and empty fields do not constrain the result.
// DueFrom and DueTo are inclusive, DueBefore is exclusive.
type Filter struct {
	UserID    string
	Search    string
	Status    *models.Status
	Priority  *models.Priority
	DueFrom   *time.Time
	DueTo     *time.Time
	DueBefore *time.Time
}

// Sort is a single-key ordering.
type Sort struct {
	Field      SortField
	Descending bool
}

// Query is a filter plus a sort and page window.
type Query struct {
	Filter Filter
	Sort   Sort
	Page   int
	Limit  int
	Skip   int
}

// Build validates p and scopes the resulting query to userID.
func Build(userID string, p Params) (Query, error) {
	filter, err := BuildFilter(userID, p)
	if err != nil {
		return Query{}, err
	}

	page := positiveInt(p.Page, DefaultPage)
	limit := positiveInt(p.Limit, DefaultLimit)
	// Past this page the offset would overflow; every such page is empty anyway.
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}

	return Query{
		Filter: filter,
		Sort:   buildSort(p.SortBy, p.SortOrder),
		Page:   page,
		Limit:  limit,
		Skip:   (page - 1) * limit,
	}, nil
}

// BuildFilter returns only the filter part of p.
func BuildFilter(userID string, p Params) (Filter, error) {
	f := Filter{UserID: userID, Search: strings.TrimSpace(p.Search)}
	var fields []apperr.FieldError

	if p.Status != "" {
		status, err := models.ParseStatus(p.Status)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "status", Message: "Status must be Pending or Completed"})
		} else {
			f.Status = &status
		}
	}
	if p.Priority != "" {
		priority, err := models.ParsePriority(p.Priority)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "priority", Message: "Priority must be High, Medium, or Low"})
		} else {
			f.Priority = &priority
		}
	}
	if p.StartDate != "" {
		from, _, err := models.ParseDate(p.StartDate)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "startDate", Message: "Invalid date format"})
		} else {
			f.DueFrom = &from
		}
	}
	if p.EndDate != "" {
		to, dateOnly, err := models.ParseDate(p.EndDate)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "endDate", Message: "Invalid date format"})
		} else {
			if dateOnly {
				to = to.Add(24*time.Hour - time.Nanosecond)
			}
			f.DueTo = &to
		}
	}

	if len(fields) > 0 {
		return Filter{}, apperr.Invalid(fields...)
	}
	return f, nil
}

func buildSort(sortBy, sortOrder string) Sort {
	field, ok := sortFields[sortBy]
	if !ok {
		field = SortCreatedAt
	}
	return Sort{
		Field:      field,
		Descending: sortOrder == "" || sortOrder == "desc",
	}
}

// positiveInt mirrors a lenient integer coercion: anything that is not a
// positive integer yields fallback.
func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Pages is the number of pages needed to show total rows limit at a time.
func Pages(total, limit int) int {
	if limit < 1 || total < 1 {
		return 0
	}
	return (total + limit - 1) / limit
}
