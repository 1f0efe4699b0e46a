package core

import (
	"os"
	"strconv"
	"strings"
)

// Constants for pagination
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SortDirection represents the sort order
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortField represents a field to sort by
type SortField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Pagination represents pagination parameters
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// QueryParameters carries include paths, sparse fieldsets, sorting,
// pagination and filters. The store passes it to adapters unmodified.
type QueryParameters struct {
	Include    []string            `json:"include"`
	Fields     map[string][]string `json:"fields"`
	Filters    map[string]any      `json:"filters"`
	Sort       []SortField         `json:"sort"`
	Pagination Pagination          `json:"pagination"`
}

// Page represents paginated query results
type Page struct {
	Items      []any           `json:"items"`
	TotalCount int64           `json:"total_count"`
	HasMore    bool            `json:"has_more"`
	Query      QueryParameters `json:"query"`
}

// NewQueryParameters creates query parameters with default pagination
func NewQueryParameters() *QueryParameters {
	pageSize := getPageSizeFromEnv()
	return &QueryParameters{
		Include: []string{},
		Fields:  make(map[string][]string),
		Filters: make(map[string]any),
		Sort:    []SortField{},
		Pagination: Pagination{
			Limit:  pageSize,
			Offset: 0,
		},
	}
}

// WithInclude adds include paths
func (q *QueryParameters) WithInclude(paths ...string) *QueryParameters {
	q.Include = append(q.Include, paths...)
	return q
}

// WithFields sets the sparse fieldset for a resource type
func (q *QueryParameters) WithFields(resourceType string, fields ...string) *QueryParameters {
	if q.Fields == nil {
		q.Fields = make(map[string][]string)
	}
	q.Fields[resourceType] = fields
	return q
}

// WithFilters adds filters to the query
func (q *QueryParameters) WithFilters(filters map[string]any) *QueryParameters {
	if q.Filters == nil {
		q.Filters = make(map[string]any)
	}
	for k, v := range filters {
		q.Filters[k] = v
	}
	return q
}

// WithSort adds a sort field to the query
func (q *QueryParameters) WithSort(field string, direction SortDirection) *QueryParameters {
	q.Sort = append(q.Sort, SortField{
		Field:     field,
		Direction: direction,
	})
	return q
}

// WithPagination sets pagination parameters
func (q *QueryParameters) WithPagination(limit, offset int) *QueryParameters {
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if limit <= 0 {
		limit = getPageSizeFromEnv()
	}
	if offset < 0 {
		offset = 0
	}

	q.Pagination.Limit = limit
	q.Pagination.Offset = offset
	return q
}

// NextPage creates new query parameters for the next page
func (q *QueryParameters) NextPage() *QueryParameters {
	next := &QueryParameters{
		Include:    make([]string, len(q.Include)),
		Fields:     make(map[string][]string, len(q.Fields)),
		Filters:    make(map[string]any, len(q.Filters)),
		Sort:       make([]SortField, len(q.Sort)),
		Pagination: q.Pagination,
	}

	copy(next.Include, q.Include)
	copy(next.Sort, q.Sort)
	for k, v := range q.Fields {
		next.Fields[k] = append([]string(nil), v...)
	}
	for k, v := range q.Filters {
		next.Filters[k] = v
	}

	// Advance pagination
	next.Pagination.Offset += next.Pagination.Limit

	return next
}

// GetCurrentPage returns the current page number (1-indexed)
func (q *QueryParameters) GetCurrentPage() int {
	if q.Pagination.Limit <= 0 {
		return 1
	}
	return (q.Pagination.Offset / q.Pagination.Limit) + 1
}

// HasFilters returns true if the query has any filters
func (q *QueryParameters) HasFilters() bool {
	return len(q.Filters) > 0
}

// HasSort returns true if the query has sorting
func (q *QueryParameters) HasSort() bool {
	return len(q.Sort) > 0
}

// HasInclude reports whether path was requested as an include path
func (q *QueryParameters) HasInclude(path string) bool {
	for _, p := range q.Include {
		if p == path {
			return true
		}
	}
	return false
}

// GetPrimarySort returns the first sort field, or nil if none
func (q *QueryParameters) GetPrimarySort() *SortField {
	if len(q.Sort) > 0 {
		return &q.Sort[0]
	}
	return nil
}

// ParseSort parses a comma separated sort list where a leading "-" means
// descending, e.g. "-created-at,title".
func ParseSort(value string) []SortField {
	var fields []SortField
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			fields = append(fields, SortField{Field: part[1:], Direction: SortDesc})
			continue
		}
		fields = append(fields, SortField{Field: part, Direction: SortAsc})
	}
	return fields
}

// getPageSizeFromEnv gets page size from environment variable or default
func getPageSizeFromEnv() int {
	if envSize := os.Getenv("APISTORE_PAGE_SIZE"); envSize != "" {
		if size, err := strconv.Atoi(envSize); err == nil && size > 0 && size <= MaxPageSize {
			return size
		}
	}
	return DefaultPageSize
}

// String returns a string representation of the sort direction
func (sd SortDirection) String() string {
	return string(sd)
}

// IsValid checks if the sort direction is valid
func (sd SortDirection) IsValid() bool {
	return sd == SortAsc || sd == SortDesc
}

// Opposite returns the opposite sort direction
func (sd SortDirection) Opposite() SortDirection {
	if sd == SortAsc {
		return SortDesc
	}
	return SortAsc
}
