package engine

import (
	"fmt"

	"github.com/aethra/domus/internal/security"
	"gorm.io/gorm"
)

// QueryParams represents parameters for listing/filtering records
type QueryParams struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Sort     string            `json:"sort"`
	SortDir  string            `json:"sort_dir"`
	Search   string            `json:"search"`
	Filters  map[string]string `json:"filters"`
}

// QueryResult represents one page of a list query
type QueryResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
	// maxPage keeps the row offset well inside int range
	maxPage = 1000000
)

func (p *QueryParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
}

// WithFilter returns a copy of p with one more equality filter
func (p QueryParams) WithFilter(field, value string) QueryParams {
	filters := make(map[string]string, len(p.Filters)+1)
	for k, v := range p.Filters {
		filters[k] = v
	}
	filters[field] = value
	p.Filters = filters
	return p
}

// listSpec declares which columns a list endpoint may search, filter and
// sort on
type listSpec struct {
	searchable   []string
	filterable   []string
	sortable     []string
	defaultOrder string
}

func (s listSpec) allows(field string) bool {
	for _, f := range s.filterable {
		if f == field {
			return true
		}
	}
	return false
}

// paginate applies search, filters, ordering and paging to q, which must
// carry its model.
func paginate[T any](q *gorm.DB, params QueryParams, spec listSpec) (*QueryResult[T], error) {
	params.normalize()

	if cond, args := security.SearchCondition(spec.searchable, params.Search); cond != "" {
		q = q.Where(cond, args...)
	}
	for field, value := range params.Filters {
		if value == "" || !spec.allows(field) {
			continue
		}
		q = q.Where(fmt.Sprintf("%s = ?", security.QuoteIdentifier(field)), value)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	order := security.OrderClause(spec.sortable, params.Sort, params.SortDir, spec.defaultOrder)
	data := make([]T, 0)
	err := q.Order(order).
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&data).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	totalPages := int(total) / params.PageSize
	if int(total)%params.PageSize > 0 {
		totalPages++
	}

	return &QueryResult[T]{
		Data:       data,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}
