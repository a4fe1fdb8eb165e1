package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPage    = 1
	defaultPerPage = 25
	maxPerPage     = 100
)

// PaginationParams are the page and page size of a history query
type PaginationParams struct {
	Page    int
	PerPage int
}

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ParsePagination reads page and per_page. per_page is clamped to 100;
// limit is accepted as an alias for detectors that page by limit.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	p := PaginationParams{
		Page:    positiveInt(q.Get("page"), defaultPage),
		PerPage: defaultPerPage,
	}

	perPage := q.Get("per_page")
	if perPage == "" {
		perPage = q.Get("limit")
	}
	p.PerPage = min(positiveInt(perPage, defaultPerPage), maxPerPage)
	return p
}

func positiveInt(v string, fallback int) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return fallback
}

// Offset returns the store offset of the first row on the page
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages returns the number of pages holding total rows
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// Paginate wraps one page of data
func (p PaginationParams) Paginate(data interface{}, total int64) PaginatedResponse {
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
			HasMore:    int64(p.Offset()+p.PerPage) < total,
		},
	}
}
