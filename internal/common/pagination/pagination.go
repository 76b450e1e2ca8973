package pagination

import (
	"net/http"
	"strconv"
)

// Params represents pagination parameters
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Limit   int `json:"-"` // PerPage+1 so the store reveals whether another page exists
	Offset  int `json:"-"`
}

// Response represents a paginated response
type Response[T any] struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
	Results []T  `json:"results"`
}

// DefaultPerPage is the default number of items per page
const DefaultPerPage = 20

// MaxPerPage is the maximum allowed items per page
const MaxPerPage = 100

// ParseParams extracts pagination parameters from HTTP request
func ParseParams(r *http.Request) Params {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return Params{
		Page:    page,
		PerPage: perPage,
		Limit:   perPage + 1,
		Offset:  (page - 1) * perPage,
	}
}

// NewResponse trims a result set fetched with Params.Limit down to one page.
func NewResponse[T any](results []T, p Params) Response[T] {
	hasMore := len(results) > p.PerPage
	if hasMore {
		results = results[:p.PerPage]
	}
	if results == nil {
		results = []T{}
	}
	return Response[T]{
		Page:    p.Page,
		PerPage: p.PerPage,
		HasMore: hasMore,
		Results: results,
	}
}
