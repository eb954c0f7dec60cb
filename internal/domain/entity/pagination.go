package entity

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListParams is the paging and filter input shared by list operations
type ListParams struct {
	Page           int
	Limit          int
	Search         string
	IncludeDeleted bool
}

// Normalize clamps page and limit into their allowed ranges
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset is the number of rows to skip for the page
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Page is one slice of a list result
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

// NewPage wraps data with paging metadata. p must already be normalized.
func NewPage[T any](data []T, total int, p ListParams) Page[T] {
	if data == nil {
		data = []T{}
	}
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: pages,
	}
}
