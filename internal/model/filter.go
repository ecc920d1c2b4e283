package model

import "math"

// RecordFilter holds criteria for a paged record listing.
type RecordFilter struct {
	Kind     Kind   `json:"kind"`
	Search   string `json:"search,omitempty"` // case-insensitive substring on name
	Page     int    `json:"page"`             // 1-based
	PageSize int    `json:"page_size"`
}

// Offset returns the number of rows to skip for the filter's page. It
// saturates at math.MaxInt instead of overflowing.
func (f RecordFilter) Offset() int {
	if f.Page < 1 || f.PageSize < 1 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PageSize {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PageSize
}

// Page is one page of a record listing.
type Page struct {
	Items      []*Record `json:"items"`
	Total      int       `json:"total"`
	PageNo     int       `json:"page_no"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// NewPage builds a Page, computing TotalPages from total and pageSize.
func NewPage(items []*Record, total, pageNo, pageSize int) *Page {
	if items == nil {
		items = []*Record{}
	}
	pages := 0
	if pageSize > 0 {
		pages = total / pageSize
		if total%pageSize != 0 {
			pages++
		}
	}
	return &Page{
		Items:      items,
		Total:      total,
		PageNo:     pageNo,
		PageSize:   pageSize,
		TotalPages: pages,
	}
}
