package model

// FirstPage is the 1-based start of every paginated listing.
const FirstPage = 1

// PageMeta is the pagination block returned with every listing response.
type PageMeta struct {
	Page      int `json:"page"`
	PageTotal int `json:"page_total"`
	PageSize  int `json:"page_size"`
	Total     int `json:"total"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items []T      `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// Last reports whether the crawl must stop after this page: an empty page, or the
// reported current page has reached the reported total.
func (p Page[T]) Last() bool {
	return len(p.Items) == 0 || p.Meta.Page >= p.Meta.PageTotal
}

// Next returns the page number to request after this one.
func (p Page[T]) Next() int {
	return p.Meta.Page + 1
}
