package gopagecache

const (
	FirstPage       = 1
	MaxPageSize     = 100
	DefaultPageSize = 10
)

// IsNormalizedPageSizeMax returns the page size to use and whether the input
// was already acceptable.
func IsNormalizedPageSizeMax(pageSize int, defaultPageSize int, maxPageSize int) (int, bool) {
	if pageSize <= 0 {
		return defaultPageSize, false
	} else if maxPageSize > 0 && pageSize > maxPageSize {
		return maxPageSize, false
	}

	return pageSize, true
}

// Offset returns the index of the first item of page.
func Offset(page, pageSize int) int {
	return (page - 1) * pageSize
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}

	return (total + pageSize - 1) / pageSize
}
