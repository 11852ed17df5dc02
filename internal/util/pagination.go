package util

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Paginate turns 1-based page and size query values into an offset and
// limit. Missing or out of range values fall back to the first page and
// DefaultPageSize.
func Paginate(pageParam, sizeParam string) (from, size int) {
	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 1 {
		page = 1
	}
	size, err = strconv.Atoi(sizeParam)
	if err != nil || size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	return (page - 1) * size, size
}
