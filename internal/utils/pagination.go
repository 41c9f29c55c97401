// Package utils provides small helpers shared by the HTTP and service
// layers. They carry no domain logic.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, returning def when s is blank or invalid.
// Surrounding whitespace is ignored.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage bounds a 1-based page number and a page size. Sizes below 1
// become 1 and sizes above maxSize become maxSize.
func ClampPage(page, pageSize, maxSize int) (int, int) {
	return max(page, 1), min(max(pageSize, 1), maxSize)
}

// Offset returns the row offset of a 1-based page.
func Offset(page, pageSize int) int {
	if page < 1 || pageSize < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// TotalPages returns how many pages of pageSize rows cover total rows.
func TotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize < 1 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
