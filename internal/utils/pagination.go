// Package utils provides small, generic helpers shared across layers,
// independent of domain logic.
package utils

import "strconv"

// AtoiDefault converts s to an int, returning def when s is empty or
// unparsable.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses raw page/page_size query values, applying defaults
// and caps. Page is 1-based.
func ClampPage(pageRaw, sizeRaw string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeRaw, defSize)
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}
