// Package utils provides small helpers shared by the transport layer that
// carry no domain logic.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a 1-based page request.
type Page struct {
	Page     int
	PageSize int
}

// ClampPage parses raw page and page size strings. Missing or invalid values
// take page 1 and defSize; the size is clamped to [1, maxSize].
func ClampPage(rawPage, rawSize string, defSize, maxSize int) Page {
	p := Page{
		Page:     AtoiDefault(rawPage, 1),
		PageSize: AtoiDefault(rawSize, defSize),
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 1
	}
	if maxSize > 0 && p.PageSize > maxSize {
		p.PageSize = maxSize
	}
	return p
}

// Offset is the number of items before this page.
func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

// TotalPages is the number of pages needed for total items.
func (p Page) TotalPages(total int64) int {
	if p.PageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
}
