package handler

import (
	"net/http"
	"strconv"
)

// List endpoints page at DefaultLimit unless the query asks for less;
// anything above MaxLimit falls back to the default.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit/offset from the query string. Malformed or
// out-of-range values are not an error; they collapse to the defaults.
func ParsePagination(r *http.Request) PaginationParams {
	p := PaginationParams{Limit: DefaultLimit}

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit <= MaxLimit {
		p.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		p.Offset = offset
	}

	return p
}
