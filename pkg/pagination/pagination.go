// Package pagination reads limit/offset query parameters and shapes
// paginated list responses.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 25
	MaxLimit     = 200
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Values that do not parse, are
// negative or exceed MaxLimit are coerced rather than rejected.
func FromContext(c echo.Context) Params {
	return parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

func parse(rawLimit, rawOffset string) Params {
	limit, err := strconv.Atoi(rawLimit)
	switch {
	case err != nil || limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	offset, err := strconv.Atoi(rawOffset)
	if err != nil || offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Response is the envelope for every list endpoint.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Next    string      `json:"next,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	p := Params{Limit: limit, Offset: offset}
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: p.HasNext(total),
	}
}

// WithNext sets the link to the following page, keeping the request's
// other query parameters.
func (r *Response) WithNext(path string, query url.Values) *Response {
	p := Params{Limit: r.Limit, Offset: r.Offset}
	if !p.HasNext(r.Total) {
		return r
	}
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.NextOffset()))
	r.Next = path + "?" + q.Encode()
	return r
}

// SQL returns the LIMIT/OFFSET clause. Both values are integers so the
// result is safe to append to a query.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// Bounds returns the [start, end) slice indexes of the page within a
// result of length n.
func (p Params) Bounds(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// Page slices an in-memory result to the requested window.
func Page[T any](items []T, p Params) []T {
	start, end := p.Bounds(len(items))
	return items[start:end]
}
