package jsonapi

import (
	"fmt"
	"net/url"
	"strconv"
)

// Page size limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a window of an ordered list, addressed with the JSON:API
// page[number] and page[size] parameters. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page[number] and page[size] from query. Missing values
// take defaults; sizes above MaxPageSize are capped. Malformed values are
// an error naming the parameter.
func ParsePage(query url.Values) (Page, error) {
	p := Page{Number: 1, Size: DefaultPageSize}

	for _, param := range []struct {
		name string
		dst  *int
	}{
		{"page[number]", &p.Number},
		{"page[size]", &p.Size},
	} {
		v := query.Get(param.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("%s must be a positive integer", param.name)
		}
		*param.dst = n
	}

	p.Size = min(p.Size, MaxPageSize)
	return p, nil
}

// Pages returns how many pages total items fill. An empty list has one
// (empty) page.
func (p Page) Pages(total int) int {
	if total == 0 {
		return 1
	}
	return (total + p.Size - 1) / p.Size
}

// Bounds returns the [lo, hi) window of the page within total items.
func (p Page) Bounds(total int) (lo, hi int) {
	lo = min((p.Number-1)*p.Size, total)
	hi = min(lo+p.Size, total)
	return lo, hi
}

// Meta returns the page metadata for a list of total items.
func (p Page) Meta(total int) Meta {
	return Meta{
		"total":  total,
		"number": p.Number,
		"size":   p.Size,
		"pages":  p.Pages(total),
	}
}

// Links returns navigation links relative to base. prev and next are
// omitted at the ends.
func (p Page) Links(base string, total int) *Links {
	last := p.Pages(total)
	links := &Links{
		Self:  p.url(base, p.Number),
		First: p.url(base, 1),
		Last:  p.url(base, last),
	}
	if p.Number > 1 {
		links.Prev = p.url(base, min(p.Number-1, last))
	}
	if p.Number < last {
		links.Next = p.url(base, p.Number+1)
	}
	return links
}

func (p Page) url(base string, number int) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("page[number]", strconv.Itoa(number))
	q.Set("page[size]", strconv.Itoa(p.Size))
	u.RawQuery = q.Encode()
	return u.String()
}

// Slice returns the items of page p.
func Slice[T any](items []T, p Page) []T {
	lo, hi := p.Bounds(len(items))
	return items[lo:hi]
}
