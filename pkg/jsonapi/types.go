// Package jsonapi writes JSON:API top-level documents and error objects.
// Primary data is whatever the handler renders; for hyperchannels that is a
// rendered object with its "@id" reference or a page of references.
// Documents follow https://jsonapi.org.
package jsonapi

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Document represents a JSON:API top-level document.
// A document MUST contain at least one of: data, errors, or meta.
type Document struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
	Links  *Links  `json:"links,omitempty"`
}

// Links are the top-level navigation links of a paged document.
type Links struct {
	Self  string `json:"self,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Error represents a JSON:API error object. It also satisfies the error
// interface so handlers can pass it through helpers that return errors.
type Error struct {
	ID     string       `json:"id,omitempty"` // request id
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
	Meta   Meta         `json:"meta,omitempty"`
}

// ErrorSource indicates the source of an error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`   // JSON pointer into the request body
	Parameter string `json:"parameter,omitempty"` // query parameter
}

// Meta represents arbitrary metadata.
type Meta map[string]any
