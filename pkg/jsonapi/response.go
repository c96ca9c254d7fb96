package jsonapi

import (
	"encoding/json"
	"net/http"
)

// WriteDocument writes a JSON:API document to the response.
func WriteDocument(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// WriteData writes data as the primary data of a document.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteDocument(w, status, NewDocument().Data(data).Build())
}

// WriteError writes an error document. The HTTP status is taken from the
// first error.
func WriteError(w http.ResponseWriter, errs ...Error) {
	if len(errs) == 0 {
		errs = []Error{Internal("")}
	}
	WriteDocument(w, errs[0].StatusCode(), NewDocument().Errors(errs...).Build())
}

// WriteCreated writes a 201 response with an optional Location header.
func WriteCreated(w http.ResponseWriter, data any, location string) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	WriteData(w, http.StatusCreated, data)
}

// WriteBadRequest is a convenience for 400 errors.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, BadRequest(detail))
}
