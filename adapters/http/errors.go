package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/artpar/hyperchannels/app"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/artpar/hyperchannels/pkg/jsonapi"
	"github.com/artpar/hyperchannels/ports"
)

// errorFor maps a service error to a JSON:API error object.
//
//	configuration_error           500
//	not_found                     404
//	other reference failures      422
//	unknown stream / serializer   404
//	no registry / store missing   503
func errorFor(err error) jsonapi.Error {
	if code := reference.CodeOf(err); code != "" {
		switch code {
		case reference.CodeConfiguration:
			return jsonapi.NewError(http.StatusInternalServerError, string(code)).Detail(err.Error()).Build()
		case reference.CodeNotFound:
			return jsonapi.NotFound(err.Error())
		}
		return jsonapi.Unprocessable(string(code), err.Error())
	}

	switch {
	case errors.Is(err, app.ErrUnknownStream), errors.Is(err, app.ErrNoSerializer),
		errors.Is(err, ports.ErrNotFound):
		return jsonapi.NotFound(err.Error())
	case errors.Is(err, app.ErrUnknownField):
		return jsonapi.NewError(http.StatusUnprocessableEntity, "unknown_field").
			Detail(err.Error()).
			Pointer("/field").
			Build()
	case errors.Is(err, app.ErrNoSnapshot), errors.Is(err, app.ErrStoreUnavailable):
		return jsonapi.Unavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonapi.Timeout(err.Error())
	}
	return jsonapi.Internal("")
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errorFor(err)
	e.ID = app.RequestIDFrom(r.Context())

	if e.StatusCode() >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", e.ID).
			Msg("request failed")
	}
	jsonapi.WriteError(w, e)
}
