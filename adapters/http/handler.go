// Package http exposes the reference service over HTTP.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/artpar/hyperchannels/app"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/pkg/jsonapi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Build information, set by the cmd package.
var (
	BuildVersion = "dev"
	ServiceName  = "hyperchannels"
)

const maxBodyBytes = 1 << 20

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// StreamInfo describes a registered stream.
type StreamInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	Store   string   `json:"store"`
	Actions []string `json:"actions"`
}

// DecodeRequest is the body of POST /references/decode. Value is either a
// reference object or a bare primary key; serializer and field select the
// field configuration used for bare keys.
type DecodeRequest struct {
	Serializer string          `json:"serializer,omitempty"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value"`
}

// Handler serves the reference API.
type Handler struct {
	service *app.ReferenceService
	logger  zerolog.Logger
}

// NewHandler creates a new reference API handler.
func NewHandler(service *app.ReferenceService, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Liveness reports that the process is up.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness reports whether a stream registry is in effect.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := h.service.Snapshot()
	if snap == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "unavailable",
			"error":  app.ErrNoSnapshot.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"streams":  snap.Registry.Len(),
		"built_at": snap.BuiltAt,
	})
}

// Version returns build information.
func Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version: BuildVersion,
		Service: ServiceName,
	})
}

// ListStreams lists the registered streams in registry order.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	snap := h.service.Snapshot()
	if snap == nil {
		h.writeError(w, r, app.ErrNoSnapshot)
		return
	}

	out := make([]StreamInfo, 0, snap.Registry.Len())
	for _, d := range snap.Registry.Entries() {
		out = append(out, StreamInfo{
			Name:    d.Name,
			Type:    string(d.OwnedType),
			Store:   snap.Streams[d.Name].Store,
			Actions: d.Actions.List(),
		})
	}
	jsonapi.WriteDocument(w, http.StatusOK, jsonapi.NewDocument().
		Data(out).
		Meta("built_at", snap.BuiltAt).
		Build())
}

// Decode resolves a reference or bare primary key.
func (h *Handler) Decode(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if err := decodeBody(r, &req); err != nil {
		jsonapi.WriteBadRequest(w, err.Error())
		return
	}
	if len(req.Value) == 0 || string(req.Value) == "null" {
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusBadRequest, "bad_request").
			Detail("value is required").
			Pointer("/value").
			Build())
		return
	}

	obj, err := h.service.Decode(r.Context(), req.Serializer, req.Field, req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, model.Dehydrate(obj))
}

// ListObjects renders one page of a stream's records as references.
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")

	page, err := jsonapi.ParsePage(r.URL.Query())
	if err != nil {
		jsonapi.WriteBadRequest(w, err.Error())
		return
	}

	refs, err := h.service.RenderList(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonapi.WriteDocument(w, http.StatusOK, jsonapi.NewDocument().
		Data(jsonapi.Slice(refs, page)).
		Page(page, len(refs), r.URL.Path).
		Build())
}

// GetObject renders one record with its stream's serializer.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")
	pk, err := url.PathUnescape(chi.URLParam(r, "pk"))
	if err != nil {
		jsonapi.WriteBadRequest(w, "invalid pk")
		return
	}

	doc, err := h.service.Render(r.Context(), name, pk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonapi.WriteData(w, http.StatusOK, doc)
}

// CreateObject stores a record in a stream. The body holds the record's
// fields; related records are nested as {type, fields}.
func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		jsonapi.WriteBadRequest(w, err.Error())
		return
	}
	if fields == nil {
		jsonapi.WriteBadRequest(w, "body must be a JSON object")
		return
	}

	rec, err := h.service.Create(r.Context(), name, fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pk, _ := rec.PK()
	key, _ := model.KeyString(pk)
	location := "/streams/" + url.PathEscape(name) + "/objects/" + url.PathEscape(key)

	doc, err := h.service.Render(r.Context(), name, pk)
	if errors.Is(err, app.ErrNoSerializer) {
		jsonapi.WriteCreated(w, model.Dehydrate(rec), location)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonapi.WriteCreated(w, doc, location)
}

// RecentDecodes lists audited decodes, newest first.
func (h *Handler) RecentDecodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonapi.WriteError(w, jsonapi.NewError(http.StatusBadRequest, "bad_request").
				Detail("limit must be a positive integer").
				Parameter("limit").
				Build())
			return
		}
		limit = min(n, 500)
	}

	entries, err := h.service.RecentDecodes(r.Context(), q.Get("stream"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]decodeEntryView, len(entries))
	for i, e := range entries {
		out[i] = decodeEntryView{
			ID:        e.ID,
			RequestID: e.RequestID,
			Stream:    e.Stream,
			Action:    e.Action,
			Payload:   e.Payload,
			Outcome:   e.Outcome,
			CreatedAt: e.CreatedAt,
		}
	}
	jsonapi.WriteDocument(w, http.StatusOK, jsonapi.NewDocument().
		Data(out).
		Meta("count", len(out)).
		Build())
}

type decodeEntryView struct {
	ID        string         `json:"id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Stream    string         `json:"stream"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Outcome   string         `json:"outcome"`
	CreatedAt time.Time      `json:"created_at"`
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
