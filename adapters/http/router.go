package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/hyperchannels/adapters/idgen"
	"github.com/artpar/hyperchannels/adapters/metrics"
	"github.com/artpar/hyperchannels/app"
	"github.com/artpar/hyperchannels/pkg/jsonapi"
	"github.com/artpar/hyperchannels/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics     *metrics.Collector
	MetricsPath string            // default: /metrics
	IDs         ports.IDGenerator // request ids; default: UUIDv4
	Timeout     time.Duration     // per-request timeout; default 60s
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(NewRequestIDMiddleware(cfg.IDs))
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteError(w, jsonapi.NotFound("no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteError(w, jsonapi.MethodNotAllowed(r.Method))
	})

	// Health endpoints
	r.Get("/health", h.Liveness)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
	r.Get("/version", Version)

	if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, cfg.Metrics.Handler())
	}

	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{stream}/objects", func(r chi.Router) {
		r.Get("/", h.ListObjects)
		r.Post("/", h.CreateObject)
		r.Get("/{pk}", h.GetObject)
	})
	r.Post("/references/decode", h.Decode)
	r.Get("/decodes", h.RecentDecodes)

	return r
}

// NewRequestIDMiddleware assigns every request an id. An incoming
// X-Request-ID header is kept. The id is echoed in the response and stored
// where both chi's middleware.GetReqID and app.RequestIDFrom find it.
func NewRequestIDMiddleware(ids ports.IDGenerator) func(next http.Handler) http.Handler {
	if ids == nil {
		ids = idgen.UUID{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > 128 {
				id = ids.New()
			}

			ctx := app.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, middleware.RequestIDKey, id)
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMetricsMiddleware creates middleware that records request metrics.
// Requests are labelled by route pattern, not raw path.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics for internal endpoints
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}

// NewLoggingMiddleware logs HTTP requests.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == metricsPath {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
