package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/lucko/bytebin/internal/metrics"
)

// NewRouter builds bytebin's HTTP handler: gorilla/mux routing, a metrics
// middleware, gorilla/handlers access logging, then rs/cors wrapping the
// whole chain.
func NewRouter(h *Handlers) http.Handler {
	r := mux.NewRouter()

	r.Handle("/", StaticIndexHandler()).Methods(http.MethodGet)
	r.HandleFunc("/post", h.HandlePost).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/admin/bulkdelete", h.HandleBulkDelete).Methods(http.MethodPost)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	var metricsHandler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "metrics not configured", http.StatusNotFound)
	})
	if h.Metrics != nil {
		metricsHandler = h.Metrics.Handler()
	}
	r.HandleFunc("/metrics", h.HandleMetrics(metricsHandler).ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc("/{id:[a-zA-Z0-9]+}", h.HandleGet).Methods(http.MethodGet)
	r.HandleFunc("/{id:[a-zA-Z0-9]+}", h.HandleUpdate).Methods(http.MethodPut)

	instrumented := withMetrics(r, h.Metrics)
	logged := handlers.LoggingHandler(logWriter{h}, instrumented)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Content-Encoding", "Authorization", "Allow-Modification", "Bytebin-Api-Key", "Bytebin-Forwarded-For"},
		ExposedHeaders:   []string{"Location", "Modification-Key", "Content-Encoding"},
		AllowCredentials: false,
	})
	return c.Handler(logged)
}

// withMetrics records duration, in-flight and total-count metrics per
// route template (not per concrete path, so dynamic IDs don't explode
// cardinality).
func withMetrics(r *mux.Router, m *metrics.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := routeTemplate(r, req)

		if m != nil {
			m.HTTPRequestsInFlight.WithLabelValues(route).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(route).Dec()
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		r.ServeHTTP(sw, req)

		if m != nil {
			status := strconv.Itoa(sw.status)
			m.HTTPRequestDuration.WithLabelValues(route, req.Method, status).Observe(time.Since(start).Seconds())
			m.HTTPRequestsTotal.WithLabelValues(route, req.Method, status).Inc()
		}
	})
}

func routeTemplate(r *mux.Router, req *http.Request) string {
	var match mux.RouteMatch
	if r.Match(req, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return req.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logWriter adapts *slog.Logger to gorilla/handlers.LoggingHandler's
// io.Writer-shaped access log sink.
type logWriter struct{ h *Handlers }

func (lw logWriter) Write(p []byte) (int, error) {
	lw.h.logger().Info("access", "line", string(p))
	return len(p), nil
}
