package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "notifyd/pkg/logx"
)

// NewRouter assembles the public HTTP surface: the sender API, the push
// channel upgrade, and the operational endpoints. wsHandler and
// metricsHandler may be nil, in which case their routes are not mounted.
func NewRouter(h *Handler, wsHandler, metricsHandler http.Handler, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleHome)
	r.Post("/notify", h.handleNotify)
	// Login/logout accept GET with query parameters for compatibility with
	// existing senders, and POST for everyone else.
	r.HandleFunc("/login", h.handleLogin)
	r.HandleFunc("/logout", h.handleLogout)
	r.Get("/healthz", h.handleHealthz)

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	if wsHandler != nil {
		r.Method(http.MethodGet, "/ws", wsHandler)
	}

	return r
}

// requestLogger logs completed requests at debug level. The scrape and probe
// endpoints are skipped to keep the log readable.
func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if log.IsZero() || r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
			)
		})
	}
}
