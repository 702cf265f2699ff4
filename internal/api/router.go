// Package api exposes the access manager to the admin web tier over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruslano69/xzaccess/internal/access"
)

// NewRouter wires the handlers and returns the chi router.
func NewRouter(mgr *access.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(zerologMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handler{mgr: mgr}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/resources", h.ListResources)
		r.Put("/resources/{name}", h.RegisterResource)
		r.Delete("/resources/{name}", h.DeregisterResource)

		r.Get("/users/{user}/resources", h.UserResources)
		r.Get("/users/{user}/resources/{name}", h.UserMayAccess)

		r.Post("/cache/flush", h.FlushCache)

		r.Post("/manager/start", h.StartManager)
		r.Post("/manager/stop", h.StopManager)
		r.Post("/manager/restart", h.RestartManager)

		r.Post("/authenticate", h.Authenticate)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
