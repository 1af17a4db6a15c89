package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"formula/internal/handlers"
	"formula/internal/metrics"
	"formula/internal/server"
)

// Routes wires the websocket endpoint and the HTTP collaborator surface.
// api is nil when no database is configured; the realtime layer still runs.
func Routes(srv *server.Server, api *handlers.API) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.HandleFunc("/ws", srv.WsHandler)

	if api != nil {
		r.Group(func(r chi.Router) {
			r.Use(metrics.Middleware)
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/leaderboard", api.Leaderboard)
			r.Get("/user", api.GetUser)
		})
	}

	return r
}
