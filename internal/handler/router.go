package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/evanwzhao/relay/backend/internal/handler/chat"
	uploadHandler "github.com/evanwzhao/relay/backend/internal/handler/upload"
	"github.com/evanwzhao/relay/backend/internal/middleware"
)

// NewRouter wires HTTP routes to core services. Mutating routes require a
// verified identity; the conversation read route admits anonymous visitors so
// shared conversations stay reachable.
func NewRouter(auth *middleware.Authenticator, chatH *chatHandler.Handler, uploadH *uploadHandler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(auth.RequireIdentity)
			chatH.RegisterRoutes(g)
			uploadH.RegisterRoutes(g)
		})

		api.Group(func(g chi.Router) {
			g.Use(auth.OptionalIdentity)
			chatH.RegisterReadRoutes(g)
		})
	})

	return r
}
