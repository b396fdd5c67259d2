package handlers

import (
	"github.com/gorilla/mux"
)

// Register mounts the service routes on router. Rendering routes are wrapped
// in the given middleware; the health check never is.
func Register(router *mux.Router, h *Handlers, renderMiddleware ...mux.MiddlewareFunc) {
	router.HandleFunc("/healthz", h.HealthCheck).Methods("GET")

	renders := router.NewRoute().Subrouter()
	renders.Use(renderMiddleware...)
	renders.HandleFunc("/macros/{name:.+}", h.RenderMacro).Methods("GET")
	renders.HandleFunc("/render", h.Render).Methods("POST")
}
