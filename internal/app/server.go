package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"kumascript/internal/handlers"
	"kumascript/internal/middleware"
	"kumascript/internal/ratelimit"
	"kumascript/internal/server"
)

// Router builds the HTTP handler of the service
func (app *App) Router() http.Handler {
	h := handlers.New(app.Renderer, app.Cache, app.Config.StrictErrors)

	router := mux.NewRouter()
	router.Use(middleware.Recover)
	router.Use(middleware.LoggingMiddleware)

	limits := ratelimit.DefaultConfig()
	limits.RequestsPerSecond = app.Config.RateLimitRPSFloat()
	limits.BurstSize = app.Config.RateLimitBurstInt()
	handlers.Register(router, h, ratelimit.NewLimiter(limits).Middleware(ratelimit.IPBasedKey))
	return router
}

// Server creates the HTTP server on the configured port
func (app *App) Server() *server.Server {
	return server.New(app.Router(), app.Config.Port, "", "")
}
