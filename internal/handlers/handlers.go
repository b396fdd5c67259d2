// Package handlers exposes macro rendering over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
	"kumascript/internal/render"
)

// Response headers set on rendered macros
const (
	ErrorsHeader     = "X-Kumascript-Errors"
	ErrorCountHeader = "X-Kumascript-Error-Count"
	LineageHeader    = "X-Kumascript-Lineage"
	EnvHeaderPrefix  = "X-Kumascript-Env-"
)

// Bounds on the errors header. Proxies commonly reject headers past 8KB.
const (
	maxHeaderErrors     = 20
	maxHeaderMessageLen = 256
	maxErrorsHeaderSize = 4096
)

// Renderer renders one macro request
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// HealthChecker reports the health of a dependency
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers holds the HTTP handlers of the service
type Handlers struct {
	renderer Renderer
	cache    HealthChecker
	strict   bool
	version  string
}

// New creates the handlers. strict makes any recorded error fail a rendering.
func New(renderer Renderer, cache HealthChecker, strict bool) *Handlers {
	return &Handlers{
		renderer: renderer,
		cache:    cache,
		strict:   strict,
		version:  "1.0.0",
	}
}

// HealthCheck returns the health status of the service and its cache
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   h.version,
	}
	code := http.StatusOK

	if h.cache == nil {
		status["cache_status"] = "not_configured"
	} else if err := h.cache.Health(r.Context()); err != nil {
		status["status"] = "unhealthy"
		status["cache_status"] = "unhealthy"
		status["cache_error"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		status["cache_status"] = "healthy"
	}

	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", logging.Err(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"error": err.Error(),
		"type":  errors.GetType(err),
	})
}

// statusFor maps an error to the HTTP status it is reported with
func statusFor(err error) int {
	switch {
	case errors.IsType(err, errors.ErrTypeNotFound):
		return http.StatusNotFound
	case errors.IsType(err, errors.ErrTypeValidation):
		return http.StatusBadRequest
	case errors.IsType(err, errors.ErrTypeTimeout):
		return http.StatusGatewayTimeout
	case errors.IsType(err, errors.ErrTypeConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
