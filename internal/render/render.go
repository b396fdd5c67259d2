// Package render runs one top-level macro rendering: it builds the root
// execution context, installs the default sub-APIs, performs auto-require
// and renders the requested macro.
package render

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"kumascript/internal/api"
	"kumascript/internal/cache"
	"kumascript/internal/common/errors"
	khttp "kumascript/internal/common/http"
	"kumascript/internal/common/logging"
	"kumascript/internal/execution"
)

// Config configures a Renderer
type Config struct {
	Loader execution.Loader
	Cache  *cache.Coalescer
	// Fetcher backs kuma.fetchJSONResource. Nil uses a default client.
	Fetcher *khttp.Fetcher
	// Env is merged under every request's environment
	Env                 map[string]interface{}
	AutoRequire         map[string]string
	CallTimeout         time.Duration
	MaxParallelRequires int
	MaxDepth            int
	Logger              logging.Logger
}

// Renderer renders macros. It is safe for concurrent use; each Render call
// is its own lineage.
type Renderer struct {
	config Config
	apis   map[string]execution.Kind
}

// New creates a renderer
func New(config Config) *Renderer {
	if config.Cache == nil {
		config.Cache = cache.NewCoalescer(cache.NewMemory())
	}
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}
	return &Renderer{
		config: config,
		apis:   api.Defaults(config.Fetcher),
	}
}

// Request is one rendering
type Request struct {
	Template string                 `json:"template"`
	Args     []interface{}          `json:"args,omitempty"`
	Env      map[string]interface{} `json:"env,omitempty"`
}

// Result is the outcome of a rendering. Errors holds every failure recorded
// anywhere in the lineage.
type Result struct {
	Output    string
	Errors    []error
	LineageID string
	Duration  time.Duration

	// topLevel is the failure of the requested macro itself
	topLevel error
}

// Failed reports whether the rendering should be treated as failed: the
// requested macro could not be loaded or executed, or strict is set and any
// error was recorded.
func (r *Result) Failed(strict bool) bool {
	if r.topLevel != nil {
		return true
	}
	return strict && len(r.Errors) > 0
}

// Err returns the failure of the requested macro itself, if any
func (r *Result) Err() error {
	return r.topLevel
}

// ErrorInfo is the serializable form of a recorded error
type ErrorInfo struct {
	Type     errors.ErrorType `json:"type"`
	Template string           `json:"template,omitempty"`
	Location string           `json:"location,omitempty"`
	Message  string           `json:"message"`
}

// ErrorInfos converts Errors for JSON output
func (r *Result) ErrorInfos() []ErrorInfo {
	infos := make([]ErrorInfo, 0, len(r.Errors))
	for _, err := range r.Errors {
		infos = append(infos, Describe(err))
	}
	return infos
}

// Describe converts a recorded error. The message is the innermost cause
// so the template name is not repeated.
func Describe(err error) ErrorInfo {
	info := ErrorInfo{
		Type:     errors.GetType(err),
		Template: errors.TemplateName(err),
		Location: errors.Location(err),
		Message:  err.Error(),
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Cause != nil {
		info.Message = appErr.Cause.Error()
	}
	return info
}

// Render renders req. The error return is reserved for requests that never
// started: an invalid request or a context that ended during auto-require.
// Macro failures are reported through the Result.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	if req.Template == "" {
		return nil, errors.ValidationError("template name is required")
	}

	start := time.Now()
	lineageID := uuid.NewString()
	ctx = logging.ContextWithLineage(ctx, lineageID)
	logger := r.config.Logger.WithContext(ctx)

	ec := execution.New(execution.Config{
		LineageID:           lineageID,
		Loader:              r.config.Loader,
		Cache:               r.config.Cache,
		Env:                 mergeEnv(r.config.Env, req.Env),
		Logger:              r.config.Logger,
		CallTimeout:         r.config.CallTimeout,
		AutoRequire:         r.config.AutoRequire,
		MaxParallelRequires: r.config.MaxParallelRequires,
		MaxDepth:            r.config.MaxDepth,
	})
	api.Install(ec, r.apis)

	if err := ec.PerformAutoRequire(ctx); err != nil {
		return nil, errors.TimeoutError("auto-require", err)
	}

	output, err := ec.Render(ctx, req.Template, req.Args)
	result := &Result{
		Output:    output,
		Errors:    ec.Errors(),
		LineageID: lineageID,
		Duration:  time.Since(start),
		topLevel:  err,
	}

	logger.Info("Rendered template",
		logging.String("template", req.Template),
		logging.Int("errors", len(result.Errors)),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

func mergeEnv(base, overrides map[string]interface{}) map[string]interface{} {
	env := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}
