package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"kumascript/internal/cache"
	"kumascript/internal/common/logging"
	"kumascript/internal/common/naming"
)

// ArgumentSlots is the number of positional slots, $0 through $98, that
// SetArguments clears before assigning.
const ArgumentSlots = 99

// DefaultMaxDepth bounds how deeply Template and Require calls may nest.
const DefaultMaxDepth = 64

// Config configures the top-level context of a rendering
type Config struct {
	// LineageID identifies the rendering in logs
	LineageID string
	Loader    Loader
	// Cache is shared by every context of the lineage. Nil uses an
	// in-memory fallback private to the lineage.
	Cache *cache.Coalescer
	// Env is the read-only environment exposed to macros as "env"
	Env    map[string]interface{}
	Logger logging.Logger
	// CallTimeout bounds each suspended call. Zero leaves only the
	// caller's deadline.
	CallTimeout time.Duration
	// AutoRequire maps install names to the macros PerformAutoRequire loads
	AutoRequire         map[string]string
	MaxParallelRequires int
	MaxDepth            int
}

type lineage struct {
	id          string
	loader      Loader
	cache       *cache.Coalescer
	env         map[string]interface{}
	sink        *ErrorSink
	requires    *requireCache
	logger      logging.Logger
	callTimeout time.Duration
	autoRequire map[string]string
	maxParallel int
	maxDepth    int
}

// Context is the namespace and call surface of one macro execution.
type Context struct {
	lineage *lineage

	mu        sync.RWMutex
	namespace map[string]interface{}
	installed map[string]Kind
	apis      map[string]SubAPI
	args      []interface{}

	exports   *Exports
	name      string
	depth     int
	requiring []string

	// callCtx is the context of the call executing this macro
	callCtx context.Context
}

// New creates the top-level context of a rendering
func New(config Config) *Context {
	if config.Loader == nil {
		config.Loader = LoaderFunc(func(ctx context.Context, name string) (Unit, error) {
			return nil, errNoLoader
		})
	}
	if config.Cache == nil {
		config.Cache = cache.NewCoalescer(cache.NewMemory())
	}
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}
	if config.MaxParallelRequires <= 0 {
		config.MaxParallelRequires = 4
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}

	env := make(map[string]interface{}, len(config.Env))
	for k, v := range config.Env {
		env[k] = v
	}
	autoRequire := make(map[string]string, len(config.AutoRequire))
	for k, v := range config.AutoRequire {
		autoRequire[k] = v
	}

	c := &Context{
		lineage: &lineage{
			id:          config.LineageID,
			loader:      config.Loader,
			cache:       config.Cache,
			env:         env,
			sink:        &ErrorSink{},
			requires:    newRequireCache(),
			logger:      config.Logger.WithFields(logging.String("lineage_id", config.LineageID)),
			callTimeout: config.CallTimeout,
			autoRequire: autoRequire,
			maxParallel: config.MaxParallelRequires,
			maxDepth:    config.MaxDepth,
		},
		namespace: make(map[string]interface{}),
		installed: make(map[string]Kind),
		apis:      make(map[string]SubAPI),
		exports:   NewExports(),
		callCtx:   context.Background(),
	}
	c.namespace["env"] = c.Env()
	c.bindExports()
	c.SetArguments(nil)
	return c
}

// derive creates the child context a nested call executes in. The child
// copies the namespace and rebinds every installed sub-API to itself, but
// starts with empty arguments and its own exports.
func (c *Context) derive(name string) *Context {
	c.mu.RLock()
	namespace := make(map[string]interface{}, len(c.namespace))
	for k, v := range c.namespace {
		namespace[k] = v
	}
	installed := make(map[string]Kind, len(c.installed))
	for k, v := range c.installed {
		installed[k] = v
	}
	c.mu.RUnlock()

	child := &Context{
		lineage:   c.lineage,
		namespace: namespace,
		installed: make(map[string]Kind, len(installed)),
		apis:      make(map[string]SubAPI, len(installed)),
		exports:   NewExports(),
		name:      name,
		depth:     c.depth + 1,
		requiring: c.requiring,
		callCtx:   c.callCtx,
	}
	for apiName, kind := range installed {
		child.InstallAPI(kind, apiName)
	}
	child.bindExports()
	child.SetArguments(nil)
	return child
}

func (c *Context) bindExports() {
	c.mu.Lock()
	c.namespace["exports"] = c.exports
	c.namespace["module"] = map[string]interface{}{"exports": c.exports}
	c.mu.Unlock()
}

// SetArguments clears $0..$98 to "", assigns list[i] to $i and exposes the
// whole list as "arguments" and "$$".
func (c *Context) SetArguments(list []interface{}) {
	args := make([]interface{}, len(list))
	copy(args, list)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < ArgumentSlots; i++ {
		c.namespace[argumentName(i)] = ""
	}
	for i, v := range args {
		c.namespace[argumentName(i)] = v
	}
	c.namespace["arguments"] = args
	c.namespace["$$"] = args
	c.args = args
}

func argumentName(i int) string {
	return "$" + strconv.Itoa(i)
}

// SetVariables installs each entry under its name variants.
func (c *Context) SetVariables(vars map[string]interface{}) {
	c.mu.Lock()
	naming.InstallAll(c.namespace, vars)
	c.mu.Unlock()
}

// Args returns the positional arguments of the current call
func (c *Context) Args() []interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]interface{}, len(c.args))
	copy(out, c.args)
	return out
}

// Arg returns argument i, or "" when absent
func (c *Context) Arg(i int) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.args) {
		return ""
	}
	return c.args[i]
}

// Lookup returns the namespace value bound to name
func (c *Context) Lookup(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.namespace[name]
	return v, ok
}

// Namespace returns a snapshot of the flat namespace
func (c *Context) Namespace() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.namespace))
	for k, v := range c.namespace {
		out[k] = v
	}
	return out
}

// Env returns a copy of the lineage environment
func (c *Context) Env() map[string]interface{} {
	out := make(map[string]interface{}, len(c.lineage.env))
	for k, v := range c.lineage.env {
		out[k] = v
	}
	return out
}

// EnvString returns env[key] when it is a string
func (c *Context) EnvString(key string) string {
	s, _ := c.lineage.env[key].(string)
	return s
}

// Exports returns the container this context's macro exports into
func (c *Context) Exports() *Exports {
	return c.exports
}

// Ctx returns the context of the call this macro executes in. Helpers
// invoked from script code, which cannot pass a context, use it for their
// own suspending calls.
func (c *Context) Ctx() context.Context {
	return c.callCtx
}

// Name returns the macro executing in this context, "" at the top level
func (c *Context) Name() string {
	return c.name
}

// Depth returns the nesting depth, 0 at the top level
func (c *Context) Depth() int {
	return c.depth
}

// LineageID returns the id of the rendering this context belongs to
func (c *Context) LineageID() string {
	return c.lineage.id
}

// Errors returns the failures recorded anywhere in the lineage
func (c *Context) Errors() []error {
	return c.lineage.sink.Errors()
}

// Sink returns the lineage error sink
func (c *Context) Sink() *ErrorSink {
	return c.lineage.sink
}

// Logger returns a logger tagged with the lineage and macro name
func (c *Context) Logger() logging.Logger {
	if c.name == "" {
		return c.lineage.logger
	}
	return c.lineage.logger.WithFields(logging.String("template", c.name))
}

// callContext applies the per-call timeout and tags ctx for logging.
func (c *Context) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = logging.ContextWithLineage(ctx, c.lineage.id)
	if c.lineage.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.lineage.callTimeout)
}
