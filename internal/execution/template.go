package execution

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
	"kumascript/internal/suspend"
)

var errNoLoader = stderrors.New("no template loader configured")

// Template renders the macro name with args in a child context and returns
// its output. A macro that cannot be resolved or fails while running yields
// "" and a recorded error; Template never fails the caller.
func (c *Context) Template(ctx context.Context, name string, args []interface{}) string {
	output, _ := c.Render(ctx, name, args)
	return output
}

// Render is Template for callers that need to know whether name itself
// failed. The returned error is the one recorded for name; failures of
// nested calls are only in the sink.
func (c *Context) Render(ctx context.Context, name string, args []interface{}) (string, error) {
	return c.run(ctx, name, func(child *Context) {
		child.SetArguments(args)
	})
}

// run resolves name, derives a child prepared by prepare and executes the
// unit in it. A non-nil error has already been recorded in the sink.
func (c *Context) run(ctx context.Context, name string, prepare func(child *Context)) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	logger := c.Logger()

	if c.depth+1 > c.lineage.maxDepth {
		err := errors.TemplateExecutionError(name,
			errors.ValidationError(fmt.Sprintf("maximum template depth %d exceeded", c.lineage.maxDepth)), "")
		c.lineage.sink.Add(err)
		logger.Warn("Template depth exceeded", logging.String("callee", name))
		return "", err
	}

	unit, err := suspend.Run(ctx, "template resolve", func(ctx context.Context) (Unit, error) {
		return c.lineage.loader.Resolve(ctx, name)
	})
	if err == nil && unit == nil {
		err = errors.NotFoundError(fmt.Sprintf("template %q", name))
	}
	if err != nil {
		loadErr := errors.TemplateLoadError(name, err)
		c.lineage.sink.Add(loadErr)
		logger.Warn("Template load failed", logging.String("callee", name), logging.Err(err))
		return "", loadErr
	}

	child := c.derive(name)
	if prepare != nil {
		prepare(child)
	}

	execCtx := logging.ContextWithTemplate(ctx, name)
	child.callCtx = execCtx
	output, err := suspend.Run(execCtx, "template execute", func(ctx context.Context) (string, error) {
		return unit.Execute(ctx, child)
	})
	if err != nil {
		execErr := executionError(name, err)
		c.lineage.sink.Add(execErr)
		logger.Warn("Template execution failed", logging.String("callee", name), logging.Err(err))
		return "", execErr
	}

	logger.Debug("Template executed", logging.String("callee", name), logging.Int("bytes", len(output)))
	return output, nil
}

// executionError tags err with the macro name unless the unit already
// reported a located execution error for it.
func executionError(name string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) &&
		appErr.Type == errors.ErrTypeTemplateExecution &&
		errors.TemplateName(appErr) == name {
		return appErr
	}
	return errors.TemplateExecutionError(name, err, errors.Location(err))
}

type requireEntry struct {
	exports *Exports
	done    chan struct{}
}

// requireCache holds the modules of a lineage. The first Require of a name
// inserts an in-progress entry; later callers wait for it to finish.
type requireCache struct {
	mu      sync.Mutex
	entries map[string]*requireEntry
}

func newRequireCache() *requireCache {
	return &requireCache{entries: make(map[string]*requireEntry)}
}

// claim returns the entry for name and whether the caller created it.
func (r *requireCache) claim(name string) (*requireEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[name]; ok {
		return entry, false
	}
	entry := &requireEntry{exports: NewExports(), done: make(chan struct{})}
	r.entries[name] = entry
	return entry, true
}

func (r *requireCache) drop(name string, entry *requireEntry) {
	r.mu.Lock()
	if r.entries[name] == entry {
		delete(r.entries, name)
	}
	r.mu.Unlock()
}

// Require executes the macro name as a module and returns its exports.
// Within a lineage the module body runs at most once per successful load
// and every caller receives the same *Exports. A module that fails is not
// cached, so a later Require retries it. A Require that closes a cycle
// returns the exports populated so far.
func (c *Context) Require(ctx context.Context, name string) *Exports {
	key := moduleKey(name)
	entry, owner := c.lineage.requires.claim(key)
	if !owner {
		if c.isRequiring(key) {
			return entry.exports
		}
		select {
		case <-entry.done:
		case <-ctx.Done():
			c.lineage.sink.Add(errors.TemplateExecutionError(name,
				errors.TimeoutError("require "+name, ctx.Err()), ""))
		}
		return entry.exports
	}

	_, err := c.run(ctx, name, func(child *Context) {
		child.exports = entry.exports
		child.requiring = append(append([]string(nil), c.requiring...), key)
		child.bindExports()
	})
	if err != nil {
		c.lineage.requires.drop(key, entry)
	}
	close(entry.done)
	return entry.exports
}

// moduleKey folds name the way loaders do, so differently cased requires
// of one macro share an entry.
func moduleKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (c *Context) isRequiring(key string) bool {
	for _, n := range c.requiring {
		if n == key {
			return true
		}
	}
	return false
}
