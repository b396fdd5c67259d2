// Package loader resolves macro names to compiled units. Stores fetch source
// text from memory, a directory or an HTTP endpoint; Loader compiles it and
// Cached keeps the compiled units around.
package loader

import (
	"context"
	"fmt"
	"strings"

	"kumascript/internal/common/errors"
	"kumascript/internal/common/logging"
	"kumascript/internal/execution"
	"kumascript/internal/script"
)

// Source is macro text and the language it is written in
type Source struct {
	Name string      `json:"name"`
	Kind script.Kind `json:"kind"`
	Text string      `json:"text"`
}

// Store fetches macro source by name. A missing macro is reported with a
// not-found error.
type Store interface {
	Fetch(ctx context.Context, name string) (Source, error)
}

// Loader compiles whatever its store returns
type Loader struct {
	store Store
}

// New creates a loader over store
func New(store Store) *Loader {
	return &Loader{store: store}
}

// Resolve implements execution.Loader
func (l *Loader) Resolve(ctx context.Context, name string) (execution.Unit, error) {
	src, err := l.store.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}

	unit, err := script.Compile(name, src.Kind, src.Text)
	if err != nil {
		return nil, err
	}

	logging.WithFields(
		logging.String("template", name),
		logging.String("kind", string(src.Kind)),
	).Debug("Compiled template")
	return unit, nil
}

// Chain tries each store in order and returns the first hit. Only not-found
// errors fall through to the next store.
type Chain []Store

// Fetch implements Store
func (c Chain) Fetch(ctx context.Context, name string) (Source, error) {
	for _, store := range c {
		src, err := store.Fetch(ctx, name)
		if err == nil {
			return src, nil
		}
		if !errors.IsType(err, errors.ErrTypeNotFound) {
			return Source{}, err
		}
	}
	return Source{}, errors.NotFoundError(fmt.Sprintf("template %q", name))
}

// normalize maps a macro name to its storage key. Macro names are
// case-insensitive.
func normalize(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.ValidationError("template name is empty")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return "", errors.ValidationError(fmt.Sprintf("invalid template name %q", name))
		}
	}
	return key, nil
}
