package execution

import "context"

// Unit is an executable macro. The arguments of the call are already set on
// ec when Execute runs.
type Unit interface {
	Execute(ctx context.Context, ec *Context) (string, error)
}

// Loader resolves a macro name to an executable unit.
type Loader interface {
	Resolve(ctx context.Context, name string) (Unit, error)
}

// UnitFunc adapts a function to Unit
type UnitFunc func(ctx context.Context, ec *Context) (string, error)

// Execute calls f
func (f UnitFunc) Execute(ctx context.Context, ec *Context) (string, error) {
	return f(ctx, ec)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context, name string) (Unit, error)

// Resolve calls f
func (f LoaderFunc) Resolve(ctx context.Context, name string) (Unit, error) {
	return f(ctx, name)
}
