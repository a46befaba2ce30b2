package weatheragent

import "context"

type depsKey struct{}

// WithDeps returns a context carrying deps for tool invocations.
func WithDeps(ctx context.Context, deps any) context.Context {
	return context.WithValue(ctx, depsKey{}, deps)
}

// DepsFrom returns the dependencies stored by WithDeps if they have type D.
func DepsFrom[D any](ctx context.Context) (D, bool) {
	d, ok := ctx.Value(depsKey{}).(D)
	return d, ok
}
