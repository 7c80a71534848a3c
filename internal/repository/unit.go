package repository

import "context"

type unitKey struct{}

// Unit collects callbacks that must only run once the surrounding unit of work commits.
// The in-memory stores use it to keep side tables (audit) in step with record writes.
type Unit struct {
	hooks []func()
}

// WithUnit attaches u to ctx.
func WithUnit(ctx context.Context, u *Unit) context.Context {
	return context.WithValue(ctx, unitKey{}, u)
}

// OnCommit defers fn until the unit in ctx commits. It reports false when ctx carries no unit.
func OnCommit(ctx context.Context, fn func()) bool {
	u, ok := ctx.Value(unitKey{}).(*Unit)
	if !ok {
		return false
	}
	u.hooks = append(u.hooks, fn)
	return true
}

// Commit runs the registered callbacks in order.
func (u *Unit) Commit() {
	for _, fn := range u.hooks {
		fn()
	}
	u.hooks = nil
}
