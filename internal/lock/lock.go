// Package lock provides the optional cross-process lease that serializes
// composite uploads on one lineage. The database unit of work stays the
// authority for invariants; the lease only keeps concurrent uploads from
// storing objects that are bound to lose.
package lock

import (
	"context"

	"docvault/internal/model"
)

// Locker hands out per-lineage leases.
type Locker interface {
	// Acquire takes the lineage lease. A lease held elsewhere yields ErrLineageConflict.
	Acquire(ctx context.Context, lineage model.Lineage) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Noop grants every lease immediately. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, lineage model.Lineage) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
