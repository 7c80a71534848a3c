package repository

import (
	"context"
	"time"

	"docvault/internal/model"
)

// DocumentRepository defines data access for document records.
// No business logic here: lifecycle rules live in the lifecycle package and are applied by the version store.
type DocumentRepository interface {
	// FindByID returns a record by its ID, or an error matching docerr.ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.DocumentRecord, error)

	// ListLineage returns every record of a lineage ordered by version.
	ListLineage(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error)

	// ListScope returns a page of records matching the scope and the total match count.
	ListScope(ctx context.Context, scope Scope, pq PageQuery) (*PageResult[model.DocumentRecord], error)

	// ListPendingPurge returns deleted records whose object has not been purged and
	// whose DeletedAt is before the cutoff, oldest first.
	ListPendingPurge(ctx context.Context, deletedBefore time.Time, limit int) ([]model.DocumentRecord, error)

	// WithinLineage runs fn as one unit of work holding the lineage's serialization point.
	// Writes made through tx commit only when fn returns nil.
	WithinLineage(ctx context.Context, lineage model.Lineage, fn func(ctx context.Context, tx LineageTx) error) error
}

// LineageTx is the write surface available inside WithinLineage.
type LineageTx interface {
	// Records returns the lineage's current records, including writes made in this unit, ordered by version.
	Records(ctx context.Context) ([]model.DocumentRecord, error)
	// NextVersion allocates the next version number. Numbers are never handed out twice.
	NextVersion(ctx context.Context) (int, error)
	Insert(ctx context.Context, rec *model.DocumentRecord) error
	Update(ctx context.Context, rec *model.DocumentRecord) error
	Delete(ctx context.Context, id string) error
}

// Scope narrows a listing; empty fields match everything.
type Scope struct {
	EntityType model.EntityType `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Slot       string           `json:"slot,omitempty"`
}

// Matches reports whether rec falls inside the scope.
func (s Scope) Matches(rec model.DocumentRecord) bool {
	return (s.EntityType == "" || rec.EntityType == s.EntityType) &&
		(s.EntityID == "" || rec.EntityID == s.EntityID) &&
		(s.Slot == "" || rec.Slot == s.Slot)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
