// Package memory is an in-process DocumentRepository with the same unit-of-work
// semantics as the Postgres implementation. It backs tests and the local dev profile.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/repository"
)

// DocumentMemory keeps records in maps guarded by a mutex. Each lineage has its own
// lock held for the whole unit of work; writes are staged and published on success.
type DocumentMemory struct {
	mu          sync.RWMutex
	records     map[string]model.DocumentRecord
	lastVersion map[string]int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewDocumentMemory creates an empty repository.
func NewDocumentMemory() *DocumentMemory {
	return &DocumentMemory{
		records:     map[string]model.DocumentRecord{},
		lastVersion: map[string]int{},
		locks:       map[string]*sync.Mutex{},
	}
}

var _ repository.DocumentRepository = (*DocumentMemory)(nil)

func (r *DocumentMemory) FindByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, docerr.NotFound("find document", id)
	}
	return &rec, nil
}

func (r *DocumentMemory) ListLineage(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lineageLocked(lineage), nil
}

func (r *DocumentMemory) ListScope(ctx context.Context, scope repository.Scope, pq repository.PageQuery) (*repository.PageResult[model.DocumentRecord], error) {
	r.mu.RLock()
	matched := make([]model.DocumentRecord, 0)
	for _, rec := range r.records {
		if scope.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b model.DocumentRecord) int {
		return cmp.Or(
			cmp.Compare(a.EntityType, b.EntityType),
			cmp.Compare(a.EntityID, b.EntityID),
			cmp.Compare(a.Slot, b.Slot),
			cmp.Compare(a.Version, b.Version),
		)
	})

	total := len(matched)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.DocumentRecord]{
		Items: matched[start:end],
		Total: total,
	}, nil
}

func (r *DocumentMemory) ListPendingPurge(ctx context.Context, deletedBefore time.Time, limit int) ([]model.DocumentRecord, error) {
	r.mu.RLock()
	out := make([]model.DocumentRecord, 0)
	for _, rec := range r.records {
		if rec.State == model.StateDeleted && rec.ObjectPurgedAt == nil &&
			rec.DeletedAt != nil && rec.DeletedAt.Before(deletedBefore) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.DocumentRecord) int {
		return cmp.Or(a.DeletedAt.Compare(*b.DeletedAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithinLineage serializes units of work per lineage. Records written through tx are
// visible to tx immediately and to everyone else only after fn returns nil.
func (r *DocumentMemory) WithinLineage(ctx context.Context, lineage model.Lineage, fn func(ctx context.Context, tx repository.LineageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := r.lineageLock(lineage.Key())
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	tx := &lineageTx{
		lineage:     lineage,
		staged:      map[string]model.DocumentRecord{},
		deleted:     map[string]bool{},
		lastVersion: r.lastVersion[lineage.Key()],
	}
	for _, rec := range r.lineageLocked(lineage) {
		tx.staged[rec.ID] = rec
		tx.lastVersion = max(tx.lastVersion, rec.Version)
	}
	r.mu.RUnlock()

	unit := &repository.Unit{}
	if err := fn(repository.WithUnit(ctx, unit), tx); err != nil {
		return err
	}

	if err := r.commit(tx); err != nil {
		return err
	}
	unit.Commit()
	return nil
}

func (r *DocumentMemory) commit(tx *lineageTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// storage keys are unique among non-deleted records
	live := map[string]string{}
	for id, rec := range r.records {
		if _, mine := tx.staged[id]; mine || tx.deleted[id] || rec.State == model.StateDeleted {
			continue
		}
		live[rec.StorageKey] = id
	}
	for id, rec := range tx.staged {
		if rec.State == model.StateDeleted {
			continue
		}
		if other, taken := live[rec.StorageKey]; taken {
			return docerr.Conflict("commit", tx.lineage, "storage key already referenced by "+other)
		}
		live[rec.StorageKey] = id
	}

	for id := range tx.deleted {
		delete(r.records, id)
	}
	for id, rec := range tx.staged {
		if tx.dirty[id] {
			r.records[id] = rec
		}
	}
	r.lastVersion[tx.lineage.Key()] = tx.lastVersion
	return nil
}

func (r *DocumentMemory) lineageLock(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *DocumentMemory) lineageLocked(lineage model.Lineage) []model.DocumentRecord {
	out := make([]model.DocumentRecord, 0)
	for _, rec := range r.records {
		if rec.Lineage() == lineage {
			out = append(out, rec)
		}
	}
	sortByVersion(out)
	return out
}

type lineageTx struct {
	lineage     model.Lineage
	staged      map[string]model.DocumentRecord
	dirty       map[string]bool
	deleted     map[string]bool
	lastVersion int
}

func (t *lineageTx) Records(ctx context.Context) ([]model.DocumentRecord, error) {
	out := make([]model.DocumentRecord, 0, len(t.staged))
	for _, rec := range t.staged {
		out = append(out, rec)
	}
	sortByVersion(out)
	return out, nil
}

func (t *lineageTx) NextVersion(ctx context.Context) (int, error) {
	t.lastVersion++
	return t.lastVersion, nil
}

func (t *lineageTx) Insert(ctx context.Context, rec *model.DocumentRecord) error {
	if rec.Lineage() != t.lineage {
		return docerr.New(docerr.ErrInvalidArgument, "insert document", "record belongs to another lineage")
	}
	if _, exists := t.staged[rec.ID]; exists {
		return docerr.Conflict("insert document", t.lineage, "duplicate id "+rec.ID)
	}
	for _, other := range t.staged {
		if other.Version == rec.Version {
			return docerr.Conflict("insert document", t.lineage, "version already exists")
		}
	}
	if err := t.checkActive(*rec); err != nil {
		return err
	}
	t.put(*rec)
	return nil
}

func (t *lineageTx) Update(ctx context.Context, rec *model.DocumentRecord) error {
	cur, ok := t.staged[rec.ID]
	if !ok {
		return docerr.NotFound("update document", rec.ID)
	}
	if cur.StoredFilename != rec.StoredFilename {
		return docerr.New(docerr.ErrInvalidArgument, "update document", "stored filename is immutable")
	}
	if err := t.checkActive(*rec); err != nil {
		return err
	}
	t.put(*rec)
	return nil
}

func (t *lineageTx) Delete(ctx context.Context, id string) error {
	if _, ok := t.staged[id]; !ok {
		return docerr.NotFound("delete document", id)
	}
	delete(t.staged, id)
	if t.dirty != nil {
		delete(t.dirty, id)
	}
	t.deleted[id] = true
	return nil
}

func (t *lineageTx) put(rec model.DocumentRecord) {
	if t.dirty == nil {
		t.dirty = map[string]bool{}
	}
	t.staged[rec.ID] = rec
	t.dirty[rec.ID] = true
}

// checkActive mirrors the partial unique index on active records.
func (t *lineageTx) checkActive(rec model.DocumentRecord) error {
	if rec.State != model.StateActive {
		return nil
	}
	for id, other := range t.staged {
		if id != rec.ID && other.State == model.StateActive {
			return docerr.Conflict("write document", t.lineage, "lineage already has active version "+id)
		}
	}
	return nil
}

func sortByVersion(recs []model.DocumentRecord) {
	slices.SortFunc(recs, func(a, b model.DocumentRecord) int {
		return cmp.Compare(a.Version, b.Version)
	})
}
