// Package reconcile compares document records with the objects actually present
// in the object store. Plan only reads; every repair is a separate Apply call that
// re-checks its preconditions first.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"docvault/internal/docerr"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
	"docvault/internal/versionstore"
)

// Classification is the verdict for one normalized storage key.
type Classification string

const (
	Consistent      Classification = "consistent"
	NameMismatch    Classification = "name_mismatch"
	OrphanObject    Classification = "orphan_object"
	OrphanRecord    Classification = "orphan_record"
	PendingDeletion Classification = "pending_deletion"
	Ambiguous       Classification = "ambiguous"
)

// ActionKind names a repair step.
type ActionKind string

const (
	RelinkRecord       ActionKind = "relink_record"
	DeleteOrphanObject ActionKind = "delete_orphan_object"
	FlagOrphanRecord   ActionKind = "flag_orphan_record"
)

// Finding is the classification of one normalized key with everything that claims it.
type Finding struct {
	Classification Classification `json:"classification"`
	NormalizedKey  string         `json:"normalized_key"`
	RecordIDs      []string       `json:"record_ids,omitempty"`
	ObjectKeys     []string       `json:"object_keys,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

// Action is one proposed repair. It carries what was observed at plan time so
// Apply can tell whether the world has moved on since.
type Action struct {
	ID        string     `json:"id"`
	Kind      ActionKind `json:"kind"`
	VersionID string     `json:"version_id,omitempty"`
	// RecordKey is the record's storage key when the plan was computed.
	RecordKey string `json:"record_key,omitempty"`
	// ObjectKey is the object the action reads or removes.
	ObjectKey string `json:"object_key,omitempty"`
	ObjectTag string `json:"object_etag,omitempty"`
	// TargetKey is the canonical key a relink moves the object to.
	TargetKey string `json:"target_key,omitempty"`
}

// Plan is the read-only result of a reconcile run.
type Plan struct {
	ID        string                 `json:"id"`
	Scope     repository.Scope       `json:"scope"`
	CreatedAt time.Time              `json:"created_at"`
	Counts    map[Classification]int `json:"counts"`
	Findings  []Finding              `json:"findings"`
	Actions   []Action               `json:"actions"`
}

// Violation returns ErrConsistencyViolation when the plan has ambiguous findings.
func (p *Plan) Violation() error {
	n := p.Counts[Ambiguous]
	if n == 0 {
		return nil
	}
	return docerr.New(docerr.ErrConsistencyViolation, "reconcile",
		strconv.Itoa(n)+" storage keys are claimed by more than one record or object")
}

// Reconciler plans and applies storage repairs.
type Reconciler struct {
	repo     repository.DocumentRepository
	versions *versionstore.Store
	store    storage.ObjectStore
	layout   *storage.Layout
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	pageSize    int
	concurrency int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMetrics counts findings and repairs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithPageSize sets how many records are read per query.
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// New creates a reconciler. Reads go to repo; record edits go through versions.
func New(repo repository.DocumentRepository, versions *versionstore.Store, store storage.ObjectStore, layout *storage.Layout, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:        repo,
		versions:    versions,
		store:       store,
		layout:      layout,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		pageSize:    500,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateScope checks that the scope narrows from entity type to entity to slot.
func ValidateScope(s repository.Scope) error {
	switch {
	case s.EntityType != "" && !s.EntityType.Valid():
		return docerr.New(docerr.ErrInvalidArgument, "reconcile", "unknown entity type "+string(s.EntityType))
	case s.EntityID != "" && s.EntityType == "":
		return docerr.New(docerr.ErrInvalidArgument, "reconcile", "entity id needs an entity type")
	case s.Slot != "" && s.EntityID == "":
		return docerr.New(docerr.ErrInvalidArgument, "reconcile", "slot needs an entity id")
	}
	return nil
}

type claim struct {
	records []model.DocumentRecord
	deleted []model.DocumentRecord
	objects []storage.ObjectInfo
}

// Plan reads records and objects in scope and classifies every storage key.
// The plan is returned even when it contains ambiguous keys; in that case the
// error is the plan's Violation.
func (r *Reconciler) Plan(ctx context.Context, scope repository.Scope) (*Plan, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	started := r.now()

	var records []model.DocumentRecord
	objects := make([][]storage.ObjectInfo, len(r.buckets(scope)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	g.Go(func() error {
		var err error
		records, err = r.loadRecords(gctx, scope)
		return err
	})
	for i, bucket := range r.buckets(scope) {
		g.Go(func() error {
			var err error
			objects[i], err = r.listBucket(gctx, bucket, scope)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	claims := map[string]*claim{}
	get := func(k string) *claim {
		c, ok := claims[k]
		if !ok {
			c = &claim{}
			claims[k] = c
		}
		return c
	}
	for _, rec := range records {
		c := get(storage.NormalizeKey(rec.StorageKey))
		if rec.State == model.StateDeleted {
			c.deleted = append(c.deleted, rec)
		} else {
			c.records = append(c.records, rec)
		}
	}
	for _, bucketObjects := range objects {
		for _, obj := range bucketObjects {
			c := get(storage.NormalizeKey(obj.Key.String()))
			c.objects = append(c.objects, obj)
		}
	}

	plan := &Plan{
		ID:        uuid.NewString(),
		Scope:     scope,
		CreatedAt: started,
		Counts:    map[Classification]int{},
		Findings:  make([]Finding, 0, len(claims)),
		Actions:   make([]Action, 0),
	}
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		f, act, ok, err := r.classify(ctx, k, claims[k], scope)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		plan.Findings = append(plan.Findings, f)
		plan.Counts[f.Classification]++
		if act != nil {
			act.ID = uuid.NewString()
			plan.Actions = append(plan.Actions, *act)
		}
	}

	for c, n := range plan.Counts {
		r.metrics.AddFindings(string(c), n)
	}
	r.log.Info().
		Str("event", "reconcile_plan").
		Str("plan_id", plan.ID).
		Str("entity_type", string(scope.EntityType)).
		Str("entity_id", scope.EntityID).
		Str("slot", scope.Slot).
		Int("records", len(records)).
		Int("findings", len(plan.Findings)).
		Int("actions", len(plan.Actions)).
		Int("ambiguous", plan.Counts[Ambiguous]).
		Msg("reconcile plan computed")

	return plan, plan.Violation()
}

// classify decides one key. ok is false when the key is outside the scope
// (objects of other slots listed under the same entity prefix) or carries nothing worth reporting.
func (r *Reconciler) classify(ctx context.Context, key string, c *claim, scope repository.Scope) (f Finding, act *Action, ok bool, err error) {
	f = Finding{NormalizedKey: key}
	for _, rec := range c.records {
		f.RecordIDs = append(f.RecordIDs, rec.ID)
	}
	for _, obj := range c.objects {
		f.ObjectKeys = append(f.ObjectKeys, obj.Key.String())
	}

	switch {
	case len(c.records) > 1 || len(c.objects) > 1:
		f.Classification = Ambiguous
		f.Detail = strconv.Itoa(len(c.records)) + " records and " + strconv.Itoa(len(c.objects)) + " objects share this key"
		return f, nil, true, nil

	case len(c.records) == 1 && len(c.objects) == 1:
		rec, obj := c.records[0], c.objects[0]
		if rec.StoredFilename == obj.Key.Base() && rec.StorageKey == obj.Key.String() {
			f.Classification = Consistent
			return f, nil, true, nil
		}
		return r.mismatch(f, rec, obj)

	case len(c.records) == 1:
		rec := c.records[0]
		// The record may point outside the listed prefixes (another bucket, a URL spelling).
		if k, perr := storage.ParseKey(key); perr == nil {
			obj, serr := r.store.Stat(ctx, k)
			switch {
			case serr == nil:
				f.ObjectKeys = append(f.ObjectKeys, obj.Key.String())
				return r.mismatch(f, rec, obj)
			case !errors.Is(serr, docerr.ErrNotFound):
				return f, nil, false, serr
			}
		}
		f.Classification = OrphanRecord
		if rec.MissingObjectSince != nil {
			f.Detail = "already flagged"
			return f, nil, true, nil
		}
		return f, &Action{Kind: FlagOrphanRecord, VersionID: rec.ID, RecordKey: rec.StorageKey}, true, nil

	case len(c.objects) == 1:
		obj := c.objects[0]
		if scope.Slot != "" {
			name, perr := storage.ParseStoredName(obj.Key.Base())
			if perr != nil || name.Slot != scope.Slot {
				return f, nil, false, nil
			}
		}
		for _, rec := range c.deleted {
			if rec.ObjectPurgedAt == nil {
				f.Classification = PendingDeletion
				f.RecordIDs = append(f.RecordIDs, rec.ID)
				return f, nil, true, nil
			}
		}
		f.Classification = OrphanObject
		return f, &Action{Kind: DeleteOrphanObject, ObjectKey: obj.Key.String(), ObjectTag: obj.ETag}, true, nil
	}

	// only deleted records: their objects are gone, nothing to report
	return f, nil, false, nil
}

func (r *Reconciler) mismatch(f Finding, rec model.DocumentRecord, obj storage.ObjectInfo) (Finding, *Action, bool, error) {
	target, err := r.layout.ObjectKey(rec.EntityType, rec.EntityID, rec.StoredFilename)
	if err != nil {
		return f, nil, false, err
	}
	f.Classification = NameMismatch
	f.Detail = "record expects " + target.String()
	return f, &Action{
		Kind:      RelinkRecord,
		VersionID: rec.ID,
		RecordKey: rec.StorageKey,
		ObjectKey: obj.Key.String(),
		ObjectTag: obj.ETag,
		TargetKey: target.String(),
	}, true, nil
}

func (r *Reconciler) buckets(scope repository.Scope) []string {
	if scope.EntityType == "" {
		return r.layout.Buckets()
	}
	b, err := r.layout.Bucket(scope.EntityType)
	if err != nil {
		return nil
	}
	return []string{b}
}

func (r *Reconciler) loadRecords(ctx context.Context, scope repository.Scope) ([]model.DocumentRecord, error) {
	var out []model.DocumentRecord
	for offset := 0; ; offset += r.pageSize {
		page, err := r.repo.ListScope(ctx, scope, repository.PageQuery{Limit: r.pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if len(page.Items) == 0 || offset+len(page.Items) >= page.Total {
			return out, nil
		}
	}
}

func (r *Reconciler) listBucket(ctx context.Context, bucket string, scope repository.Scope) ([]storage.ObjectInfo, error) {
	prefix := ""
	if scope.EntityID != "" {
		prefix = storage.EntityPrefix(scope.EntityID)
	}
	var out []storage.ObjectInfo
	for obj, err := range r.store.List(ctx, bucket, prefix, "") {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	slices.SortFunc(out, func(a, b storage.ObjectInfo) int { return cmp.Compare(a.Key.Name, b.Key.Name) })
	return out, nil
}
