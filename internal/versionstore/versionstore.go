// Package versionstore owns document records and their lineage invariants.
// Every mutation runs inside the lineage's unit of work and appends its audit
// entry there, so a committed change always has its history line.
package versionstore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"docvault/internal/audit"
	"docvault/internal/docerr"
	"docvault/internal/lifecycle"
	"docvault/internal/model"
	"docvault/internal/repository"
)

// NewVersion describes a record to create. The object must already be stored.
type NewVersion struct {
	Lineage          model.Lineage
	StorageKey       string
	OriginalFilename string
	StoredFilename   string
	ContentType      string
	Size             int64
	UploadedBy       string
	// Fallback is the state used when the lineage already has an active version.
	// Only StateSuperseded is accepted; empty means the create fails instead.
	Fallback model.State
}

func (nv NewVersion) validate(op string) error {
	switch {
	case !nv.Lineage.Validate():
		return docerr.New(docerr.ErrInvalidArgument, op, "entity type, entity id and slot are required")
	case nv.StorageKey == "" || nv.StoredFilename == "" || nv.OriginalFilename == "":
		return docerr.New(docerr.ErrInvalidArgument, op, "storage key and filenames are required")
	case strings.TrimSpace(nv.UploadedBy) == "":
		return docerr.New(docerr.ErrInvalidArgument, op, "uploader is required")
	case nv.Size < 0:
		return docerr.New(docerr.ErrInvalidArgument, op, "size must not be negative")
	case nv.Fallback != "" && nv.Fallback != model.StateSuperseded:
		return docerr.New(docerr.ErrInvalidArgument, op, "fallback state must be superseded")
	}
	return nil
}

// Store is the version store.
type Store struct {
	repo  repository.DocumentRepository
	audit audit.Recorder
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates a version store over repo, auditing through rec.
func New(repo repository.DocumentRepository, rec audit.Recorder, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		audit: rec,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	if id == "" {
		return nil, docerr.New(docerr.ErrInvalidArgument, "get version", "id is required")
	}
	return s.repo.FindByID(ctx, id)
}

// ListVersions returns a lineage ordered by version.
func (s *Store) ListVersions(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	if !lineage.Validate() {
		return nil, docerr.New(docerr.ErrInvalidArgument, "list versions", "entity type, entity id and slot are required")
	}
	return s.repo.ListLineage(ctx, lineage)
}

// GetActiveVersion returns the lineage's active record, or nil when it has none.
func (s *Store) GetActiveVersion(ctx context.Context, lineage model.Lineage) (*model.DocumentRecord, error) {
	recs, err := s.ListVersions(ctx, lineage)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].State == model.StateActive {
			return &recs[i], nil
		}
	}
	return nil, nil
}

// CreateVersion inserts the next version of a lineage. It becomes active when the
// lineage has no active record; otherwise it takes nv.Fallback, or fails with
// ErrLineageConflict when no fallback is given.
func (s *Store) CreateVersion(ctx context.Context, nv NewVersion) (*model.DocumentRecord, error) {
	const op = "create version"
	if err := nv.validate(op); err != nil {
		return nil, err
	}

	var created model.DocumentRecord
	err := s.repo.WithinLineage(ctx, nv.Lineage, func(ctx context.Context, tx repository.LineageTx) error {
		recs, err := tx.Records(ctx)
		if err != nil {
			return err
		}

		state := model.StateActive
		var supersededBy string
		if active := findActive(recs); active != nil {
			if nv.Fallback == "" {
				e := docerr.Conflict(op, nv.Lineage, "lineage already has active version "+strconv.Itoa(active.Version))
				e.VersionID = active.ID
				return e
			}
			state = nv.Fallback
			supersededBy = active.ID
		}

		rec, err := s.newRecord(ctx, tx, s.newID(), nv, state, s.now())
		if err != nil {
			return err
		}
		rec.SupersededBy = supersededBy
		if err := tx.Insert(ctx, &rec); err != nil {
			return err
		}
		if err := s.checkSingleActive(ctx, tx, op, nv.Lineage); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry(rec, model.ActionUpload, "", nv.UploadedBy, rec.UploadedAt)); err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Replace supersedes the active version versionID with a new active version in one
// unit of work. A target already replaced by someone else yields ErrLineageConflict.
func (s *Store) Replace(ctx context.Context, versionID string, nv NewVersion) (oldRec, newRec *model.DocumentRecord, err error) {
	const op = "replace"
	target, err := s.Get(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	nv.Lineage = target.Lineage()
	nv.Fallback = ""
	if err := nv.validate(op); err != nil {
		return nil, nil, err
	}

	var replaced, created model.DocumentRecord
	err = s.repo.WithinLineage(ctx, nv.Lineage, func(ctx context.Context, tx repository.LineageTx) error {
		recs, err := tx.Records(ctx)
		if err != nil {
			return err
		}
		cur := findID(recs, versionID)
		if cur == nil {
			return docerr.NotFound(op, versionID)
		}
		if cur.State == model.StateSuperseded && cur.SupersededBy != "" {
			e := docerr.Conflict(op, nv.Lineage, "version "+strconv.Itoa(cur.Version)+" was already replaced by "+cur.SupersededBy)
			e.VersionID = cur.ID
			return e
		}

		at := s.now()
		out, err := lifecycle.Apply(*cur, recs, lifecycle.Request{Event: lifecycle.EventReplace, Actor: nv.UploadedBy, At: at})
		if err != nil {
			return err
		}

		newID := s.newID()
		old := out.Record
		old.SupersededBy = newID
		if err := tx.Update(ctx, &old); err != nil {
			return err
		}

		rec, err := s.newRecord(ctx, tx, newID, nv, model.StateActive, at)
		if err != nil {
			return err
		}
		rec.Supersedes = old.ID
		if err := tx.Insert(ctx, &rec); err != nil {
			return err
		}
		if err := s.checkSingleActive(ctx, tx, op, nv.Lineage); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, audit.Entry(old, out.Action, out.From, nv.UploadedBy, at)); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry(rec, model.ActionUpload, "", nv.UploadedBy, at)); err != nil {
			return err
		}
		replaced, created = old, rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &replaced, &created, nil
}

// ApplyTransition is the single path for lifecycle state changes other than replace.
// The lineage is re-read under its serialization point before the state machine decides.
func (s *Store) ApplyTransition(ctx context.Context, versionID string, req lifecycle.Request) (lifecycle.Outcome, error) {
	if req.Event == lifecycle.EventReplace {
		return lifecycle.Outcome{}, docerr.New(docerr.ErrInvalidArgument, string(req.Event), "replace needs a new version; use Replace")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return lifecycle.Outcome{}, docerr.New(docerr.ErrInvalidArgument, string(req.Event), "actor is required")
	}
	target, err := s.Get(ctx, versionID)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	lineage := target.Lineage()

	var out lifecycle.Outcome
	err = s.repo.WithinLineage(ctx, lineage, func(ctx context.Context, tx repository.LineageTx) error {
		recs, err := tx.Records(ctx)
		if err != nil {
			return err
		}
		cur := findID(recs, versionID)
		if cur == nil {
			return docerr.NotFound(string(req.Event), versionID)
		}

		if req.At.IsZero() {
			req.At = s.now()
		}
		res, err := lifecycle.Apply(*cur, recs, req)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, &res.Record); err != nil {
			return err
		}
		if err := s.checkSingleActive(ctx, tx, string(req.Event), lineage); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry(res.Record, res.Action, res.From, req.Actor, req.At)); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	return out, nil
}

// Annotate applies a metadata edit that is not a lifecycle transition (relinking a
// storage key, flagging a missing object, marking an object purged). fn reports
// whether it changed anything; unchanged records are neither written nor audited.
func (s *Store) Annotate(ctx context.Context, versionID string, action model.AuditAction, actor string, fn func(rec *model.DocumentRecord) (bool, error)) (*model.DocumentRecord, bool, error) {
	op := string(action)
	target, err := s.Get(ctx, versionID)
	if err != nil {
		return nil, false, err
	}
	lineage := target.Lineage()

	var result model.DocumentRecord
	var changed bool
	err = s.repo.WithinLineage(ctx, lineage, func(ctx context.Context, tx repository.LineageTx) error {
		recs, err := tx.Records(ctx)
		if err != nil {
			return err
		}
		cur := findID(recs, versionID)
		if cur == nil {
			return docerr.NotFound(op, versionID)
		}

		next := *cur
		ok, err := fn(&next)
		if err != nil {
			return err
		}
		if !ok {
			result = *cur
			return nil
		}
		if next.ID != cur.ID || next.State != cur.State || next.Version != cur.Version ||
			next.StoredFilename != cur.StoredFilename || next.Lineage() != cur.Lineage() {
			return docerr.New(docerr.ErrInvalidArgument, op, "annotations cannot change identity, version, state or stored filename")
		}

		next.UpdatedAt = s.now()
		if err := tx.Update(ctx, &next); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry(next, action, cur.State, actor, next.UpdatedAt)); err != nil {
			return err
		}
		result, changed = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, changed, nil
}

// HardDelete removes a soft-deleted record. Its audit history is kept and its
// version number is never handed out again.
func (s *Store) HardDelete(ctx context.Context, versionID, actor string) (*model.DocumentRecord, error) {
	const op = "hard_delete"
	target, err := s.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}

	var removed model.DocumentRecord
	err = s.repo.WithinLineage(ctx, target.Lineage(), func(ctx context.Context, tx repository.LineageTx) error {
		recs, err := tx.Records(ctx)
		if err != nil {
			return err
		}
		cur := findID(recs, versionID)
		if cur == nil {
			return docerr.NotFound(op, versionID)
		}
		if cur.State != model.StateDeleted {
			return docerr.IllegalTransition(*cur, op, model.StateDeleted, "only soft-deleted versions can be hard deleted")
		}
		if err := tx.Delete(ctx, cur.ID); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry(*cur, model.ActionHardDelete, cur.State, actor, s.now())); err != nil {
			return err
		}
		removed = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// newRecord allocates the next version number and builds the record to insert.
func (s *Store) newRecord(ctx context.Context, tx repository.LineageTx, id string, nv NewVersion, state model.State, at time.Time) (model.DocumentRecord, error) {
	version, err := tx.NextVersion(ctx)
	if err != nil {
		return model.DocumentRecord{}, err
	}
	return model.DocumentRecord{
		ID:               id,
		EntityType:       nv.Lineage.EntityType,
		EntityID:         nv.Lineage.EntityID,
		Slot:             nv.Lineage.Slot,
		Version:          version,
		State:            state,
		StorageKey:       nv.StorageKey,
		OriginalFilename: nv.OriginalFilename,
		StoredFilename:   nv.StoredFilename,
		ContentType:      nv.ContentType,
		Size:             nv.Size,
		UploadedBy:       nv.UploadedBy,
		UploadedAt:       at,
		UpdatedAt:        at,
	}, nil
}

// checkSingleActive re-reads the lineage after the writes of this unit.
func (s *Store) checkSingleActive(ctx context.Context, tx repository.LineageTx, op string, lineage model.Lineage) error {
	recs, err := tx.Records(ctx)
	if err != nil {
		return err
	}
	if n := lifecycle.CountActive(recs); n > 1 {
		return docerr.Conflict(op, lineage, strconv.Itoa(n)+" active versions")
	}
	return nil
}

func findActive(recs []model.DocumentRecord) *model.DocumentRecord {
	for i := range recs {
		if recs[i].State == model.StateActive {
			return &recs[i]
		}
	}
	return nil
}

func findID(recs []model.DocumentRecord, id string) *model.DocumentRecord {
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i]
		}
	}
	return nil
}
