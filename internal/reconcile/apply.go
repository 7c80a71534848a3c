package reconcile

import (
	"context"
	"errors"
	"strings"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

// Status is the result of applying one action.
type Status string

const (
	Applied           Status = "applied"
	AlreadyConsistent Status = "already_consistent"
	Stale             Status = "stale"
)

// ActionResult reports what Apply did.
type ActionResult struct {
	ActionID string     `json:"action_id"`
	Kind     ActionKind `json:"kind"`
	Status   Status     `json:"status"`
	Detail   string     `json:"detail,omitempty"`
}

var errStale = errors.New("precondition no longer holds")

// Apply executes one action after re-validating it against the current state of
// both stores. Applying an action twice is a no-op reported as already_consistent.
func (r *Reconciler) Apply(ctx context.Context, act Action, actor string) (ActionResult, error) {
	res := ActionResult{ActionID: act.ID, Kind: act.Kind}
	if actor == "" {
		return res, docerr.New(docerr.ErrInvalidArgument, string(act.Kind), "actor is required")
	}

	var (
		status Status
		detail string
		err    error
	)
	switch act.Kind {
	case RelinkRecord:
		status, detail, err = r.relink(ctx, act, actor)
	case DeleteOrphanObject:
		status, detail, err = r.deleteOrphan(ctx, act)
	case FlagOrphanRecord:
		status, detail, err = r.flagMissing(ctx, act, actor)
	default:
		return res, docerr.New(docerr.ErrInvalidArgument, "apply repair", "unknown action kind "+string(act.Kind))
	}
	if errors.Is(err, errStale) {
		status, detail, err = Stale, err.Error(), nil
	}
	if err != nil {
		r.log.Error().
			Err(err).
			Str("event", "repair_failed").
			Str("action_id", act.ID).
			Str("kind", string(act.Kind)).
			Str("version_id", act.VersionID).
			Str("object_key", act.ObjectKey).
			Msg("repair action failed")
		return res, err
	}

	res.Status, res.Detail = status, detail
	r.metrics.IncRepair(string(act.Kind), string(status))
	r.log.Info().
		Str("event", "repair_applied").
		Str("action_id", act.ID).
		Str("kind", string(act.Kind)).
		Str("status", string(status)).
		Str("version_id", act.VersionID).
		Str("object_key", act.ObjectKey).
		Str("actor", actor).
		Msg("repair action processed")
	return res, nil
}

// relink copies the object to the record's canonical key, repoints the record,
// then removes the stray copy. Each step is safe to repeat, so a relink that
// stopped half way finishes on the next attempt.
func (r *Reconciler) relink(ctx context.Context, act Action, actor string) (Status, string, error) {
	rec, err := r.liveRecord(ctx, act.VersionID)
	if err != nil {
		return "", "", err
	}
	target, err := r.layout.ObjectKey(rec.EntityType, rec.EntityID, rec.StoredFilename)
	if err != nil {
		return "", "", err
	}
	if act.TargetKey != "" && act.TargetKey != target.String() {
		return "", "", errStale
	}
	src, err := storage.ParseKey(act.ObjectKey)
	if err != nil {
		return "", "", err
	}
	repointed := rec.StorageKey == target.String()
	if !repointed && rec.StorageKey != act.RecordKey {
		return "", "", errStale
	}

	copied, err := r.ensureCanonical(ctx, src, target, act.ObjectTag)
	if err != nil {
		return "", "", err
	}

	if !repointed {
		_, _, err = r.versions.Annotate(ctx, rec.ID, model.ActionRelink, actor, func(cur *model.DocumentRecord) (bool, error) {
			if cur.State == model.StateDeleted || cur.StorageKey != act.RecordKey {
				return false, errStale
			}
			cur.StorageKey = target.String()
			cur.MissingObjectSince = nil
			return true, nil
		})
		if err != nil {
			return "", "", err
		}
	}

	removed := false
	if src != target {
		removed, err = r.removeIfPresent(ctx, src)
		if err != nil {
			// the record already points at the canonical copy; the stray is an orphan for the next run
			r.log.Warn().
				Err(err).
				Str("event", "relink_stray_delete_failed").
				Str("object_key", src.String()).
				Msg("stray object left behind")
		}
	}

	if repointed && !copied && !removed {
		return AlreadyConsistent, "", nil
	}
	return Applied, "relinked to " + target.String(), nil
}

// ensureCanonical makes sure target holds the object, copying it from src when
// needed. It reports whether a copy was made.
func (r *Reconciler) ensureCanonical(ctx context.Context, src, target storage.Key, etag string) (bool, error) {
	_, err := r.store.Stat(ctx, target)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, docerr.ErrNotFound):
		return false, err
	case src == target:
		return false, errStale
	}

	info, err := r.store.Stat(ctx, src)
	if errors.Is(err, docerr.ErrNotFound) {
		return false, errStale
	}
	if err != nil {
		return false, err
	}
	if etag != "" && info.ETag != etag {
		return false, errStale
	}
	if _, err := r.store.Copy(ctx, src, target); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) deleteOrphan(ctx context.Context, act Action) (Status, string, error) {
	key, err := storage.ParseKey(act.ObjectKey)
	if err != nil {
		return "", "", err
	}
	info, err := r.store.Stat(ctx, key)
	if errors.Is(err, docerr.ErrNotFound) {
		return AlreadyConsistent, "", nil
	}
	if err != nil {
		return "", "", err
	}
	if act.ObjectTag != "" && info.ETag != act.ObjectTag {
		return "", "", errStale
	}
	claimed, err := r.claimedBy(ctx, key)
	if err != nil {
		return "", "", err
	}
	if claimed != "" {
		return Stale, "object is referenced by " + claimed, nil
	}

	removed, err := r.removeIfPresent(ctx, key)
	if err != nil {
		return "", "", err
	}
	if !removed {
		return AlreadyConsistent, "", nil
	}
	r.metrics.IncObjectOp("repair_delete")
	return Applied, "deleted " + key.String(), nil
}

func (r *Reconciler) flagMissing(ctx context.Context, act Action, actor string) (Status, string, error) {
	rec, err := r.liveRecord(ctx, act.VersionID)
	if err != nil {
		return "", "", err
	}
	if rec.StorageKey != act.RecordKey {
		return "", "", errStale
	}
	if key, perr := storage.ParseKey(storage.NormalizeKey(rec.StorageKey)); perr == nil {
		_, err := r.store.Stat(ctx, key)
		if err == nil {
			return Stale, "object is present again", nil
		}
		if !errors.Is(err, docerr.ErrNotFound) {
			return "", "", err
		}
	}

	at := r.now()
	_, changed, err := r.versions.Annotate(ctx, rec.ID, model.ActionFlagMissing, actor, func(cur *model.DocumentRecord) (bool, error) {
		if cur.StorageKey != act.RecordKey {
			return false, errStale
		}
		if cur.MissingObjectSince != nil {
			return false, nil
		}
		cur.MissingObjectSince = &at
		return true, nil
	})
	if err != nil {
		return "", "", err
	}
	if !changed {
		return AlreadyConsistent, "", nil
	}
	return Applied, "flagged missing object", nil
}

// liveRecord loads a record that is still eligible for repair.
func (r *Reconciler) liveRecord(ctx context.Context, id string) (*model.DocumentRecord, error) {
	rec, err := r.versions.Get(ctx, id)
	if errors.Is(err, docerr.ErrNotFound) {
		return nil, errStale
	}
	if err != nil {
		return nil, err
	}
	if rec.State == model.StateDeleted {
		return nil, errStale
	}
	return rec, nil
}

// claimedBy returns the id of a record whose storage key normalizes to key:
// a live record, or a deleted one whose object has not been purged yet.
func (r *Reconciler) claimedBy(ctx context.Context, key storage.Key) (string, error) {
	scope := repository.Scope{}
	if t, ok := r.layout.EntityType(key.Bucket); ok {
		scope.EntityType = t
		if entityID, _, found := strings.Cut(key.Name, "/"); found && entityID != "" {
			scope.EntityID = entityID
		}
	}
	records, err := r.loadRecords(ctx, scope)
	if err != nil {
		return "", err
	}
	want := storage.NormalizeKey(key.String())
	for _, rec := range records {
		if storage.NormalizeKey(rec.StorageKey) != want {
			continue
		}
		if rec.State != model.StateDeleted || rec.ObjectPurgedAt == nil {
			return rec.ID, nil
		}
	}
	return "", nil
}

func (r *Reconciler) removeIfPresent(ctx context.Context, key storage.Key) (bool, error) {
	err := r.store.Delete(ctx, key)
	if errors.Is(err, docerr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
