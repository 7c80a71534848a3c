package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"docvault/internal/audit"
	"docvault/internal/docerr"
	"docvault/internal/lifecycle"
	"docvault/internal/lock"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/retry"
	"docvault/internal/storage"
	"docvault/internal/versionstore"
)

var ErrReaderNil = errors.New("reader is nil")

var tracer = otel.Tracer("docvault/internal/service")

// File is an uploaded payload.
type File struct {
	Name        string
	ContentType string
	// Size is the exact byte count, or -1 when unknown.
	Size int64
	Body io.Reader
}

// UploadInput is a first upload into a lineage.
type UploadInput struct {
	Lineage model.Lineage
	File    File
	Actor   string
	// AsHistory stores the file as a superseded version when the lineage already
	// has an active one, instead of failing.
	AsHistory bool
}

// MarkStateInput moves a version to erroneous, obsolete or deleted.
type MarkStateInput struct {
	VersionID   string
	Target      model.State
	Reason      model.ReasonCode
	Note        string
	CorrectedBy string
	Actor       string
}

// TransitionResult is the record after a transition and the warnings it raised.
type TransitionResult struct {
	Record   *model.DocumentRecord `json:"record"`
	Warnings []string              `json:"warnings,omitempty"`
}

// ReplaceResult holds both sides of a replace.
type ReplaceResult struct {
	Previous *model.DocumentRecord `json:"previous"`
	Current  *model.DocumentRecord `json:"current"`
}

// RepairOutcome is the result of one requested repair action.
type RepairOutcome struct {
	reconcile.ActionResult
	Error string `json:"error,omitempty"`
}

// PurgeReport summarizes one purge pass.
type PurgeReport struct {
	Scanned int `json:"scanned"`
	Purged  int `json:"purged"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// DocumentService is the entry point for everything that changes documents.
type DocumentService interface {
	// Upload stores the file and creates the next version of its lineage.
	// The object is written first and removed again if the record cannot be created.
	Upload(ctx context.Context, in UploadInput) (*model.DocumentRecord, error)

	// Replace supersedes the active version versionID with a new file.
	Replace(ctx context.Context, versionID string, f File, actor string) (*ReplaceResult, error)

	// MarkState moves a version to erroneous, obsolete or deleted.
	MarkState(ctx context.Context, in MarkStateInput) (*TransitionResult, error)

	// Restore makes a version active again. It fails while the lineage has an active version.
	Restore(ctx context.Context, versionID, actor string) (*TransitionResult, error)

	Get(ctx context.Context, versionID string) (*model.DocumentRecord, error)
	ListVersions(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error)
	// GetActive returns the active version or an error matching docerr.ErrNotFound.
	GetActive(ctx context.Context, lineage model.Lineage) (*model.DocumentRecord, error)
	History(ctx context.Context, versionID string) ([]model.AuditEntry, error)

	// Download streams the content of a version that has not been deleted.
	Download(ctx context.Context, versionID string) (io.ReadCloser, *model.DocumentRecord, error)

	// DownloadURL returns a time-limited URL for the content of a version that has not been deleted.
	DownloadURL(ctx context.Context, versionID string, expiry time.Duration) (string, error)

	// Reconcile computes a repair plan for scope without changing anything.
	Reconcile(ctx context.Context, scope repository.Scope) (*reconcile.Plan, error)

	// ApplyRepair executes actions one at a time, each re-validated before it runs.
	ApplyRepair(ctx context.Context, actions []reconcile.Action, actor string) ([]RepairOutcome, error)

	// PurgeDeleted removes the objects of versions soft-deleted longer than the retention window.
	PurgeDeleted(ctx context.Context, actor string) (*PurgeReport, error)

	// HardDelete removes a soft-deleted version and its object. Its audit history is kept.
	HardDelete(ctx context.Context, versionID, actor string) error
}

// Deps are the collaborators of the document service.
type Deps struct {
	Versions   *versionstore.Store
	Audit      audit.Recorder
	Repo       repository.DocumentRepository
	Store      storage.ObjectStore
	Layout     *storage.Layout
	Reconciler *reconcile.Reconciler
	// Locker is optional; lock.Noop is used when nil.
	Locker  lock.Locker
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	// Retry bounds lineage-conflict retries.
	Retry retry.Config
	// Retention is how long soft-deleted objects are kept before purge.
	Retention  time.Duration
	PurgeBatch int
}

type documentService struct {
	Deps
	now      func() time.Time
	newNonce func() string
}

// Option configures the document service.
type Option func(*documentService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *documentService) { s.now = now }
}

// WithNonce overrides the stored-filename nonce generator.
func WithNonce(fn func() string) Option {
	return func(s *documentService) { s.newNonce = fn }
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(d Deps, opts ...Option) DocumentService {
	if d.Locker == nil {
		d.Locker = lock.Noop{}
	}
	if d.PurgeBatch <= 0 {
		d.PurgeBatch = 100
	}
	s := &documentService{
		Deps:     d,
		now:      func() time.Time { return time.Now().UTC() },
		newNonce: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *documentService) Upload(ctx context.Context, in UploadInput) (rec *model.DocumentRecord, err error) {
	const op = "upload"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)

	span.SetAttributes(attribute.String("docvault.lineage", in.Lineage.Key()))
	if !in.Lineage.Validate() {
		return nil, docerr.New(docerr.ErrInvalidArgument, op, "entity type, entity id and slot are required")
	}
	if err := checkFile(op, in.File, in.Actor); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, op, in.Lineage)
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := s.Versions.GetActiveVersion(ctx, in.Lineage)
	if err != nil {
		return nil, err
	}
	if active != nil && !in.AsHistory {
		e := docerr.Conflict(op, in.Lineage, "lineage already has active version "+strconv.Itoa(active.Version)+"; replace it instead")
		e.VersionID = active.ID
		return nil, e
	}

	nv, err := s.putObject(ctx, in.Lineage, in.File, in.Actor)
	if err != nil {
		return nil, err
	}
	if in.AsHistory {
		nv.Fallback = model.StateSuperseded
	}

	// the stored object is the checkpoint: retries only redo the metadata step
	err = retry.Do(ctx, s.Retry, s.Log, op, s.conflictRetryable(op), func(ctx context.Context) error {
		var err error
		rec, err = s.Versions.CreateVersion(ctx, nv)
		if errors.Is(err, docerr.ErrLineageConflict) && !in.AsHistory && s.activeElsewhere(ctx, in.Lineage) {
			return permanent{err}
		}
		return err
	})
	if err != nil {
		err = unwrapPermanent(err)
		s.rollbackObject(ctx, op, nv.StorageKey, err)
		return nil, err
	}

	s.Metrics.IncTransition(string(model.ActionUpload))
	s.Log.Info().
		Str("event", "document_uploaded").
		Str("lineage", in.Lineage.Key()).
		Str("version_id", rec.ID).
		Int("version", rec.Version).
		Str("state", string(rec.State)).
		Str("storage_key", rec.StorageKey).
		Str("actor", in.Actor).
		Msg("document uploaded")
	return rec, nil
}

func (s *documentService) Replace(ctx context.Context, versionID string, f File, actor string) (res *ReplaceResult, err error) {
	const op = "replace"
	ctx, span := tracer.Start(ctx, "docvault."+op, trace.WithAttributes(attribute.String("docvault.version_id", versionID)))
	defer s.observe(span, op, time.Now(), &err)

	if err := checkFile(op, f, actor); err != nil {
		return nil, err
	}
	target, err := s.Versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	lineage := target.Lineage()
	if target.State != model.StateActive {
		if target.State == model.StateSuperseded && target.SupersededBy != "" {
			e := docerr.Conflict(op, lineage, "version "+strconv.Itoa(target.Version)+" was already replaced")
			e.VersionID = target.ID
			return nil, e
		}
		return nil, docerr.IllegalTransition(*target, string(lifecycle.EventReplace), model.StateSuperseded, "only the active version can be replaced")
	}

	release, err := s.acquire(ctx, op, lineage)
	if err != nil {
		return nil, err
	}
	defer release()

	nv, err := s.putObject(ctx, lineage, f, actor)
	if err != nil {
		return nil, err
	}

	var previous, current *model.DocumentRecord
	err = retry.Do(ctx, s.Retry, s.Log, op, s.conflictRetryable(op), func(ctx context.Context) error {
		var err error
		previous, current, err = s.Versions.Replace(ctx, versionID, nv)
		if errors.Is(err, docerr.ErrLineageConflict) && s.replacedElsewhere(ctx, versionID) {
			return permanent{err}
		}
		return err
	})
	if err != nil {
		err = unwrapPermanent(err)
		s.rollbackObject(ctx, op, nv.StorageKey, err)
		return nil, err
	}

	s.Metrics.IncTransition(string(model.ActionReplace))
	s.Log.Info().
		Str("event", "document_replaced").
		Str("lineage", lineage.Key()).
		Str("previous_id", previous.ID).
		Str("version_id", current.ID).
		Int("version", current.Version).
		Str("actor", actor).
		Msg("document replaced")
	return &ReplaceResult{Previous: previous, Current: current}, nil
}

func (s *documentService) MarkState(ctx context.Context, in MarkStateInput) (res *TransitionResult, err error) {
	const op = "mark_state"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)

	switch in.Target {
	case model.StateErroneous, model.StateObsolete, model.StateDeleted:
	case model.StateActive:
		return nil, docerr.New(docerr.ErrInvalidArgument, op, "use restore to make a version active")
	default:
		return nil, docerr.New(docerr.ErrInvalidArgument, op, "target state must be erroneous, obsolete or deleted")
	}
	ev, _ := lifecycle.EventFor(in.Target)
	return s.transition(ctx, in.VersionID, lifecycle.Request{
		Event:       ev,
		Reason:      in.Reason,
		Note:        in.Note,
		CorrectedBy: in.CorrectedBy,
		Actor:       in.Actor,
	})
}

func (s *documentService) Restore(ctx context.Context, versionID, actor string) (res *TransitionResult, err error) {
	const op = "restore"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)
	return s.transition(ctx, versionID, lifecycle.Request{Event: lifecycle.EventRestore, Actor: actor})
}

func (s *documentService) transition(ctx context.Context, versionID string, req lifecycle.Request) (*TransitionResult, error) {
	op := string(req.Event)
	var out lifecycle.Outcome
	err := retry.Do(ctx, s.Retry, s.Log, op, s.conflictRetryable(op), func(ctx context.Context) error {
		var err error
		out, err = s.Versions.ApplyTransition(ctx, versionID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.IncTransition(string(out.Action))
	ev := s.Log.Info()
	if len(out.Warnings) > 0 {
		ev = s.Log.Warn().Strs("warnings", out.Warnings)
	}
	ev.Str("event", "document_transition").
		Str("lineage", out.Record.Lineage().Key()).
		Str("version_id", out.Record.ID).
		Str("from", string(out.From)).
		Str("to", string(out.To)).
		Str("reason", string(out.Record.ReasonCode)).
		Str("actor", req.Actor).
		Msg("document state changed")

	rec := out.Record
	return &TransitionResult{Record: &rec, Warnings: out.Warnings}, nil
}

func (s *documentService) Get(ctx context.Context, versionID string) (*model.DocumentRecord, error) {
	return s.Versions.Get(ctx, versionID)
}

func (s *documentService) ListVersions(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	return s.Versions.ListVersions(ctx, lineage)
}

func (s *documentService) GetActive(ctx context.Context, lineage model.Lineage) (*model.DocumentRecord, error) {
	rec, err := s.Versions.GetActiveVersion(ctx, lineage)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		e := docerr.New(docerr.ErrNotFound, "get active version", "lineage has no active version")
		e.Lineage = lineage
		return nil, e
	}
	return rec, nil
}

func (s *documentService) History(ctx context.Context, versionID string) ([]model.AuditEntry, error) {
	if versionID == "" {
		return nil, docerr.New(docerr.ErrInvalidArgument, "history", "id is required")
	}
	return s.Audit.History(ctx, versionID)
}

func (s *documentService) Download(ctx context.Context, versionID string) (io.ReadCloser, *model.DocumentRecord, error) {
	rec, key, err := s.readableObject(ctx, "download", versionID)
	if err != nil {
		return nil, nil, err
	}
	body, _, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return body, rec, nil
}

// MaxURLExpiry is the longest lifetime S3 accepts for a presigned URL.
const MaxURLExpiry = 7 * 24 * time.Hour

func (s *documentService) DownloadURL(ctx context.Context, versionID string, expiry time.Duration) (string, error) {
	const op = "download_url"
	if expiry <= 0 || expiry > MaxURLExpiry {
		return "", docerr.New(docerr.ErrInvalidArgument, op, "expiry must be between 1s and 168h")
	}
	_, key, err := s.readableObject(ctx, op, versionID)
	if err != nil {
		return "", err
	}
	return s.Store.PresignGet(ctx, key, expiry)
}

// readableObject resolves the object key of a version whose content may still be served.
func (s *documentService) readableObject(ctx context.Context, op, versionID string) (*model.DocumentRecord, storage.Key, error) {
	rec, err := s.Versions.Get(ctx, versionID)
	if err != nil {
		return nil, storage.Key{}, err
	}
	if rec.State == model.StateDeleted {
		e := docerr.New(docerr.ErrNotFound, op, "version is deleted")
		e.VersionID = rec.ID
		return nil, storage.Key{}, e
	}
	key, err := storage.ParseKey(storage.NormalizeKey(rec.StorageKey))
	if err != nil {
		return nil, storage.Key{}, err
	}
	return rec, key, nil
}

func (s *documentService) HardDelete(ctx context.Context, versionID, actor string) (err error) {
	const op = "hard_delete"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)

	if strings.TrimSpace(actor) == "" {
		return docerr.New(docerr.ErrInvalidArgument, op, "actor is required")
	}
	rec, err := s.Versions.Get(ctx, versionID)
	if err != nil {
		return err
	}
	if rec.State != model.StateDeleted {
		return docerr.IllegalTransition(*rec, op, model.StateDeleted, "only soft-deleted versions can be hard deleted")
	}

	// the record is already marked deleted, so removing the object first keeps the ordering rule
	if rec.ObjectPurgedAt == nil {
		if err := s.deleteObject(ctx, rec.StorageKey); err != nil {
			return err
		}
		s.Metrics.IncObjectOp("purge")
	}
	if _, err := s.Versions.HardDelete(ctx, versionID, actor); err != nil {
		return err
	}

	s.Metrics.IncTransition(string(model.ActionHardDelete))
	s.Log.Info().
		Str("event", "document_hard_deleted").
		Str("lineage", rec.Lineage().Key()).
		Str("version_id", rec.ID).
		Int("version", rec.Version).
		Str("actor", actor).
		Msg("document permanently deleted")
	return nil
}

// acquire takes the optional cross-process lease, retrying while another upload holds it.
func (s *documentService) acquire(ctx context.Context, op string, lineage model.Lineage) (func(), error) {
	var lease lock.Lease
	err := retry.Do(ctx, s.Retry, s.Log, op+"_lock", s.conflictRetryable(op), func(ctx context.Context) error {
		var err error
		lease, err = s.Locker.Acquire(ctx, lineage)
		return err
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.Log.Warn().
				Err(err).
				Str("event", "lineage_lock_release_failed").
				Str("lineage", lineage.Key()).
				Msg("lineage lock not released; it expires on its own")
		}
	}, nil
}

func (s *documentService) putObject(ctx context.Context, lineage model.Lineage, f File, actor string) (versionstore.NewVersion, error) {
	original := cleanFilename(f.Name)
	stored := storage.FormatStoredName(lineage.Slot, s.newNonce(), original)
	key, err := s.Layout.ObjectKey(lineage.EntityType, lineage.EntityID, stored)
	if err != nil {
		return versionstore.NewVersion{}, err
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.Store.Put(ctx, key, f.Body, storage.PutObjectOptions{
		Size:        f.Size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": url.PathEscape(original),
			"uploaded-by":       url.PathEscape(actor),
			"lineage":           url.PathEscape(lineage.Key()),
		},
	})
	if err != nil {
		return versionstore.NewVersion{}, err
	}
	s.Metrics.IncObjectOp("put")

	return versionstore.NewVersion{
		Lineage:          lineage,
		StorageKey:       key.String(),
		OriginalFilename: original,
		StoredFilename:   stored,
		ContentType:      contentType,
		Size:             info.Size,
		UploadedBy:       actor,
	}, nil
}

// rollbackObject removes an object whose record was never committed. A failure
// leaves an orphan that the reconciler reports.
func (s *documentService) rollbackObject(ctx context.Context, op, storageKey string, cause error) {
	if err := s.deleteObject(context.WithoutCancel(ctx), storageKey); err != nil {
		s.Log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("event", "object_rollback_failed").
			Str("op", op).
			Str("storage_key", storageKey).
			Msg("object left without record")
		return
	}
	s.Metrics.IncObjectOp("rollback")
	s.Log.Warn().
		AnErr("cause", cause).
		Str("event", "object_rolled_back").
		Str("op", op).
		Str("storage_key", storageKey).
		Msg("object removed after metadata failure")
}

// deleteObject removes the object behind storageKey; a missing object is not an error.
func (s *documentService) deleteObject(ctx context.Context, storageKey string) error {
	key, err := storage.ParseKey(storage.NormalizeKey(storageKey))
	if err != nil {
		return err
	}
	err = s.Store.Delete(ctx, key)
	if errors.Is(err, docerr.ErrNotFound) {
		return nil
	}
	return err
}

// activeElsewhere reports whether another upload activated a version of the lineage.
func (s *documentService) activeElsewhere(ctx context.Context, l model.Lineage) bool {
	active, err := s.Versions.GetActiveVersion(ctx, l)
	return err == nil && active != nil
}

func (s *documentService) replacedElsewhere(ctx context.Context, versionID string) bool {
	rec, err := s.Versions.Get(ctx, versionID)
	return err == nil && rec.State != model.StateActive
}

func (s *documentService) conflictRetryable(op string) func(error) bool {
	return func(err error) bool {
		var p permanent
		if errors.As(err, &p) {
			s.Metrics.IncConflict(op)
			return false
		}
		if errors.Is(err, docerr.ErrLineageConflict) {
			s.Metrics.IncConflict(op)
			return true
		}
		return false
	}
}

// observe records the outcome of op on its span and in the latency histogram, then ends the span.
func (s *documentService) observe(span trace.Span, op string, start time.Time, err *error) {
	s.Metrics.ObserveOperation(op, *err, time.Since(start))
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, op+" failed")
	}
	span.End()
}

// permanent marks a conflict that re-reading cannot resolve.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

func unwrapPermanent(err error) error {
	var p permanent
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

func checkFile(op string, f File, actor string) error {
	switch {
	case f.Body == nil:
		return docerr.Wrap(docerr.ErrInvalidArgument, op, ErrReaderNil)
	case strings.TrimSpace(cleanFilename(f.Name)) == "":
		return docerr.New(docerr.ErrInvalidArgument, op, "filename is required")
	case strings.TrimSpace(actor) == "":
		return docerr.New(docerr.ErrInvalidArgument, op, "actor is required")
	}
	return nil
}

// cleanFilename keeps the last path element of a client-supplied name in NFC form.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return norm.NFC.String(base)
}
