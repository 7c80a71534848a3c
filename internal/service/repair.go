package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

func (s *documentService) Reconcile(ctx context.Context, scope repository.Scope) (plan *reconcile.Plan, err error) {
	ctx, span := tracer.Start(ctx, "docvault.reconcile")
	defer s.observe(span, "reconcile", time.Now(), &err)
	return s.Reconciler.Plan(ctx, scope)
}

func (s *documentService) ApplyRepair(ctx context.Context, actions []reconcile.Action, actor string) (out []RepairOutcome, err error) {
	const op = "apply_repair"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)

	if strings.TrimSpace(actor) == "" {
		return nil, docerr.New(docerr.ErrInvalidArgument, op, "actor is required")
	}
	out = make([]RepairOutcome, 0, len(actions))
	for _, act := range actions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.Reconciler.Apply(ctx, act, actor)
		o := RepairOutcome{ActionResult: res}
		if err != nil {
			o.Error = err.Error()
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *documentService) PurgeDeleted(ctx context.Context, actor string) (report *PurgeReport, err error) {
	const op = "purge"
	ctx, span := tracer.Start(ctx, "docvault."+op)
	defer s.observe(span, op, time.Now(), &err)

	if strings.TrimSpace(actor) == "" {
		return nil, docerr.New(docerr.ErrInvalidArgument, op, "actor is required")
	}
	cutoff := s.now().Add(-s.Retention)
	due, err := s.Repo.ListPendingPurge(ctx, cutoff, s.PurgeBatch)
	if err != nil {
		return nil, err
	}

	report = &PurgeReport{Scanned: len(due)}
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		missing, err := s.purgeOne(ctx, rec, actor)
		if err != nil {
			report.Failed++
			s.Log.Error().
				Err(err).
				Str("event", "purge_failed").
				Str("version_id", rec.ID).
				Str("storage_key", rec.StorageKey).
				Msg("object purge failed")
			continue
		}
		if missing {
			report.Missing++
		} else {
			report.Purged++
			s.Metrics.IncObjectOp("purge")
		}
	}

	s.Log.Info().
		Str("event", "purge_completed").
		Time("cutoff", cutoff).
		Int("scanned", report.Scanned).
		Int("purged", report.Purged).
		Int("missing", report.Missing).
		Int("failed", report.Failed).
		Msg("purge pass completed")
	return report, nil
}

// purgeOne deletes the object of a soft-deleted record and stamps ObjectPurgedAt.
// missing reports that the object was already gone.
func (s *documentService) purgeOne(ctx context.Context, rec model.DocumentRecord, actor string) (missing bool, err error) {
	key, err := storage.ParseKey(storage.NormalizeKey(rec.StorageKey))
	if err != nil {
		return false, err
	}
	if err := s.Store.Delete(ctx, key); err != nil {
		if !errors.Is(err, docerr.ErrNotFound) {
			return false, err
		}
		missing = true
	}

	at := s.now()
	_, _, err = s.Versions.Annotate(ctx, rec.ID, model.ActionPurgeObject, actor, func(cur *model.DocumentRecord) (bool, error) {
		if cur.State != model.StateDeleted {
			return false, docerr.IllegalTransition(*cur, "purge", model.StateDeleted, "version is no longer deleted")
		}
		if cur.ObjectPurgedAt != nil {
			return false, nil
		}
		cur.ObjectPurgedAt = &at
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return missing, nil
}
