package versionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auditmem "docvault/internal/audit/memory"
	"docvault/internal/docerr"
	"docvault/internal/lifecycle"
	"docvault/internal/model"
	repomem "docvault/internal/repository/memory"
	"docvault/internal/repository/mocks"
)

var lineage = model.Lineage{EntityType: model.EntityVivienda, EntityID: "viv-1", Slot: "certificado_tradicion"}

type fixture struct {
	store *Store
	repo  *repomem.DocumentMemory
	audit *auditmem.Store
}

func newFixture() *fixture {
	repo := repomem.NewDocumentMemory()
	aud := auditmem.New()
	var n atomic.Int64
	clock := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &fixture{
		store: New(repo, aud,
			WithClock(func() time.Time { return clock }),
			WithIDGenerator(func() string { return fmt.Sprintf("id-%d", n.Add(1)) }),
		),
		repo:  repo,
		audit: aud,
	}
}

func upload(name string) NewVersion {
	return NewVersion{
		Lineage:          lineage,
		StorageKey:       "documentos-viviendas/viv-1/" + name,
		OriginalFilename: name,
		StoredFilename:   name,
		ContentType:      "application/pdf",
		Size:             42,
		UploadedBy:       "ana",
	}
}

func TestCreateVersion_FirstIsActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rec, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, model.StateActive, rec.State)

	active, err := f.store.GetActiveVersion(ctx, lineage)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, active.ID)

	hist, _ := f.audit.History(ctx, rec.ID)
	require.Len(t, hist, 1)
	assert.Equal(t, model.ActionUpload, hist[0].Action)
	assert.Equal(t, model.StateActive, hist[0].ToState)
}

func TestCreateVersion_ActiveLineage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)

	_, err = f.store.CreateVersion(ctx, upload("b.pdf"))
	assert.ErrorIs(t, err, docerr.ErrLineageConflict)

	nv := upload("c.pdf")
	nv.Fallback = model.StateSuperseded
	hist, err := f.store.CreateVersion(ctx, nv)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Version)
	assert.Equal(t, model.StateSuperseded, hist.State)
	assert.Equal(t, first.ID, hist.SupersededBy)
}

func TestCreateVersion_Validation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name   string
		mutate func(*NewVersion)
	}{
		{name: "unknown entity type", mutate: func(nv *NewVersion) { nv.Lineage.EntityType = "barco" }},
		{name: "missing slot", mutate: func(nv *NewVersion) { nv.Lineage.Slot = "" }},
		{name: "missing storage key", mutate: func(nv *NewVersion) { nv.StorageKey = "" }},
		{name: "missing uploader", mutate: func(nv *NewVersion) { nv.UploadedBy = " " }},
		{name: "negative size", mutate: func(nv *NewVersion) { nv.Size = -1 }},
		{name: "bad fallback", mutate: func(nv *NewVersion) { nv.Fallback = model.StateObsolete }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nv := upload("a.pdf")
			tt.mutate(&nv)
			_, err := f.store.CreateVersion(context.Background(), nv)
			assert.ErrorIs(t, err, docerr.ErrInvalidArgument)
		})
	}
}

func TestReplace_RoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)

	old, cur, err := f.store.Replace(ctx, v1.ID, upload("b.pdf"))
	require.NoError(t, err)

	assert.Equal(t, model.StateSuperseded, old.State)
	assert.Equal(t, cur.ID, old.SupersededBy)
	assert.Equal(t, model.StateActive, cur.State)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, v1.ID, cur.Supersedes)

	versions, err := f.store.ListVersions(ctx, lineage)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, []model.State{model.StateSuperseded, model.StateActive}, []model.State{versions[0].State, versions[1].State})

	hist, _ := f.audit.History(ctx, v1.ID)
	require.Len(t, hist, 2)
	assert.Equal(t, model.ActionReplace, hist[1].Action)
	assert.Equal(t, model.StateActive, hist[1].FromState)
	assert.Equal(t, model.StateSuperseded, hist[1].ToState)
}

func TestReplace_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)
	_, v2, err := f.store.Replace(ctx, v1.ID, upload("b.pdf"))
	require.NoError(t, err)

	_, _, err = f.store.Replace(ctx, v1.ID, upload("c.pdf"))
	assert.ErrorIs(t, err, docerr.ErrLineageConflict)

	_, err = f.store.ApplyTransition(ctx, v2.ID, lifecycle.Request{Event: lifecycle.EventMarkErroneous, Reason: model.ReasonIllegible, Actor: "ana"})
	require.NoError(t, err)
	_, _, err = f.store.Replace(ctx, v2.ID, upload("d.pdf"))
	assert.ErrorIs(t, err, docerr.ErrIllegalTransition)

	_, _, err = f.store.Replace(ctx, "missing", upload("e.pdf"))
	assert.ErrorIs(t, err, docerr.ErrNotFound)
}

func TestReplace_ConcurrentHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = f.store.Replace(ctx, v1.ID, upload(fmt.Sprintf("r%d.pdf", i)))
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, docerr.ErrLineageConflict)
	}
	assert.Equal(t, 1, wins)

	versions, _ := f.store.ListVersions(ctx, lineage)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, 1, lifecycle.CountActive(versions))
}

func TestCreateVersion_ConcurrentFirstUploads(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.CreateVersion(ctx, upload(fmt.Sprintf("u%d.pdf", i)))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, docerr.ErrLineageConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	versions, _ := f.store.ListVersions(ctx, lineage)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
}

func TestApplyTransition_AuditFailureRollsBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)

	boom := errors.New("audit unavailable")
	f.audit.FailWith(boom)
	_, err = f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventMarkObsolete, Reason: model.ReasonExpired, Actor: "ana"})
	assert.ErrorIs(t, err, boom)

	got, err := f.store.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, got.State)
	assert.Empty(t, got.ReasonCode)

	hist, _ := f.audit.History(ctx, v1.ID)
	assert.Len(t, hist, 1)
}

func TestReplace_AuditFailureRollsBackBothRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, err := f.store.CreateVersion(ctx, upload("a.pdf"))
	require.NoError(t, err)

	f.audit.FailWith(errors.New("audit unavailable"))
	_, _, err = f.store.Replace(ctx, v1.ID, upload("b.pdf"))
	require.Error(t, err)

	versions, _ := f.store.ListVersions(ctx, lineage)
	require.Len(t, versions, 1)
	assert.Equal(t, model.StateActive, versions[0].State)
	assert.Len(t, f.audit.All(), 1)
}

func TestApplyTransition_Restore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, _ := f.store.CreateVersion(ctx, upload("a.pdf"))
	_, v2, err := f.store.Replace(ctx, v1.ID, upload("b.pdf"))
	require.NoError(t, err)

	_, err = f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventRestore, Actor: "ana"})
	assert.ErrorIs(t, err, docerr.ErrIllegalTransition)

	_, err = f.store.ApplyTransition(ctx, v2.ID, lifecycle.Request{Event: lifecycle.EventMarkErroneous, Reason: model.ReasonWrongFile, Actor: "ana"})
	require.NoError(t, err)

	out, err := f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventRestore, Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, out.Record.State)
	assert.Equal(t, []string{lifecycle.WarnRestoredBesideNewer}, out.Warnings)

	active, _ := f.store.GetActiveVersion(ctx, lineage)
	assert.Equal(t, v1.ID, active.ID)
}

func TestApplyTransition_Guards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, _ := f.store.CreateVersion(ctx, upload("a.pdf"))

	_, err := f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventReplace, Actor: "ana"})
	assert.ErrorIs(t, err, docerr.ErrInvalidArgument)

	_, err = f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventSoftDelete})
	assert.ErrorIs(t, err, docerr.ErrInvalidArgument)

	_, err = f.store.ApplyTransition(ctx, "missing", lifecycle.Request{Event: lifecycle.EventSoftDelete, Actor: "ana"})
	assert.ErrorIs(t, err, docerr.ErrNotFound)

	out, err := f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventSoftDelete, Actor: "ana"})
	require.NoError(t, err)
	assert.True(t, out.ScheduleObjectDeletion)
	require.NotNil(t, out.Record.DeletedAt)

	_, err = f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventRestore, Actor: "ana"})
	assert.ErrorIs(t, err, docerr.ErrIllegalTransition)
}

func TestAnnotate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, _ := f.store.CreateVersion(ctx, upload("a.pdf"))

	rec, changed, err := f.store.Annotate(ctx, v1.ID, model.ActionRelink, "repair", func(r *model.DocumentRecord) (bool, error) {
		r.StorageKey = "documentos-viviendas/viv-1/canonical.pdf"
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "documentos-viviendas/viv-1/canonical.pdf", rec.StorageKey)

	_, changed, err = f.store.Annotate(ctx, v1.ID, model.ActionRelink, "repair", func(r *model.DocumentRecord) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.store.Annotate(ctx, v1.ID, model.ActionRelink, "repair", func(r *model.DocumentRecord) (bool, error) {
		r.State = model.StateObsolete
		return true, nil
	})
	assert.ErrorIs(t, err, docerr.ErrInvalidArgument)

	hist, _ := f.audit.History(ctx, v1.ID)
	require.Len(t, hist, 2)
	assert.Equal(t, model.ActionRelink, hist[1].Action)
}

func TestHardDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v1, _ := f.store.CreateVersion(ctx, upload("a.pdf"))

	_, err := f.store.HardDelete(ctx, v1.ID, "admin")
	assert.ErrorIs(t, err, docerr.ErrIllegalTransition)

	_, err = f.store.ApplyTransition(ctx, v1.ID, lifecycle.Request{Event: lifecycle.EventSoftDelete, Actor: "ana"})
	require.NoError(t, err)
	removed, err := f.store.HardDelete(ctx, v1.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, removed.ID)

	_, err = f.store.Get(ctx, v1.ID)
	assert.ErrorIs(t, err, docerr.ErrNotFound)

	hist, _ := f.audit.History(ctx, v1.ID)
	require.Len(t, hist, 3)
	assert.Equal(t, model.ActionHardDelete, hist[2].Action)

	next, err := f.store.CreateVersion(ctx, upload("b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
}

func TestGet_RepositoryError(t *testing.T) {
	repo := new(mocks.MockDocumentRepository)
	s := New(repo, auditmem.New())
	dbErr := errors.New("connection refused")
	repo.On("FindByID", mock.Anything, "v1").Return(nil, dbErr)

	_, err := s.Get(context.Background(), "v1")
	assert.ErrorIs(t, err, dbErr)

	_, err = s.Get(context.Background(), "")
	assert.ErrorIs(t, err, docerr.ErrInvalidArgument)
	repo.AssertExpectations(t)
}

func TestApplyTransition_WritesThroughLineageTx(t *testing.T) {
	repo := new(mocks.MockDocumentRepository)
	tx := new(mocks.MockLineageTx)
	aud := auditmem.New()
	s := New(repo, aud)

	rec := model.DocumentRecord{ID: "v1", EntityType: lineage.EntityType, EntityID: lineage.EntityID, Slot: lineage.Slot, Version: 1, State: model.StateActive}
	repo.On("FindByID", mock.Anything, "v1").Return(&rec, nil)
	repo.On("WithinLineage", mock.Anything, lineage, mock.Anything).Return(tx, nil)
	tx.On("Records", mock.Anything).Return([]model.DocumentRecord{rec}, nil).Once()
	tx.On("Update", mock.Anything, mock.MatchedBy(func(r *model.DocumentRecord) bool {
		return r.ID == "v1" && r.State == model.StateObsolete && r.ReasonCode == model.ReasonDuplicate
	})).Return(nil)
	obsolete := rec
	obsolete.State = model.StateObsolete
	tx.On("Records", mock.Anything).Return([]model.DocumentRecord{obsolete}, nil).Once()

	out, err := s.ApplyTransition(context.Background(), "v1", lifecycle.Request{Event: lifecycle.EventMarkObsolete, Reason: model.ReasonDuplicate, Actor: "ana"})

	require.NoError(t, err)
	assert.Equal(t, model.StateObsolete, out.To)
	assert.Len(t, aud.All(), 1)
	repo.AssertExpectations(t)
	tx.AssertExpectations(t)
}
