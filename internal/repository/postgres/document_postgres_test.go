package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/repository"
)

var columns = []string{
	"id", "entity_type", "entity_id", "slot", "version", "state", "storage_key",
	"original_filename", "stored_filename", "content_type", "size", "uploaded_by", "uploaded_at",
	"reason_code", "reason_note", "supersedes", "superseded_by", "corrected_by",
	"deleted_at", "object_purged_at", "missing_object_since", "updated_at",
}

var lineage = model.Lineage{EntityType: model.EntityVivienda, EntityID: "viv-1", Slot: "escritura"}

func row(id string, version int, state string, now time.Time) []driver.Value {
	return []driver.Value{
		id, "vivienda", "viv-1", "escritura", version, state,
		"documentos-viviendas/viv-1/escritura~0000000" + id + "~e.pdf",
		"e.pdf", "escritura~0000000" + id + "~e.pdf", "application/pdf", int64(10), "ana", now,
		nil, nil, nil, nil, nil,
		nil, nil, nil, now,
	}
}

func newRepo(t *testing.T) (*DocumentPostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDocumentPostgres(db), mock
}

func TestDocumentPostgres_FindByID(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		r := row("a", 1, "erroneous", now)
		r[13] = "illegible"
		r[17] = "b"
		deleted := now.Add(-time.Hour)
		r[18] = deleted
		mock.ExpectQuery("SELECT (.+) FROM document_records WHERE id = ?").
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(r...))

		doc, err := repo.FindByID(ctx, "a")

		require.NoError(t, err)
		assert.Equal(t, "a", doc.ID)
		assert.Equal(t, model.StateErroneous, doc.State)
		assert.Equal(t, model.ReasonIllegible, doc.ReasonCode)
		assert.Equal(t, "b", doc.CorrectedBy)
		assert.Empty(t, doc.Supersedes)
		require.NotNil(t, doc.DeletedAt)
		assert.Equal(t, deleted, *doc.DeletedAt)
		assert.Nil(t, doc.ObjectPurgedAt)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM document_records WHERE id = ?").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(columns))

		doc, err := repo.FindByID(ctx, "missing")

		assert.ErrorIs(t, err, docerr.ErrNotFound)
		assert.Nil(t, doc)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ListLineage(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM document_records\\s+WHERE entity_type = \\$1 AND entity_id = \\$2 AND slot = \\$3\\s+ORDER BY version").
		WithArgs("vivienda", "viv-1", "escritura").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(row("a", 1, "superseded", now)...).
			AddRow(row("b", 2, "active", now)...))

	recs, err := repo.ListLineage(context.Background(), lineage)

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[1].Version)
	assert.Equal(t, model.StateActive, recs[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ListScope(t *testing.T) {
	tests := []struct {
		name       string
		scope      repository.Scope
		setupMocks func(mock sqlmock.Sqlmock, now time.Time)
		wantTotal  int
		wantItems  int
	}{
		{
			name:  "full store",
			scope: repository.Scope{},
			setupMocks: func(mock sqlmock.Sqlmock, now time.Time) {
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM document_records$").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
				mock.ExpectQuery("SELECT (.+) FROM document_records ORDER BY (.+) LIMIT \\$1 OFFSET \\$2").
					WithArgs(2, 0).
					WillReturnRows(sqlmock.NewRows(columns).
						AddRow(row("a", 1, "active", now)...).
						AddRow(row("b", 1, "active", now)...))
			},
			wantTotal: 3,
			wantItems: 2,
		},
		{
			name:  "entity scope",
			scope: repository.Scope{EntityType: model.EntityVivienda, EntityID: "viv-1"},
			setupMocks: func(mock sqlmock.Sqlmock, now time.Time) {
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM document_records WHERE entity_type = \\$1 AND entity_id = \\$2").
					WithArgs("vivienda", "viv-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				mock.ExpectQuery("SELECT (.+) WHERE entity_type = \\$1 AND entity_id = \\$2 ORDER BY (.+) LIMIT \\$3 OFFSET \\$4").
					WithArgs("vivienda", "viv-1", 2, 0).
					WillReturnRows(sqlmock.NewRows(columns).AddRow(row("a", 1, "active", now)...))
			},
			wantTotal: 1,
			wantItems: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			tt.setupMocks(mock, time.Now().UTC())

			page, err := repo.ListScope(context.Background(), tt.scope, repository.PageQuery{Limit: 2})

			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Len(t, page.Items, tt.wantItems)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDocumentPostgres_ListPendingPurge(t *testing.T) {
	repo, mock := newRepo(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE state = 'deleted' AND object_purged_at IS NULL AND deleted_at < \\$1").
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row("a", 1, "deleted", cutoff)...))

	recs, err := repo.ListPendingPurge(context.Background(), cutoff, 50)

	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLineageLock(mock sqlmock.Sqlmock, last int) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO document_lineages").
		WithArgs("vivienda", "viv-1", "escritura").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT last_version FROM document_lineages(.+)FOR UPDATE").
		WithArgs("vivienda", "viv-1", "escritura").
		WillReturnRows(sqlmock.NewRows([]string{"last_version"}).AddRow(last))
}

func TestDocumentPostgres_WithinLineage(t *testing.T) {
	now := time.Now().UTC()
	newRec := &model.DocumentRecord{
		ID: "c", EntityType: model.EntityVivienda, EntityID: "viv-1", Slot: "escritura",
		State: model.StateActive, StorageKey: "k", OriginalFilename: "e.pdf", StoredFilename: "s",
		ContentType: "application/pdf", Size: 1, UploadedBy: "ana", UploadedAt: now, UpdatedAt: now,
	}

	tests := []struct {
		name       string
		setupMocks func(mock sqlmock.Sqlmock)
		wantErr    error
	}{
		{
			name: "commits inserted version",
			setupMocks: func(mock sqlmock.Sqlmock) {
				expectLineageLock(mock, 2)
				mock.ExpectQuery("SELECT (.+) FROM document_records(.+)FOR UPDATE").
					WithArgs("vivienda", "viv-1", "escritura").
					WillReturnRows(sqlmock.NewRows(columns).AddRow(row("a", 2, "obsolete", now)...))
				mock.ExpectQuery("UPDATE document_lineages SET last_version = last_version \\+ 1").
					WithArgs("vivienda", "viv-1", "escritura").
					WillReturnRows(sqlmock.NewRows([]string{"last_version"}).AddRow(3))
				mock.ExpectExec("INSERT INTO document_records").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "unique violation is a lineage conflict",
			setupMocks: func(mock sqlmock.Sqlmock) {
				expectLineageLock(mock, 2)
				mock.ExpectQuery("SELECT (.+) FROM document_records(.+)FOR UPDATE").
					WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectQuery("UPDATE document_lineages").
					WillReturnRows(sqlmock.NewRows([]string{"last_version"}).AddRow(3))
				mock.ExpectExec("INSERT INTO document_records").
					WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_document_records_active"})
				mock.ExpectRollback()
			},
			wantErr: docerr.ErrLineageConflict,
		},
		{
			name: "lock failure rolls back",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO document_lineages").WillReturnError(errors.New("conn reset"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("upsert lineage: conn reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			tt.setupMocks(mock)

			err := repo.WithinLineage(context.Background(), lineage, func(ctx context.Context, tx repository.LineageTx) error {
				if _, err := tx.Records(ctx); err != nil {
					return err
				}
				v, err := tx.NextVersion(ctx)
				if err != nil {
					return err
				}
				rec := *newRec
				rec.Version = v
				return tx.Insert(ctx, &rec)
			})

			switch {
			case tt.wantErr == nil:
				assert.NoError(t, err)
			case errors.Is(tt.wantErr, docerr.ErrLineageConflict):
				assert.ErrorIs(t, err, docerr.ErrLineageConflict)
				e, ok := docerr.As(err)
				require.True(t, ok)
				assert.Equal(t, lineage, e.Lineage)
			default:
				assert.EqualError(t, err, tt.wantErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDocumentPostgres_UpdateAndDeleteMissingRow(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	expectLineageLock(mock, 1)
	mock.ExpectExec("UPDATE document_records SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithinLineage(context.Background(), lineage, func(ctx context.Context, tx repository.LineageTx) error {
		return tx.Update(ctx, &model.DocumentRecord{ID: "gone", State: model.StateObsolete, UpdatedAt: now})
	})
	assert.ErrorIs(t, err, docerr.ErrNotFound)

	expectLineageLock(mock, 1)
	mock.ExpectExec("DELETE FROM document_records WHERE id = ?").
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.WithinLineage(context.Background(), lineage, func(ctx context.Context, tx repository.LineageTx) error {
		return tx.Delete(ctx, "a")
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
