package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"docvault/internal/database"
	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const recordColumns = `id, entity_type, entity_id, slot, version, state, storage_key,
		original_filename, stored_filename, content_type, size, uploaded_by, uploaded_at,
		reason_code, reason_note, supersedes, superseded_by, corrected_by,
		deleted_at, object_purged_at, missing_object_since, updated_at`

// FindByID fetches a single record by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM document_records WHERE id = $1`
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docerr.NotFound("find document", id)
		}
		return nil, err
	}
	return rec, nil
}

// ListLineage returns all records of a lineage ordered by version.
func (r *DocumentPostgres) ListLineage(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM document_records
		WHERE entity_type = $1 AND entity_id = $2 AND slot = $3
		ORDER BY version`
	return r.query(ctx, database.Conn(ctx, r.db), q, lineage.EntityType, lineage.EntityID, lineage.Slot)
}

// ListScope returns records using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) ListScope(ctx context.Context, scope repository.Scope, pq repository.PageQuery) (*repository.PageResult[model.DocumentRecord], error) {
	where, args := scopeFilter(scope)
	conn := database.Conn(ctx, r.db)

	// Count total rows
	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_records`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	// Fetch page
	qList := `SELECT ` + recordColumns + ` FROM document_records` + where +
		fmt.Sprintf(` ORDER BY entity_type, entity_id, slot, version LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	items, err := r.query(ctx, conn, qList, append(args, pq.Limit, pq.Offset)...)
	if err != nil {
		return nil, err
	}

	return &repository.PageResult[model.DocumentRecord]{
		Items: items,
		Total: total,
	}, nil
}

// ListPendingPurge returns soft-deleted records whose object is still in storage.
func (r *DocumentPostgres) ListPendingPurge(ctx context.Context, deletedBefore time.Time, limit int) ([]model.DocumentRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM document_records
		WHERE state = 'deleted' AND object_purged_at IS NULL AND deleted_at < $1
		ORDER BY deleted_at, id
		LIMIT $2`
	return r.query(ctx, database.Conn(ctx, r.db), q, deletedBefore, limit)
}

// WithinLineage opens a transaction, takes the lineage row lock and hands fn a LineageTx bound to it.
// Unique violations and serialization failures surface as docerr.ErrLineageConflict.
func (r *DocumentPostgres) WithinLineage(ctx context.Context, lineage model.Lineage, fn func(ctx context.Context, tx repository.LineageTx) error) error {
	err := database.RunInTx(ctx, r.db, nil, func(ctx context.Context) error {
		tx := &lineageTx{repo: r, lineage: lineage}
		if err := tx.lock(ctx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
	return mapError("lineage unit of work", lineage, err)
}

type lineageTx struct {
	repo    *DocumentPostgres
	lineage model.Lineage
}

func (t *lineageTx) conn(ctx context.Context) database.Executor {
	return database.Conn(ctx, t.repo.db)
}

// lock creates the lineage row on first use, seeded from existing versions, then locks it.
func (t *lineageTx) lock(ctx context.Context) error {
	const qUpsert = `
		INSERT INTO document_lineages (entity_type, entity_id, slot, last_version)
		VALUES ($1, $2, $3, COALESCE((
			SELECT MAX(version) FROM document_records
			WHERE entity_type = $1 AND entity_id = $2 AND slot = $3
		), 0))
		ON CONFLICT (entity_type, entity_id, slot) DO NOTHING
	`
	const qLock = `
		SELECT last_version FROM document_lineages
		WHERE entity_type = $1 AND entity_id = $2 AND slot = $3
		FOR UPDATE
	`
	l := t.lineage
	if _, err := t.conn(ctx).ExecContext(ctx, qUpsert, l.EntityType, l.EntityID, l.Slot); err != nil {
		return fmt.Errorf("upsert lineage: %w", err)
	}
	var last int
	if err := t.conn(ctx).QueryRowContext(ctx, qLock, l.EntityType, l.EntityID, l.Slot).Scan(&last); err != nil {
		return fmt.Errorf("lock lineage: %w", err)
	}
	return nil
}

func (t *lineageTx) Records(ctx context.Context) ([]model.DocumentRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM document_records
		WHERE entity_type = $1 AND entity_id = $2 AND slot = $3
		ORDER BY version
		FOR UPDATE`
	l := t.lineage
	return t.repo.query(ctx, t.conn(ctx), q, l.EntityType, l.EntityID, l.Slot)
}

func (t *lineageTx) NextVersion(ctx context.Context) (int, error) {
	const q = `
		UPDATE document_lineages SET last_version = last_version + 1
		WHERE entity_type = $1 AND entity_id = $2 AND slot = $3
		RETURNING last_version
	`
	l := t.lineage
	var v int
	if err := t.conn(ctx).QueryRowContext(ctx, q, l.EntityType, l.EntityID, l.Slot).Scan(&v); err != nil {
		return 0, fmt.Errorf("allocate version: %w", err)
	}
	return v, nil
}

func (t *lineageTx) Insert(ctx context.Context, rec *model.DocumentRecord) error {
	const q = `INSERT INTO document_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	_, err := t.conn(ctx).ExecContext(ctx, q,
		rec.ID,
		rec.EntityType,
		rec.EntityID,
		rec.Slot,
		rec.Version,
		rec.State,
		rec.StorageKey,
		rec.OriginalFilename,
		rec.StoredFilename,
		rec.ContentType,
		rec.Size,
		rec.UploadedBy,
		rec.UploadedAt,
		nullString(string(rec.ReasonCode)),
		nullString(rec.ReasonNote),
		nullString(rec.Supersedes),
		nullString(rec.SupersededBy),
		nullString(rec.CorrectedBy),
		rec.DeletedAt,
		rec.ObjectPurgedAt,
		rec.MissingObjectSince,
		rec.UpdatedAt,
	)
	return mapError("insert document", t.lineage, err)
}

func (t *lineageTx) Update(ctx context.Context, rec *model.DocumentRecord) error {
	const q = `
		UPDATE document_records SET
			state = $2, storage_key = $3, reason_code = $4, reason_note = $5,
			supersedes = $6, superseded_by = $7, corrected_by = $8,
			deleted_at = $9, object_purged_at = $10, missing_object_since = $11, updated_at = $12
		WHERE id = $1
	`
	res, err := t.conn(ctx).ExecContext(ctx, q,
		rec.ID,
		rec.State,
		rec.StorageKey,
		nullString(string(rec.ReasonCode)),
		nullString(rec.ReasonNote),
		nullString(rec.Supersedes),
		nullString(rec.SupersededBy),
		nullString(rec.CorrectedBy),
		rec.DeletedAt,
		rec.ObjectPurgedAt,
		rec.MissingObjectSince,
		rec.UpdatedAt,
	)
	if err != nil {
		return mapError("update document", t.lineage, err)
	}
	return requireOneRow(res, "update document", rec.ID)
}

func (t *lineageTx) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM document_records WHERE id = $1`
	res, err := t.conn(ctx).ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return requireOneRow(res, "delete document", id)
}

func (r *DocumentPostgres) query(ctx context.Context, conn database.Executor, q string, args ...any) ([]model.DocumentRecord, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.DocumentRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*model.DocumentRecord, error) {
	var (
		d                                   model.DocumentRecord
		reasonCode, reasonNote              sql.NullString
		supersedes, supersededBy, correctBy sql.NullString
		deletedAt, purgedAt, missingSince   sql.NullTime
	)
	if err := s.Scan(
		&d.ID,
		&d.EntityType,
		&d.EntityID,
		&d.Slot,
		&d.Version,
		&d.State,
		&d.StorageKey,
		&d.OriginalFilename,
		&d.StoredFilename,
		&d.ContentType,
		&d.Size,
		&d.UploadedBy,
		&d.UploadedAt,
		&reasonCode,
		&reasonNote,
		&supersedes,
		&supersededBy,
		&correctBy,
		&deletedAt,
		&purgedAt,
		&missingSince,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.ReasonCode = model.ReasonCode(reasonCode.String)
	d.ReasonNote = reasonNote.String
	d.Supersedes = supersedes.String
	d.SupersededBy = supersededBy.String
	d.CorrectedBy = correctBy.String
	d.DeletedAt = timePtr(deletedAt)
	d.ObjectPurgedAt = timePtr(purgedAt)
	d.MissingObjectSince = timePtr(missingSince)
	return &d, nil
}

func scopeFilter(s repository.Scope) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if s.EntityType != "" {
		add("entity_type", s.EntityType)
	}
	if s.EntityID != "" {
		add("entity_id", s.EntityID)
	}
	if s.Slot != "" {
		add("slot", s.Slot)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func requireOneRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return docerr.NotFound(op, id)
	}
	return nil
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapError turns constraint races into LineageConflict; other errors pass through.
func mapError(op string, lineage model.Lineage, err error) error {
	if _, classified := docerr.As(err); classified {
		return err
	}
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		e := docerr.Conflict(op, lineage, pgErr.ConstraintName)
		e.Err = err
		return e
	}
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
