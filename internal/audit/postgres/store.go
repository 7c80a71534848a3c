package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"docvault/internal/audit"
	"docvault/internal/database"
	"docvault/internal/model"
)

// Store implements audit.Recorder on the document_audit table.
// The table is append-only: a trigger rejects UPDATE and DELETE.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ audit.Recorder = (*Store)(nil)

// Record inserts the entry inside the transaction carried by ctx, if any.
func (s *Store) Record(ctx context.Context, e model.AuditEntry) error {
	const q = `
		INSERT INTO document_audit (id, version_id, entity_type, entity_id, slot, action,
			from_state, to_state, actor, reason_code, reason_note, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := database.Conn(ctx, s.db).ExecContext(ctx, q,
		e.ID,
		e.VersionID,
		e.EntityType,
		e.EntityID,
		e.Slot,
		e.Action,
		nullString(string(e.FromState)),
		nullString(string(e.ToState)),
		e.Actor,
		nullString(string(e.ReasonCode)),
		nullString(e.ReasonNote),
		e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns a version's entries in recording order.
func (s *Store) History(ctx context.Context, versionID string) ([]model.AuditEntry, error) {
	const q = `
		SELECT seq, id, version_id, entity_type, entity_id, slot, action,
			from_state, to_state, actor, reason_code, reason_note, recorded_at
		FROM document_audit
		WHERE version_id = $1
		ORDER BY seq
	`
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, q, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.AuditEntry, 0)
	for rows.Next() {
		var (
			e                                          model.AuditEntry
			fromState, toState, reasonCode, reasonNote sql.NullString
		)
		if err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.VersionID,
			&e.EntityType,
			&e.EntityID,
			&e.Slot,
			&e.Action,
			&fromState,
			&toState,
			&e.Actor,
			&reasonCode,
			&reasonNote,
			&e.RecordedAt,
		); err != nil {
			return nil, err
		}
		e.FromState = model.State(fromState.String)
		e.ToState = model.State(toState.String)
		e.ReasonCode = model.ReasonCode(reasonCode.String)
		e.ReasonNote = reasonNote.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
