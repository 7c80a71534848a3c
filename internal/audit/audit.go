// Package audit records the append-only history of document versions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docvault/internal/model"
)

// Recorder appends history entries. Record must join the caller's unit of work
// (transaction or staged commit) so an entry exists exactly when the mutation it
// describes is committed.
type Recorder interface {
	Record(ctx context.Context, entry model.AuditEntry) error
	History(ctx context.Context, versionID string) ([]model.AuditEntry, error)
}

// Entry builds an entry for rec with a fresh id.
func Entry(rec model.DocumentRecord, action model.AuditAction, from model.State, actor string, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		ID:         uuid.NewString(),
		VersionID:  rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Slot:       rec.Slot,
		Action:     action,
		FromState:  from,
		ToState:    rec.State,
		Actor:      actor,
		ReasonCode: rec.ReasonCode,
		ReasonNote: rec.ReasonNote,
		RecordedAt: at,
	}
}
