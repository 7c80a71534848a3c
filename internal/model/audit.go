package model

import "time"

// AuditAction names what happened to a version in an audit entry.
type AuditAction string

const (
	ActionUpload        AuditAction = "upload"
	ActionReplace       AuditAction = "replace"
	ActionMarkErroneous AuditAction = "mark_erroneous"
	ActionMarkObsolete  AuditAction = "mark_obsolete"
	ActionRestore       AuditAction = "restore"
	ActionSoftDelete    AuditAction = "soft_delete"
	ActionRelink        AuditAction = "relink"
	ActionFlagMissing   AuditAction = "flag_missing_object"
	ActionPurgeObject   AuditAction = "purge_object"
	ActionHardDelete    AuditAction = "hard_delete"
)

// AuditEntry is one append-only line of a version's history.
type AuditEntry struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	VersionID  string      `json:"version_id"`
	EntityType EntityType  `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Slot       string      `json:"slot"`
	Action     AuditAction `json:"action"`
	FromState  State       `json:"from_state,omitempty"`
	ToState    State       `json:"to_state"`
	Actor      string      `json:"actor"`
	ReasonCode ReasonCode  `json:"reason_code,omitempty"`
	ReasonNote string      `json:"reason_note,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}
