package model

import "time"

// DocumentRecord is one stored version of a document attached to a business entity.
// It is a pure domain model; persistence lives in the repository packages.
type DocumentRecord struct {
	ID               string     `json:"id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	Slot             string     `json:"slot"`
	Version          int        `json:"version"`
	State            State      `json:"state"`
	StorageKey       string     `json:"storage_key"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	ContentType      string     `json:"content_type"`
	Size             int64      `json:"size"`
	UploadedBy       string     `json:"uploaded_by"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	ReasonCode       ReasonCode `json:"reason_code,omitempty"`
	ReasonNote       string     `json:"reason_note,omitempty"`
	Supersedes       string     `json:"supersedes,omitempty"`
	SupersededBy     string     `json:"superseded_by,omitempty"`
	CorrectedBy      string     `json:"corrected_by,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	ObjectPurgedAt   *time.Time `json:"object_purged_at,omitempty"`
	// MissingObjectSince is set by repair when the blob behind StorageKey could not be found.
	MissingObjectSince *time.Time `json:"missing_object_since,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Lineage returns the lineage the record belongs to.
func (d DocumentRecord) Lineage() Lineage {
	return Lineage{EntityType: d.EntityType, EntityID: d.EntityID, Slot: d.Slot}
}

// Lineage identifies the ordered sequence of versions for one entity slot.
type Lineage struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Slot       string     `json:"slot"`
}

// Key is the string form used for lock names and log fields.
func (l Lineage) Key() string {
	return string(l.EntityType) + "/" + l.EntityID + "/" + l.Slot
}

func (l Lineage) String() string { return l.Key() }

// Validate reports whether every part of the lineage is set and the entity type is known.
func (l Lineage) Validate() bool {
	return l.EntityType.Valid() && l.EntityID != "" && l.Slot != ""
}

// EntityType is the kind of business object a document belongs to.
type EntityType string

const (
	EntityVivienda EntityType = "vivienda"
	EntityProyecto EntityType = "proyecto"
	EntityCliente  EntityType = "cliente"
)

// EntityTypes lists every supported entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityVivienda, EntityProyecto, EntityCliente}
}

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVivienda, EntityProyecto, EntityCliente:
		return true
	}
	return false
}
