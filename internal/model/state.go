package model

// State is the lifecycle state of a document version.
type State string

const (
	StateActive     State = "active"
	StateSuperseded State = "superseded"
	StateErroneous  State = "erroneous"
	StateObsolete   State = "obsolete"
	StateDeleted    State = "deleted"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateSuperseded, StateErroneous, StateObsolete, StateDeleted:
		return true
	}
	return false
}

// Retrievable reports whether a version in this state still represents valid content.
func (s State) Retrievable() bool {
	return s == StateActive || s == StateSuperseded
}

// ReasonCode is a controlled-vocabulary justification for erroneous/obsolete transitions.
type ReasonCode string

const (
	ReasonWrongFile       ReasonCode = "wrong_file"
	ReasonIllegible       ReasonCode = "illegible"
	ReasonWrongEntity     ReasonCode = "wrong_entity"
	ReasonIncomplete      ReasonCode = "incomplete"
	ReasonExpiredDocument ReasonCode = "expired_document"

	ReasonSupersededByNewer ReasonCode = "superseded_by_newer"
	ReasonNoLongerRequired  ReasonCode = "no_longer_required"
	ReasonExpired           ReasonCode = "expired"
	ReasonDuplicate         ReasonCode = "duplicate"

	// ReasonOther is accepted for both states but requires a note.
	ReasonOther ReasonCode = "other"
)

var erroneousReasons = map[ReasonCode]bool{
	ReasonWrongFile:       true,
	ReasonIllegible:       true,
	ReasonWrongEntity:     true,
	ReasonIncomplete:      true,
	ReasonExpiredDocument: true,
	ReasonOther:           true,
}

var obsoleteReasons = map[ReasonCode]bool{
	ReasonSupersededByNewer: true,
	ReasonNoLongerRequired:  true,
	ReasonExpired:           true,
	ReasonDuplicate:         true,
	ReasonOther:             true,
}

// AllowsReason reports whether code belongs to the vocabulary of the target state.
func (s State) AllowsReason(code ReasonCode) bool {
	switch s {
	case StateErroneous:
		return erroneousReasons[code]
	case StateObsolete:
		return obsoleteReasons[code]
	}
	return false
}
