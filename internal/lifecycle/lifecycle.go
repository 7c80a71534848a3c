// Package lifecycle decides which state changes a document version may go through.
// It performs no I/O: callers pass the record and a snapshot of its lineage and
// persist the returned outcome themselves.
package lifecycle

import (
	"strings"
	"time"

	"docvault/internal/docerr"
	"docvault/internal/model"
)

// Event is a requested lifecycle change.
type Event string

const (
	EventReplace       Event = "replace"
	EventMarkErroneous Event = "mark_erroneous"
	EventMarkObsolete  Event = "mark_obsolete"
	EventRestore       Event = "restore"
	EventSoftDelete    Event = "soft_delete"
)

// Warnings attached to an outcome. They do not block the transition.
const (
	WarnNoActiveVersion      = "lineage_without_active_version"
	WarnNoRetrievableVersion = "lineage_without_retrievable_version"
	WarnRestoredBesideNewer  = "restored_alongside_newer_version"
)

// Request carries the event and its arguments.
type Request struct {
	Event       Event
	Reason      model.ReasonCode
	Note        string
	CorrectedBy string
	Actor       string
	At          time.Time
}

// Outcome is the record after the transition plus its side effects.
type Outcome struct {
	Record   model.DocumentRecord
	From     model.State
	To       model.State
	Action   model.AuditAction
	Warnings []string
	// ScheduleObjectDeletion is set on soft delete: the blob is removed later by the purge job.
	ScheduleObjectDeletion bool
}

// Target returns the state an event leads to.
func Target(ev Event) (model.State, bool) {
	switch ev {
	case EventReplace:
		return model.StateSuperseded, true
	case EventMarkErroneous:
		return model.StateErroneous, true
	case EventMarkObsolete:
		return model.StateObsolete, true
	case EventRestore:
		return model.StateActive, true
	case EventSoftDelete:
		return model.StateDeleted, true
	}
	return "", false
}

// EventFor maps a requested target state to the event that reaches it.
func EventFor(target model.State) (Event, bool) {
	switch target {
	case model.StateErroneous:
		return EventMarkErroneous, true
	case model.StateObsolete:
		return EventMarkObsolete, true
	case model.StateDeleted:
		return EventSoftDelete, true
	case model.StateActive:
		return EventRestore, true
	}
	return "", false
}

// Apply validates req against rec and returns the updated record.
// lineage must contain every record of rec's lineage, rec included.
func Apply(rec model.DocumentRecord, lineage []model.DocumentRecord, req Request) (Outcome, error) {
	to, ok := Target(req.Event)
	if !ok {
		return Outcome{}, docerr.New(docerr.ErrInvalidArgument, string(req.Event), "unknown lifecycle event")
	}
	if rec.State == model.StateDeleted {
		return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to, "deleted is terminal")
	}

	out := Outcome{From: rec.State, To: to}
	next := rec
	next.State = to
	next.UpdatedAt = req.At

	switch req.Event {
	case EventReplace:
		if rec.State != model.StateActive {
			return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to, "only the active version can be replaced")
		}
		out.Action = model.ActionReplace

	case EventMarkErroneous:
		if rec.State != model.StateActive {
			return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to, "only the active version can be marked erroneous")
		}
		if err := checkReason(rec, req, to); err != nil {
			return Outcome{}, err
		}
		if req.CorrectedBy != "" {
			if err := checkCorrection(rec, lineage, req.CorrectedBy); err != nil {
				return Outcome{}, err
			}
		}
		next.ReasonCode = req.Reason
		next.ReasonNote = strings.TrimSpace(req.Note)
		next.CorrectedBy = req.CorrectedBy
		out.Action = model.ActionMarkErroneous
		out.Warnings = append(out.Warnings, WarnNoActiveVersion)

	case EventMarkObsolete:
		if rec.State == model.StateObsolete {
			return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to, "version is already obsolete")
		}
		if err := checkReason(rec, req, to); err != nil {
			return Outcome{}, err
		}
		next.ReasonCode = req.Reason
		next.ReasonNote = strings.TrimSpace(req.Note)
		out.Action = model.ActionMarkObsolete
		if !hasOtherRetrievable(rec, lineage) {
			out.Warnings = append(out.Warnings, WarnNoRetrievableVersion)
		}
		if rec.State == model.StateActive {
			out.Warnings = append(out.Warnings, WarnNoActiveVersion)
		}

	case EventRestore:
		if rec.State == model.StateActive {
			return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to, "version is already active")
		}
		if active := activeOther(rec, lineage); active != nil {
			return Outcome{}, docerr.IllegalTransition(rec, string(req.Event), to,
				"lineage already has active version "+active.ID)
		}
		if rec.SupersededBy != "" && laterLive(rec, lineage) {
			out.Warnings = append(out.Warnings, WarnRestoredBesideNewer)
		}
		next.ReasonCode = ""
		next.ReasonNote = ""
		next.CorrectedBy = ""
		out.Action = model.ActionRestore

	case EventSoftDelete:
		at := req.At
		next.DeletedAt = &at
		out.Action = model.ActionSoftDelete
		out.ScheduleObjectDeletion = true
		if rec.State == model.StateActive {
			out.Warnings = append(out.Warnings, WarnNoActiveVersion)
		}
	}

	out.Record = next
	return out, nil
}

// CountActive returns how many records of a lineage are active.
func CountActive(lineage []model.DocumentRecord) int {
	n := 0
	for _, r := range lineage {
		if r.State == model.StateActive {
			n++
		}
	}
	return n
}

func checkReason(rec model.DocumentRecord, req Request, to model.State) error {
	if req.Reason == "" {
		return docerr.IllegalTransition(rec, string(req.Event), to, "reason is required")
	}
	if !to.AllowsReason(req.Reason) {
		return docerr.IllegalTransition(rec, string(req.Event), to, "reason "+string(req.Reason)+" is not allowed")
	}
	if req.Reason == model.ReasonOther && strings.TrimSpace(req.Note) == "" {
		return docerr.IllegalTransition(rec, string(req.Event), to, "reason other requires a note")
	}
	return nil
}

func checkCorrection(rec model.DocumentRecord, lineage []model.DocumentRecord, id string) error {
	if id == rec.ID {
		return docerr.New(docerr.ErrInvalidArgument, string(EventMarkErroneous), "a version cannot correct itself")
	}
	for _, r := range lineage {
		if r.ID == id {
			if !r.State.Retrievable() {
				return docerr.New(docerr.ErrInvalidArgument, string(EventMarkErroneous), "correcting version is "+string(r.State))
			}
			return nil
		}
	}
	return docerr.New(docerr.ErrInvalidArgument, string(EventMarkErroneous), "correcting version is not part of the lineage")
}

func activeOther(rec model.DocumentRecord, lineage []model.DocumentRecord) *model.DocumentRecord {
	for i := range lineage {
		if lineage[i].ID != rec.ID && lineage[i].State == model.StateActive {
			return &lineage[i]
		}
	}
	return nil
}

func hasOtherRetrievable(rec model.DocumentRecord, lineage []model.DocumentRecord) bool {
	for _, r := range lineage {
		if r.ID != rec.ID && r.State.Retrievable() {
			return true
		}
	}
	return false
}

func laterLive(rec model.DocumentRecord, lineage []model.DocumentRecord) bool {
	for _, r := range lineage {
		if r.Version > rec.Version && r.State != model.StateDeleted {
			return true
		}
	}
	return false
}
