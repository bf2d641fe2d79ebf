package itemstate

import "fmt"

// Status is the item state automaton from spec.md §3.
type Status int

const (
	New Status = iota
	Existing
	ExistingModified
	ExistingRemoved
	StaleModified
	StaleDestroyed
	Removed
)

func (s Status) String() string {
	switch s {
	case New:
		return "New"
	case Existing:
		return "Existing"
	case ExistingModified:
		return "ExistingModified"
	case ExistingRemoved:
		return "ExistingRemoved"
	case StaleModified:
		return "StaleModified"
	case StaleDestroyed:
		return "StaleDestroyed"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// transitions encodes the table in spec.md §3. Keys are (from, event);
// values are the resulting status. Events not present here are invalid
// for that status and rejected by transition.
type event int

const (
	eventSave event = iota
	eventRemoveTransient
	eventMutate
	eventRefreshDiscard
	eventExternalDelete
	eventExternalModify
	eventRemoveInSession
)

var transitions = map[Status]map[event]Status{
	New: {
		eventSave:           Existing,
		eventRemoveTransient: Removed,
	},
	Existing: {
		eventMutate:          ExistingModified,
		eventExternalDelete:  StaleDestroyed,
		eventRemoveInSession: ExistingRemoved,
	},
	ExistingModified: {
		eventSave:            Existing,
		eventRefreshDiscard:  Existing,
		eventExternalDelete:  StaleDestroyed,
		eventExternalModify:  StaleModified,
		eventRemoveInSession: ExistingRemoved,
	},
	ExistingRemoved: {
		eventSave: Removed,
	},
}

// transition applies ev to s and returns the resulting status, or an
// error if the transition is not in spec.md's table.
func (s Status) transition(ev event) (Status, error) {
	table, ok := transitions[s]
	if !ok {
		return s, fmt.Errorf("itemstate: no transitions defined from %s", s)
	}
	next, ok := table[ev]
	if !ok {
		return s, fmt.Errorf("itemstate: invalid transition from %s", s)
	}
	return next, nil
}

// IsTransient reports whether a state in this status has never been
// (or will no longer be) mirrored by the persistent store: New states
// have no overlay; Removed states are gone.
func (s Status) IsTransient() bool {
	return s == New || s == Removed
}

// IsTerminal reports whether the status is a dead end requiring the
// façade layer to evict and invalidate (spec.md §4.1/§4.3).
func (s Status) IsTerminal() bool {
	return s == Removed
}

// HasPendingChanges reports whether a state in this status represents
// an unsaved client mutation.
func (s Status) HasPendingChanges() bool {
	switch s {
	case New, ExistingModified, ExistingRemoved:
		return true
	default:
		return false
	}
}
