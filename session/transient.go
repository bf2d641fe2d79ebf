package session

import (
	"errors"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// transientSource implements itemmgr.StateSource (and, transitively,
// hierarchy.StateSource) by checking the session's transient
// itemstate.Manager first and falling back to an on-demand
// copy-on-write overlay of the persistent repository state, per
// spec.md §4.1's "Session exclusively owns its transient states" and
// §3's overlay invariant. This is the bridge the Item/Hierarchy
// Managers were written against but that nothing in the repository
// service layer could provide on its own.
type transientSource struct {
	states *itemstate.Manager
	loader *repoLoader
}

func newTransientSource(states *itemstate.Manager, loader *repoLoader) *transientSource {
	return &transientSource{states: states, loader: loader}
}

// NodeState returns the resident transient state for id if one exists,
// else loads the persistent node and overlays it, registering the
// overlay as id's transient state for the remainder of the session.
func (t *transientSource) NodeState(id name.NodeID) (*itemstate.State, error) {
	return t.resolve(name.NodeItemID(id), func() (*itemstate.State, error) {
		return t.loader.NodeState(id)
	})
}

// GetItemState satisfies itemmgr.StateSource for both node and
// property ids.
func (t *transientSource) GetItemState(id name.ItemID) (*itemstate.State, error) {
	return t.resolve(id, func() (*itemstate.State, error) {
		return t.loader.GetItemState(id)
	})
}

func (t *transientSource) resolve(id name.ItemID, load func() (*itemstate.State, error)) (*itemstate.State, error) {
	if st, err := t.states.GetItemState(id); err == nil {
		return st, nil
	} else if !contenterr.IsNotFound(err) {
		return nil, err
	}

	persistent, err := load()
	if err != nil {
		return nil, err
	}
	overlay := itemstate.OverlayOf(persistent)
	if err := t.states.CreateTransient(overlay); err != nil && !errors.Is(err, contenterr.ErrItemExists) {
		return nil, err
	}
	// CreateTransient may have lost a race to an equivalent overlay
	// already registered under id; the manager's copy is canonical.
	if st, err := t.states.GetItemState(id); err == nil {
		return st, nil
	}
	return overlay, nil
}
