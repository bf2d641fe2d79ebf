package itemstate

import (
	"fmt"
	"sync"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/name"
)

// Submitter is the Manager's view of the Workspace Coordinator: submit
// a validated ChangeLog for execution against the backing store.
// Keeping this as a narrow interface (rather than importing
// workspace directly) avoids a package cycle — workspace depends on
// itemstate for state plumbing, not the other way around.
type Submitter interface {
	Submit(*ChangeLog) error
}

// Validator checks a subtree of transient states against node-type
// definitions before a save is allowed to proceed (spec.md §4.4).
// Implemented by nodetype.Registry.
type Validator interface {
	ValidateNode(*State) error
	ValidateProperty(propState, parentState *State) error
}

// Manager owns a set of transient item states for a single session
// (spec.md §4.1 "Ownership": "The Session exclusively owns its
// transient states"). It is not safe for concurrent use from more than
// one logical client thread (spec.md §5).
type Manager struct {
	mu sync.Mutex

	states map[string]*State // keyed by ItemID.String()
	// childIndex lets save() and undo() find a node's transient
	// children without re-walking the whole map.
	childIndex map[string][]*State // keyed by parent NodeID.String()

	submitter Submitter
	validator Validator
}

// NewManager creates an empty transient state manager bound to a
// Submitter (the Workspace Coordinator) and a Validator (the node-type
// registry).
func NewManager(submitter Submitter, validator Validator) *Manager {
	return &Manager{
		states:     make(map[string]*State),
		childIndex: make(map[string][]*State),
		submitter:  submitter,
		validator:  validator,
	}
}

// GetItemState returns the transient state for id if one has been
// created, or contenterr.ErrItemNotFound.
func (m *Manager) GetItemState(id name.ItemID) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id.String()]
	if !ok {
		return nil, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	return s, nil
}

// HasItemState reports whether id has a transient state, without side
// effects (spec.md: "side-effect free").
func (m *Manager) HasItemState(id name.ItemID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[id.String()]
	return ok
}

// CreateTransient allocates a new transient state for id in the given
// initial status. Fails with contenterr.ErrItemExists if a transient
// state already exists for id (spec.md §4.1).
func (m *Manager) CreateTransient(state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.ID.String()
	if _, exists := m.states[key]; exists {
		return contenterr.Wrap(contenterr.ErrItemExists, key)
	}
	m.states[key] = state
	if state.HasParent {
		pk := state.ParentID.String()
		m.childIndex[pk] = append(m.childIndex[pk], state)
	}
	return nil
}

// Forget removes a state from the manager without any status
// transition — used once a state's status becomes terminal (Removed)
// and it is no longer addressable.
func (m *Manager) Forget(id name.ItemID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id.String())
}

// HasPendingChanges reports whether any managed state carries unsaved
// client mutations (spec.md §4.1 / §8 invariant).
func (m *Manager) HasPendingChanges() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		if s.Status.HasPendingChanges() {
			return true
		}
	}
	return false
}

// descendants collects rootState and all transient states transitively
// reachable through childIndex, depth-first. Caller must hold m.mu.
func (m *Manager) descendants(root *State) []*State {
	var out []*State
	var walk func(*State)
	walk = func(s *State) {
		out = append(out, s)
		if !s.IsNode {
			return
		}
		for _, child := range m.childIndex[s.ID.String()] {
			walk(child)
		}
	}
	walk(root)
	return out
}

// Save serializes pending changes in the subtree rooted at rootState
// into a ChangeLog, validates each changed node, submits the log via
// the bound Submitter, and on success promotes states to Existing
// (spec.md §4.1 save traversal).
//
// On any failure the subtree's transient states are left untouched:
// per spec.md, "On any failure the tree's transient states remain
// untouched except for rolling back status flags that were
// provisionally set" — this implementation provisionally sets nothing
// before submission succeeds, so a failure is simply a no-op on state.
func (m *Manager) Save(rootState *State) error {
	m.mu.Lock()
	subtree := m.descendants(rootState)
	m.mu.Unlock()

	var changed []*State
	for _, s := range subtree {
		s.Lock()
		pending := s.Status.HasPendingChanges()
		s.Unlock()
		if pending {
			changed = append(changed, s)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	for _, s := range changed {
		if s.IsNode {
			if err := m.validator.ValidateNode(s); err != nil {
				return err
			}
			continue
		}
		parent, err := m.GetItemState(name.NodeItemID(s.ParentID))
		if err != nil {
			return err
		}
		if err := m.validator.ValidateProperty(s, parent); err != nil {
			return err
		}
	}

	log := m.buildChangeLog(rootState, changed)
	if err := m.submitter.Submit(log); err != nil {
		return fmt.Errorf("%w: %v", contenterr.ErrRepository, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range changed {
		s.Lock()
		switch s.Status {
		case New:
			s.Status = Existing
		case ExistingModified:
			s.Status = Existing
			if s.IsNode {
				s.Node.MixinsDirty = false
			}
		case ExistingRemoved:
			s.Status = Removed
			delete(m.states, s.ID.String())
			s.notify(Event{Kind: EventDestroyed, State: s, From: ExistingRemoved, To: Removed})
		}
		s.Unlock()
	}
	return nil
}

// buildChangeLog translates a set of changed states into typed
// ChangeLog operations. The log's target is rootState's id, matching
// spec.md's "nearest common ancestor of all changed states" when Save
// is invoked from that ancestor (callers are expected to invoke Save
// from the actual common ancestor, e.g. session.Save(session.RootNode)).
func (m *Manager) buildChangeLog(rootState *State, changed []*State) *ChangeLog {
	log := &ChangeLog{}
	if rootState.IsNode {
		log.TargetID = rootState.ID.AsNode()
	} else {
		log.TargetID = rootState.ID.AsProperty().Parent
	}

	for _, s := range changed {
		s.Lock()
		op, ok := m.opFor(s)
		s.Unlock()
		if ok {
			log.Add(op)
		}
	}
	return log
}

// opFor translates a single changed state into its ChangeLog Op.
// Caller must hold s's lock. The bool return is false when the state's
// status changed without anything that needs its own wire operation —
// e.g. a parent promoted to ExistingModified solely because a child or
// property was added/removed under it (session.AddNode/AddProperty/
// detachFromParent all call MarkMutated for that bookkeeping); the
// child's own AddNode/AddProperty/Remove op already carries that delta,
// so re-submitting the parent here would just be a name-less mixin set.
func (m *Manager) opFor(s *State) (Op, bool) {
	switch {
	case s.IsNode && s.Status == New:
		childName, err := m.childNameFor(s)
		if err != nil {
			return Op{}, false
		}
		return Op{Type: OpAddNode, Target: s.ID, Parent: s.ParentID, NewName: childName, PrimaryType: s.Node.PrimaryType}, true
	case s.IsNode && s.Status == ExistingModified:
		if !s.Node.MixinsDirty {
			return Op{}, false
		}
		return Op{Type: OpSetMixin, Target: s.ID, MixinTypes: mixinSlice(s.Node.MixinTypes)}, true
	case s.IsNode && s.Status == ExistingRemoved:
		return Op{Type: OpRemove, Target: s.ID}, true
	case !s.IsNode && s.Status == New:
		propID := s.ID.AsProperty()
		return Op{Type: OpAddProperty, Target: s.ID, Parent: s.ParentID, NewName: propID.Name, Values: s.Property.Values, Multivalued: s.Property.Multivalued}, true
	case !s.IsNode && s.Status == ExistingModified:
		return Op{Type: OpSetProperty, Target: s.ID, Values: s.Property.Values}, true
	case !s.IsNode && s.Status == ExistingRemoved:
		return Op{Type: OpRemove, Target: s.ID}, true
	default:
		return Op{Type: OpUpdate, Target: s.ID}, true
	}
}

// childNameFor recovers the QName a New node state was added under by
// looking it up in its parent's ChildEntries — the node state itself
// carries no name field (spec.md §3: the name lives in the parent's
// ChildNodeEntry). Caller must hold s's lock; s is not yet resident in
// m.states's childIndex removal path, so this only reads the parent.
func (m *Manager) childNameFor(s *State) (name.QName, error) {
	parent, err := m.GetItemState(name.NodeItemID(s.ParentID))
	if err != nil {
		return name.QName{}, err
	}
	parent.Lock()
	defer parent.Unlock()
	entry, ok := parent.Node.ChildNodeEntryFor(s.ID.AsNode())
	if !ok {
		return name.QName{}, contenterr.Wrap(contenterr.ErrItemNotFound, s.ID.String())
	}
	return entry.Name, nil
}

func mixinSlice(m map[name.QName]struct{}) []name.QName {
	out := make([]name.QName, 0, len(m))
	for q := range m {
		out = append(out, q)
	}
	return out
}

// Undo discards transient changes in the subtree rooted at rootState,
// per spec.md §4.1: New states become Removed; ExistingModified states
// revert to Existing; ExistingRemoved returns to Existing.
func (m *Manager) Undo(rootState *State) {
	m.mu.Lock()
	subtree := m.descendants(rootState)
	m.mu.Unlock()

	for _, s := range subtree {
		s.Lock()
		from := s.Status
		switch s.Status {
		case New:
			s.Status = Removed
		case ExistingModified:
			s.Status = Existing
		case ExistingRemoved:
			s.Status = Existing
		}
		if s.Status == Removed {
			s.notify(Event{Kind: EventDestroyed, State: s, From: from, To: Removed})
		}
		s.Unlock()
		if s.Status == Removed {
			m.Forget(s.ID)
		}
	}
}
