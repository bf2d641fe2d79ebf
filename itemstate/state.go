package itemstate

import (
	"fmt"
	"sync"

	"github.com/orneryd/contentengine/name"
)

// ValueType tags which kind of value a property Value carries in Raw.
type ValueType int

const (
	TypeUndefined ValueType = iota
	TypeString
	TypeLong
	TypeDouble
	TypeBoolean
	TypeDate
	TypeBinary
	TypeName
	TypePath
	TypeReference
)

// Value is a single scalar property value.
type Value struct {
	Type ValueType
	Raw  any
}

// ChildNodeEntry is one ordered entry in a node's child list, per
// spec.md §3.
type ChildNodeEntry struct {
	Name  name.QName
	Index int
	Child name.NodeID
}

// NodeData holds the node-specific attributes of an ItemState.
type NodeData struct {
	PrimaryType   name.QName
	MixinTypes    map[name.QName]struct{}
	DefinitionID  string
	ChildEntries  []ChildNodeEntry
	PropertyNames map[name.QName]struct{}
	// AdditionalParents supports shareable/linked nodes (spec.md §3).
	AdditionalParents []name.NodeID
	// MixinsDirty is set by Session.SetMixins and cleared on save. It
	// distinguishes "mixin set actually changed" from the common case of
	// an Existing node moving to ExistingModified purely because a child
	// or property was added/removed under it (MarkMutated is called for
	// both reasons), so opFor only emits OpSetMixin when the mixin set
	// itself needs to travel to the backing store.
	MixinsDirty bool
}

// PropertyData holds the property-specific attributes of an ItemState.
type PropertyData struct {
	Type         ValueType
	Multivalued  bool
	Values       []Value
	DefinitionID string
}

// State is the tagged ItemState record from spec.md §3: a common header
// (id, parent, status, optional overlay) plus exactly one of NodeData
// or PropertyData.
//
// States are arena-style owned by whichever Manager created them (the
// Session's transient Manager, or the Workspace Coordinator's
// persistent mirror Manager, per spec.md §4.1 Ownership) and are
// mutated only under that Manager's lock.
type State struct {
	mu sync.Mutex

	ID       name.ItemID
	ParentID name.NodeID
	HasParent bool
	Status   Status

	// Overlayed is the persistent snapshot this transient state shadows,
	// nil for a New state with no overlay (spec.md §3 invariant).
	Overlayed *State

	IsNode   bool
	Node     *NodeData
	Property *PropertyData

	listeners []Listener
}

// NewNodeState constructs a New-status node state with no overlay.
func NewNodeState(id name.NodeID, parent name.NodeID, hasParent bool, primaryType name.QName) *State {
	return &State{
		ID:        name.NodeItemID(id),
		ParentID:  parent,
		HasParent: hasParent,
		Status:    New,
		IsNode:    true,
		Node: &NodeData{
			PrimaryType:   primaryType,
			MixinTypes:    make(map[name.QName]struct{}),
			PropertyNames: make(map[name.QName]struct{}),
		},
	}
}

// NewPropertyState constructs a New-status property state with no
// overlay.
func NewPropertyState(id name.PropertyID, valueType ValueType, multivalued bool) *State {
	return &State{
		ID:        name.PropertyItemID(id),
		ParentID:  id.Parent,
		HasParent: true,
		Status:    New,
		IsNode:    false,
		Property: &PropertyData{
			Type:        valueType,
			Multivalued: multivalued,
		},
	}
}

// OverlayOf constructs a transient copy-on-write shadow of a persistent
// state, per spec.md §3 ("either wraps an overlayed persistent state
// ... or is New with no overlay"). The copy starts in Existing status
// and shares no mutable structure with the overlayed state.
func OverlayOf(persistent *State) *State {
	persistent.mu.Lock()
	defer persistent.mu.Unlock()

	clone := &State{
		ID:        persistent.ID,
		ParentID:  persistent.ParentID,
		HasParent: persistent.HasParent,
		Status:    Existing,
		Overlayed: persistent,
		IsNode:    persistent.IsNode,
	}
	if persistent.IsNode {
		clone.Node = cloneNodeData(persistent.Node)
	} else {
		clone.Property = clonePropertyData(persistent.Property)
	}
	persistent.notify(Event{Kind: EventOverlaid, State: persistent})
	return clone
}

func cloneNodeData(n *NodeData) *NodeData {
	out := &NodeData{
		PrimaryType:  n.PrimaryType,
		DefinitionID: n.DefinitionID,
		MixinTypes:   make(map[name.QName]struct{}, len(n.MixinTypes)),
		PropertyNames: make(map[name.QName]struct{}, len(n.PropertyNames)),
	}
	for k := range n.MixinTypes {
		out.MixinTypes[k] = struct{}{}
	}
	for k := range n.PropertyNames {
		out.PropertyNames[k] = struct{}{}
	}
	out.ChildEntries = append(out.ChildEntries, n.ChildEntries...)
	out.AdditionalParents = append(out.AdditionalParents, n.AdditionalParents...)
	return out
}

// ChildNodeEntryFor returns the ChildNodeEntry matching childID, if any.
// Used by the save traversal to recover the name a New child node was
// added under, since the node state itself does not carry its own name
// (spec.md §3: the name lives in the parent's ChildNodeEntry).
func (n *NodeData) ChildNodeEntryFor(childID name.NodeID) (ChildNodeEntry, bool) {
	for _, ce := range n.ChildEntries {
		if ce.Child == childID {
			return ce, true
		}
	}
	return ChildNodeEntry{}, false
}

func clonePropertyData(p *PropertyData) *PropertyData {
	out := &PropertyData{
		Type:         p.Type,
		Multivalued:  p.Multivalued,
		DefinitionID: p.DefinitionID,
	}
	out.Values = append(out.Values, p.Values...)
	return out
}

// Lock/Unlock expose the state's mutex to Manager, which serializes
// all mutation of a single state's fields (status, node/property data)
// the way a session confines a single client thread per spec.md §5.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// MarkMutated transitions Existing -> ExistingModified. No-op if
// already ExistingModified or New (both already "pending").
func (s *State) MarkMutated() error {
	switch s.Status {
	case ExistingModified, New:
		return nil
	default:
		return s.setStatus(eventMutate)
	}
}

// MarkRemoved applies spec.md §3's "remove in session" transition: a
// New state (never saved) goes straight to Removed, an Existing or
// ExistingModified state becomes ExistingRemoved pending the next save.
// Caller must hold s.mu, same contract as MarkMutated.
func (s *State) MarkRemoved() error {
	switch s.Status {
	case New:
		return s.setStatus(eventRemoveTransient)
	case Existing, ExistingModified:
		return s.setStatus(eventRemoveInSession)
	case ExistingRemoved, Removed:
		return nil
	default:
		return fmt.Errorf("itemstate: cannot remove state in status %s", s.Status)
	}
}
