// Package itemmgr implements the Item Manager from spec.md §4.3: a
// per-session cache of (ItemId -> façade), Node/Property façade
// construction, read-permission gating, and façade lifecycle events
// driven off the underlying itemstate.State's own event stream.
package itemmgr

import (
	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/hierarchy"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// AccessManager gates read access to items, matching spec.md §4.3's
// "check read permission" step; a Coordinator/session implementation
// backs this with the repository's access-control view.
type AccessManager interface {
	CanRead(id name.ItemID) bool
}

// Item is the common façade surface shared by Node and Property, per
// spec.md §3's Node/Property façade pair.
type Item interface {
	ID() name.ItemID
	IsNode() bool
}

// Node is the façade over a node ItemState. VersionNode and
// VersionHistoryNode specialize it for the two special-cased primary
// types spec.md §4.3 calls out.
type Node struct {
	state *itemstate.State
}

func (n *Node) ID() name.ItemID { return n.state.ID }
func (n *Node) IsNode() bool    { return true }

// PrimaryType returns the node's current primary type name.
func (n *Node) PrimaryType() name.QName { return n.state.Node.PrimaryType }

// ChildNames returns the ordered (name, index) pairs of the node's
// current children.
func (n *Node) ChildNames() []itemstate.ChildNodeEntry {
	return append([]itemstate.ChildNodeEntry(nil), n.state.Node.ChildEntries...)
}

// PropertyNames returns the set of property names currently present.
func (n *Node) PropertyNames() []name.QName {
	out := make([]name.QName, 0, len(n.state.Node.PropertyNames))
	for p := range n.state.Node.PropertyNames {
		out = append(out, p)
	}
	return out
}

// VersionNode specializes Node for primary type nt:version (spec.md
// §4.3's "special-case construction for node-type tags").
type VersionNode struct {
	Node
}

// VersionHistoryNode specializes Node for primary type
// nt:versionHistory.
type VersionHistoryNode struct {
	Node
}

// Property is the façade over a property ItemState.
type Property struct {
	state *itemstate.State
}

func (p *Property) ID() name.ItemID { return p.state.ID }
func (p *Property) IsNode() bool    { return false }

// Values returns the property's current value list.
func (p *Property) Values() []itemstate.Value {
	return append([]itemstate.Value(nil), p.state.Property.Values...)
}

// newFacade builds the appropriate façade type for a state, applying
// spec.md §4.3's special-casing for nt:version/nt:versionHistory.
func newFacade(st *itemstate.State) Item {
	if !st.IsNode {
		return &Property{state: st}
	}
	switch st.Node.PrimaryType {
	case name.NewQName("", "nt:version"):
		return &VersionNode{Node: Node{state: st}}
	case name.NewQName("", "nt:versionHistory"):
		return &VersionHistoryNode{Node: Node{state: st}}
	default:
		return &Node{state: st}
	}
}

// StateSource resolves ids/paths to ItemStates, the same narrow view
// the Hierarchy Manager uses, plus path resolution so Manager can
// satisfy getItem(path).
type StateSource interface {
	hierarchy.StateSource
	GetItemState(id name.ItemID) (*itemstate.State, error)
}

// PathResolver resolves a canonical path to an ItemID, implemented by
// hierarchy.Manager.
type PathResolver interface {
	ResolvePath(p name.Path) (name.ItemID, error)
}

// Manager caches façades for one session, per spec.md §4.3.
type Manager struct {
	source StateSource
	paths  PathResolver
	access AccessManager

	cache map[string]Item
}

// NewManager builds an Item Manager over source/paths, gating reads
// through access.
func NewManager(source StateSource, paths PathResolver, access AccessManager) *Manager {
	return &Manager{
		source: source,
		paths:  paths,
		access: access,
		cache:  make(map[string]Item),
	}
}

// GetItemByID returns the façade for id, from cache if present.
// Read denial returns AccessDenied (spec.md §4.3).
func (m *Manager) GetItemByID(id name.ItemID) (Item, error) {
	if cached, ok := m.cache[id.String()]; ok {
		return cached, nil
	}
	if !m.access.CanRead(id) {
		return nil, contenterr.Wrap(contenterr.ErrAccessDenied, id.String())
	}
	st, err := m.source.GetItemState(id)
	if err != nil {
		return nil, err
	}
	item := newFacade(st)
	m.registerLifecycle(st, item)
	m.cache[id.String()] = item
	return item, nil
}

// GetItemByPath resolves p and returns its façade. Read denial (or a
// dangling path) surfaces as PathNotFound, not AccessDenied, per
// spec.md §4.3 ("Read denial turns into NotFound (paths) or
// AccessDenied (ids)").
func (m *Manager) GetItemByPath(p name.Path) (Item, error) {
	id, err := m.paths.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	item, err := m.GetItemByID(id)
	if err != nil {
		if contenterr.ClassifyErr(err) == contenterr.KindAuthorization {
			return nil, contenterr.Wrap(contenterr.ErrPathNotFound, p.String())
		}
		return nil, err
	}
	return item, nil
}

// ItemExistsByID is side-effect free with respect to the cache.
func (m *Manager) ItemExistsByID(id name.ItemID) bool {
	if _, ok := m.cache[id.String()]; ok {
		return true
	}
	if !m.access.CanRead(id) {
		return false
	}
	_, err := m.source.GetItemState(id)
	return err == nil
}

// ItemExistsByPath is side-effect free with respect to the cache.
func (m *Manager) ItemExistsByPath(p name.Path) bool {
	id, err := m.paths.ResolvePath(p)
	if err != nil {
		return false
	}
	return m.ItemExistsByID(id)
}

// GetChildNodes returns the readable child node façades of parent, in
// order, filtering out any the access manager denies.
func (m *Manager) GetChildNodes(parent name.NodeID) ([]*Node, error) {
	st, err := m.source.NodeState(parent)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(st.Node.ChildEntries))
	for _, ce := range st.Node.ChildEntries {
		id := name.NodeItemID(ce.Child)
		if !m.access.CanRead(id) {
			continue
		}
		item, err := m.GetItemByID(id)
		if err != nil {
			continue
		}
		if node, ok := item.(*Node); ok {
			out = append(out, node)
		}
	}
	return out, nil
}

// GetChildProperties returns the readable property façades of parent.
func (m *Manager) GetChildProperties(parent name.NodeID) ([]*Property, error) {
	st, err := m.source.NodeState(parent)
	if err != nil {
		return nil, err
	}
	out := make([]*Property, 0, len(st.Node.PropertyNames))
	for propName := range st.Node.PropertyNames {
		id := name.PropertyItemID(name.NewPropertyID(parent, propName))
		if !m.access.CanRead(id) {
			continue
		}
		item, err := m.GetItemByID(id)
		if err != nil {
			continue
		}
		if prop, ok := item.(*Property); ok {
			out = append(out, prop)
		}
	}
	return out, nil
}

// registerLifecycle implements spec.md §4.3's "each created façade
// registers a life-cycle listener": destroyed evicts, status changes
// that invalidate (external delete) evict too, though the façade
// object itself may still be referenced by the caller.
func (m *Manager) registerLifecycle(st *itemstate.State, item Item) {
	key := st.ID.String()
	st.AddListener(itemstate.ListenerFunc(func(e itemstate.Event) {
		switch e.Kind {
		case itemstate.EventDestroyed:
			delete(m.cache, key)
		case itemstate.EventStatusChanged:
			if e.To == itemstate.StaleDestroyed || e.To == itemstate.Removed {
				delete(m.cache, key)
			}
		}
	}))
}
