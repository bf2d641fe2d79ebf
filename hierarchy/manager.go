package hierarchy

import (
	"sync"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// StateSource is the narrow view of the Item State Layer the Hierarchy
// Manager needs: fetching a node's current state by id. Kept separate
// from itemstate.Manager to avoid an import cycle and to let the
// zombie-mode DerivedManager substitute an attic-aware source (spec.md
// §4.2 "Derived manager").
type StateSource interface {
	NodeState(id name.NodeID) (*itemstate.State, error)
}

// Manager resolves paths to ids and vice versa over a StateSource,
// caching traversed node positions in an LRU-bounded path trie (spec.md
// §4.2). A Manager is confined to one session's logical client thread,
// matching the rest of the per-session layers; it is not safe for
// concurrent use from multiple goroutines beyond the internal monitor
// that protects the cache itself.
type Manager struct {
	mu     sync.Mutex
	source StateSource
	cache  *lru
	root   *trieNode

	// listenerHandles tracks the itemstate.Handle this manager
	// registered on each cached node's State, so eviction can
	// deregister cleanly instead of leaking listener slots.
	listenerHandles map[string]itemstate.Handle
}

// NewManager builds a Manager over source with the given cache
// capacity (0 uses spec.md's default of 10 000 entries).
func NewManager(source StateSource, capacity int) *Manager {
	m := &Manager{
		source:          source,
		cache:           newLRU(capacity),
		listenerHandles: make(map[string]itemstate.Handle),
	}
	rootEntry := &entry{id: name.NodeItemID(name.RootNodeID), path: name.Root, pinned: true}
	m.root = &trieNode{children: make(map[name.Element]*trieNode), entry: rootEntry}
	rootEntry.node = m.root
	m.cache.insert(rootEntry)
	return m
}

// ResolvePath implements spec.md §4.2's resolvePath: short-circuit for
// root, reject non-canonical paths, probe the cache for the deepest
// cached ancestor, then walk the remainder through the state layer.
func (m *Manager) ResolvePath(p name.Path) (name.ItemID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.IsRoot() {
		return name.NodeItemID(name.RootNodeID), nil
	}
	if !p.IsCanonical() {
		return name.ItemID{}, contenterr.Wrap(contenterr.ErrInvalidPath, p.String())
	}

	elements := p.Elements()
	node := m.root
	depth := 0
	for depth < len(elements) {
		child, ok := node.children[elements[depth]]
		if !ok {
			break
		}
		node = child
		depth++
	}

	currentID := node.entry.id.AsNode()

	for ; depth < len(elements); depth++ {
		elem := elements[depth]
		isTerminal := depth == len(elements)-1

		st, err := m.source.NodeState(currentID)
		if err != nil {
			return name.ItemID{}, err
		}

		if childID, found := matchChildNode(st, elem); found {
			node = m.cacheNode(node, elem, childID)
			currentID = childID
			continue
		}

		if isTerminal && elem.Index == 1 {
			if _, ok := st.Node.PropertyNames[elem.Name]; ok {
				return name.PropertyItemID(name.NewPropertyID(currentID, elem.Name)), nil
			}
		}

		return name.ItemID{}, contenterr.Wrap(contenterr.ErrPathNotFound, p.String())
	}

	return name.NodeItemID(currentID), nil
}

// matchChildNode implements the element-match preference order:
// child-node entries win over a same-named property.
func matchChildNode(st *itemstate.State, elem name.Element) (name.NodeID, bool) {
	for _, ce := range st.Node.ChildEntries {
		if ce.Name == elem.Name && ce.Index == elem.Index {
			return ce.Child, true
		}
	}
	return name.NodeID{}, false
}

// GetPath implements spec.md §4.2's getPath: return the cached path if
// known, else walk ancestors via the state layer, prepending each
// element, caching the result on the way back out.
func (m *Manager) GetPath(id name.ItemID) (name.Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPathLocked(id)
}

func (m *Manager) getPathLocked(id name.ItemID) (name.Path, error) {
	if e, ok := m.cache.get(id); ok {
		return e.path, nil
	}

	if !id.IsNode() {
		prop := id.AsProperty()
		parentPath, err := m.getPathLocked(name.NodeItemID(prop.Parent))
		if err != nil {
			return name.Path{}, err
		}
		return parentPath.Child(name.Element{Name: prop.Name, Index: 1}), nil
	}

	nodeID := id.AsNode()
	if nodeID.IsRoot() {
		return name.Root, nil
	}

	st, err := m.source.NodeState(nodeID)
	if err != nil {
		return name.Path{}, err
	}
	if !st.HasParent {
		return name.Path{}, contenterr.Wrap(contenterr.ErrItemNotFound, nodeID.String())
	}

	parentPath, err := m.getPathLocked(name.NodeItemID(st.ParentID))
	if err != nil {
		return name.Path{}, err
	}
	parentSt, err := m.source.NodeState(st.ParentID)
	if err != nil {
		return name.Path{}, err
	}

	elem, found := elementForChild(parentSt, nodeID)
	if !found {
		return name.Path{}, contenterr.Wrap(contenterr.ErrItemNotFound, nodeID.String())
	}

	parentTrie := m.trieNodeFor(st.ParentID, parentPath)
	node := m.cacheNode(parentTrie, elem, nodeID)
	return node.entry.path, nil
}

func elementForChild(parentSt *itemstate.State, childID name.NodeID) (name.Element, bool) {
	for _, ce := range parentSt.Node.ChildEntries {
		if ce.Child == childID {
			return name.Element{Name: ce.Name, Index: ce.Index}, true
		}
	}
	return name.Element{}, false
}

// trieNodeFor returns nodeID's trie position. By the time GetPath calls
// this, nodeID has always already been cached by the recursive walk
// that produced path (getPathLocked caches every ancestor it resolves
// on the way back out), except for the root itself.
func (m *Manager) trieNodeFor(nodeID name.NodeID, path name.Path) *trieNode {
	if nodeID.IsRoot() {
		return m.root
	}
	if e, ok := m.cache.get(name.NodeItemID(nodeID)); ok && e.node != nil {
		return e.node
	}
	return m.root
}

// cacheNode attaches (or refreshes) a child trie position under parent
// for elem -> id, registering an invalidation listener on the node's
// State the first time it is cached.
func (m *Manager) cacheNode(parent *trieNode, elem name.Element, id name.NodeID) *trieNode {
	if parent.children == nil {
		parent.children = make(map[name.Element]*trieNode)
	}
	if existing, ok := parent.children[elem]; ok {
		m.cache.get(existing.entry.id) // touch LRU
		return existing
	}

	parentPath := parent.entry.path
	childPath := parentPath.Child(elem)

	node := &trieNode{parent: parent, elem: elem, children: make(map[name.Element]*trieNode)}
	e := &entry{id: name.NodeItemID(id), path: childPath, node: node}
	node.entry = e

	parent.children[elem] = node
	m.cache.insert(e)
	m.registerListener(id)
	return node
}

func (m *Manager) registerListener(id name.NodeID) {
	key := id.String()
	if _, ok := m.listenerHandles[key]; ok {
		return
	}
	st, err := m.source.NodeState(id)
	if err != nil {
		return
	}
	handle := st.AddListener(itemstate.ListenerFunc(func(e itemstate.Event) {
		m.HandleStateEvent(e)
	}))
	m.listenerHandles[key] = handle
}

// Depth returns the element count of id's cached or resolved path.
func (m *Manager) Depth(id name.ItemID) (int, error) {
	p, err := m.GetPath(id)
	if err != nil {
		return 0, err
	}
	return p.Depth(), nil
}

// Name returns the leaf name of id's path, or the zero QName for root.
func (m *Manager) Name(id name.ItemID) (name.QName, error) {
	p, err := m.GetPath(id)
	if err != nil {
		return name.QName{}, err
	}
	leaf, ok := p.Leaf()
	if !ok {
		return name.QName{}, nil
	}
	return leaf.Name, nil
}

// IsAncestor reports whether ancestor's path is a proper prefix of
// descendant's path.
func (m *Manager) IsAncestor(ancestor, descendant name.ItemID) (bool, error) {
	ap, err := m.GetPath(ancestor)
	if err != nil {
		return false, err
	}
	dp, err := m.GetPath(descendant)
	if err != nil {
		return false, err
	}
	return ap.IsAncestorOf(dp) && ap.Depth() < dp.Depth(), nil
}
