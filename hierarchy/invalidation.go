package hierarchy

import (
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

// HandleStateEvent implements itemstate.Listener. It is registered on
// every node State the manager caches and applies spec.md §4.2's
// invalidation rules, adapted to this engine's six-kind event model
// (Created/Modified/Destroyed/StatusChanged/Overlaid/Uncovered) in
// place of the separate nodeAdded/nodeRemoved/nodesReplaced events a
// dedicated hierarchy event bus would emit.
func (m *Manager) HandleStateEvent(e itemstate.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Kind {
	case itemstate.EventDestroyed:
		m.evictByID(e.State.ID, false)
	case itemstate.EventModified:
		m.reconcileChildren(e.State)
	case itemstate.EventStatusChanged:
		m.handleStatusChanged(e)
	case itemstate.EventOverlaid, itemstate.EventUncovered:
		// The overlay/persistent pair share one cached position; no
		// trie change is needed, only the listener registration would
		// need to move in a design with separate listener handles per
		// state. This engine's listener is attached once per cached
		// node id, so nothing further to do here.
	}
}

// handleStatusChanged applies the stateDiscarded rule: a transient
// state reverting to Removed with no persistent backing is dropped
// from the cache outright; any other status change is left to
// reconcileChildren/evictByID via the other event kinds.
func (m *Manager) handleStatusChanged(e itemstate.Event) {
	if e.To == itemstate.Removed && e.From == itemstate.New {
		m.evictByID(e.State.ID, false)
	}
}

// reconcileChildren implements spec.md §4.2's stateModified rule: for
// each cached child of node, evict it if node's current child entries
// no longer list it, or if the same name now maps to a different id.
func (m *Manager) reconcileChildren(node *itemstate.State) {
	e, ok := m.cache.get(node.ID)
	if !ok || e.node == nil {
		return
	}

	current := make(map[name.Element]name.NodeID, len(node.Node.ChildEntries))
	for _, ce := range node.Node.ChildEntries {
		current[name.Element{Name: ce.Name, Index: ce.Index}] = ce.Child
	}

	for elem, child := range e.node.children {
		wantID, stillPresent := current[elem]
		if !stillPresent {
			m.evictSubtree(child)
			continue
		}
		if wantID != child.entry.id.AsNode() {
			m.evictSubtree(child)
		}
	}
}

// evictByID removes the cache entry for a single item id together with
// its cached subtree. preserveSiblingShift does not change what is
// evicted.
func (m *Manager) evictByID(id name.ItemID, preserveSiblingShift bool) {
	e, ok := m.cache.get(id)
	if !ok {
		return
	}
	if e.node != nil {
		m.evictSubtree(e.node)
		return
	}
	m.cache.remove(e)
}

// evictSubtree removes node and every descendant it has cached,
// deregistering each one's invalidation listener.
func (m *Manager) evictSubtree(node *trieNode) {
	for _, child := range node.children {
		m.evictSubtree(child)
	}
	if node.parent != nil {
		delete(node.parent.children, node.elem)
	}
	m.cache.remove(node.entry)
	m.deregisterListener(node.entry.id)
}

func (m *Manager) deregisterListener(id name.ItemID) {
	if !id.IsNode() {
		return
	}
	key := id.AsNode().String()
	handle, ok := m.listenerHandles[key]
	if !ok {
		return
	}
	delete(m.listenerHandles, key)
	st, err := m.source.NodeState(id.AsNode())
	if err != nil {
		return
	}
	st.RemoveListener(handle)
}
