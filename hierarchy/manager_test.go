package hierarchy

import (
	"testing"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	states map[name.NodeID]*itemstate.State
}

func newFakeSource() *fakeSource {
	return &fakeSource{states: make(map[name.NodeID]*itemstate.State)}
}

func (f *fakeSource) NodeState(id name.NodeID) (*itemstate.State, error) {
	st, ok := f.states[id]
	if !ok {
		return nil, contenterr.Wrap(contenterr.ErrItemNotFound, id.String())
	}
	return st, nil
}

func (f *fakeSource) put(st *itemstate.State) {
	f.states[st.ID.AsNode()] = st
}

func qn(local string) name.QName { return name.NewQName("", local) }

// buildFixture creates root -> a -> b, with property "p" on a.
func buildFixture() (*fakeSource, name.NodeID, name.NodeID) {
	src := newFakeSource()

	root := itemstate.NewNodeState(name.RootNodeID, name.NodeID{}, false, qn("nt:unstructured"))
	root.Status = itemstate.Existing

	aID := name.NewNodeID()
	a := itemstate.NewNodeState(aID, name.RootNodeID, true, qn("nt:unstructured"))
	a.Status = itemstate.Existing
	a.Node.PropertyNames[qn("p")] = struct{}{}

	bID := name.NewNodeID()
	b := itemstate.NewNodeState(bID, aID, true, qn("nt:unstructured"))
	b.Status = itemstate.Existing

	root.Node.ChildEntries = []itemstate.ChildNodeEntry{{Name: qn("a"), Index: 1, Child: aID}}
	a.Node.ChildEntries = []itemstate.ChildNodeEntry{{Name: qn("b"), Index: 1, Child: bID}}

	src.put(root)
	src.put(a)
	src.put(b)
	return src, aID, bID
}

func TestManager_ResolvePath_NodeChain(t *testing.T) {
	src, aID, bID := buildFixture()
	m := NewManager(src, 0)

	p := name.NewPath(name.Element{Name: qn("a"), Index: 1}, name.Element{Name: qn("b"), Index: 1})
	id, err := m.ResolvePath(p)
	require.NoError(t, err)
	assert.True(t, id.IsNode())
	assert.Equal(t, bID, id.AsNode())

	idA, err := m.ResolvePath(name.NewPath(name.Element{Name: qn("a"), Index: 1}))
	require.NoError(t, err)
	assert.Equal(t, aID, idA.AsNode())
}

func TestManager_ResolvePath_Property(t *testing.T) {
	src, _, _ := buildFixture()
	m := NewManager(src, 0)

	p := name.NewPath(name.Element{Name: qn("a"), Index: 1}, name.Element{Name: qn("p"), Index: 1})
	id, err := m.ResolvePath(p)
	require.NoError(t, err)
	assert.False(t, id.IsNode())
	assert.Equal(t, qn("p"), id.AsProperty().Name)
}

func TestManager_ResolvePath_NotFound(t *testing.T) {
	src, _, _ := buildFixture()
	m := NewManager(src, 0)

	_, err := m.ResolvePath(name.NewPath(name.Element{Name: qn("nope"), Index: 1}))
	assert.Error(t, err)
}

// TestManager_ResolvePath_RejectsNonCanonicalPath covers spec.md §4.2's
// "reject non-canonical paths with InvalidPath" and §8's boundary
// behavior: rejection happens with no cache mutation.
func TestManager_ResolvePath_RejectsNonCanonicalPath(t *testing.T) {
	src, _, _ := buildFixture()
	m := NewManager(src, 0)

	before := len(m.cache.byID)

	_, err := m.ResolvePath(name.NewPath(name.Element{Name: qn(".."), Index: 1}, name.Element{Name: qn("a"), Index: 1}))
	assert.ErrorIs(t, err, contenterr.ErrInvalidPath)
	assert.Equal(t, before, len(m.cache.byID))

	_, err = m.ResolvePath(name.NewPath(name.Element{Name: qn("a"), Index: 1}, name.Element{Name: qn("."), Index: 1}))
	assert.ErrorIs(t, err, contenterr.ErrInvalidPath)
	assert.Equal(t, before, len(m.cache.byID))
}

func TestManager_GetPath_WalksAndCaches(t *testing.T) {
	src, _, bID := buildFixture()
	m := NewManager(src, 0)

	p, err := m.GetPath(name.NodeItemID(bID))
	require.NoError(t, err)
	assert.Equal(t, "/a/b", p.String())

	// second call must hit the cache (no error, same result) without
	// needing the source again for the full chain.
	p2, err := m.GetPath(name.NodeItemID(bID))
	require.NoError(t, err)
	assert.True(t, p.Equal(p2))
}

func TestManager_IsAncestor(t *testing.T) {
	src, aID, bID := buildFixture()
	m := NewManager(src, 0)

	ok, err := m.IsAncestor(name.NodeItemID(aID), name.NodeItemID(bID))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsAncestor(name.NodeItemID(bID), name.NodeItemID(aID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_HandleStateEvent_DestroyedEvicts(t *testing.T) {
	src, aID, bID := buildFixture()
	m := NewManager(src, 0)

	_, err := m.GetPath(name.NodeItemID(bID))
	require.NoError(t, err)

	bState, err := src.NodeState(bID)
	require.NoError(t, err)
	m.HandleStateEvent(itemstate.Event{Kind: itemstate.EventDestroyed, State: bState})

	_, ok := m.cache.get(name.NodeItemID(bID))
	assert.False(t, ok, "destroyed node must be evicted from the cache")

	// parent a must remain cached.
	_, ok = m.cache.get(name.NodeItemID(aID))
	assert.True(t, ok)
}

func TestManager_HandleStateEvent_ModifiedEvictsStaleChild(t *testing.T) {
	src, aID, bID := buildFixture()
	m := NewManager(src, 0)

	_, err := m.GetPath(name.NodeItemID(bID))
	require.NoError(t, err)

	aState, err := src.NodeState(aID)
	require.NoError(t, err)
	aState.Node.ChildEntries = nil // b removed externally

	m.HandleStateEvent(itemstate.Event{Kind: itemstate.EventModified, State: aState})

	_, ok := m.cache.get(name.NodeItemID(bID))
	assert.False(t, ok, "child no longer listed in parent's entries must be evicted")
}

func TestLRU_EvictsLeafUnderCapacity(t *testing.T) {
	src := newFakeSource()
	root := itemstate.NewNodeState(name.RootNodeID, name.NodeID{}, false, qn("nt:unstructured"))
	root.Status = itemstate.Existing
	src.put(root)

	ids := make([]name.NodeID, 5)
	for i := range ids {
		ids[i] = name.NewNodeID()
		child := itemstate.NewNodeState(ids[i], name.RootNodeID, true, qn("nt:unstructured"))
		child.Status = itemstate.Existing
		src.put(child)
		root.Node.ChildEntries = append(root.Node.ChildEntries, itemstate.ChildNodeEntry{
			Name: qn("c"), Index: i + 1, Child: ids[i],
		})
	}

	m := NewManager(src, 2) // root is pinned; only 2 non-root entries fit
	for i := range ids {
		_, err := m.ResolvePath(name.NewPath(name.Element{Name: qn("c"), Index: i + 1}))
		require.NoError(t, err)
	}

	cached := 0
	for _, id := range ids {
		if _, ok := m.cache.get(name.NodeItemID(id)); ok {
			cached++
		}
	}
	assert.LessOrEqual(t, cached, 2, "cache must stay within capacity by evicting leaves")
}
